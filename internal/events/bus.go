// Package events provides the notification bus that decouples the core from
// whatever consumes failover and lifecycle notifications (logging, dashboards,
// telemetry). Producers publish without blocking; slow subscribers drop.
package events

import (
	"sync"
	"time"
)

// Kind identifies the notification variant.
type Kind string

const (
	// KindFailover is published when a network is removed from the active
	// set and a new primary is selected.
	KindFailover Kind = "failover"
	// KindStatusChange is published whenever a network or connection
	// changes lifecycle state.
	KindStatusChange Kind = "status_change"
	// KindNetworkStarted is published when a hosted network reaches RUNNING.
	KindNetworkStarted Kind = "network_started"
	// KindNetworkStopped is published when a hosted network stops.
	KindNetworkStopped Kind = "network_stopped"
	// KindLicenseInvalid is published when the health monitor fails the
	// license check and stops all hosted networks.
	KindLicenseInvalid Kind = "license_invalid"
)

// Event is a single notification.
type Event struct {
	Kind      Kind   `json:"kind"`
	NetworkID string `json:"network_id,omitempty"`
	// NewPrimary is set on failover events.
	NewPrimary string    `json:"new_primary,omitempty"`
	Status     string    `json:"status,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Bus fans events out to subscribers. Publishing never blocks: an event is
// dropped for a subscriber whose buffer is full.
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan Event
	closed      bool
	bufferSize  int
}

// NewBus creates a bus whose subscriber channels buffer bufferSize events.
func NewBus(bufferSize int) *Bus {
	if bufferSize < 1 {
		bufferSize = 16
	}
	return &Bus{bufferSize: bufferSize}
}

// Subscribe registers a new subscriber and returns its receive channel.
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, b.bufferSize)
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Publish delivers the event to every subscriber that has buffer space.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close closes all subscriber channels. Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}
