package models

import (
	"fmt"
	"sync"
)

// NetworkStatus is the lifecycle state of a hosted network service.
type NetworkStatus string

const (
	NetworkStopped  NetworkStatus = "STOPPED"
	NetworkStarting NetworkStatus = "STARTING"
	NetworkRunning  NetworkStatus = "RUNNING"
	NetworkError    NetworkStatus = "ERROR"
)

// ConnectionStatus is the state of a routing-client connection to a network.
type ConnectionStatus string

const (
	ConnDisconnected ConnectionStatus = "DISCONNECTED"
	ConnConnecting   ConnectionStatus = "CONNECTING"
	ConnConnected    ConnectionStatus = "CONNECTED"
	ConnError        ConnectionStatus = "ERROR"
)

// NodeAddr is the advertised address of a worker node inside a network.
type NodeAddr struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// NetworkConfig describes one license-gated, model-serving network.
// It is immutable once loaded from configuration discovery.
type NetworkConfig struct {
	NetworkID string `json:"network_id" yaml:"network_id"`
	ModelID   string `json:"model_id" yaml:"model_id"`
	Host      string `json:"host" yaml:"host"`
	Port      int    `json:"port" yaml:"port"`

	// ModelChainOrder is the execution order of the model's sub-units.
	// Opaque to the core; carried for the model-delivery collaborator.
	ModelChainOrder []string `json:"model_chain_order" yaml:"model_chain_order"`

	// Paths is an opaque map for the model-delivery collaborator.
	Paths map[string]string `json:"paths,omitempty" yaml:"paths,omitempty"`

	Nodes map[string]NodeAddr `json:"nodes,omitempty" yaml:"nodes,omitempty"`

	// RequiredTier gates discovery visibility of this network.
	RequiredTier LicenseTier `json:"required_tier" yaml:"required_tier"`
}

// Validate checks that the config names a network and a model.
func (c *NetworkConfig) Validate() error {
	if c.NetworkID == "" {
		return fmt.Errorf("network_id is required")
	}
	if c.ModelID == "" {
		return fmt.Errorf("model_id is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	return nil
}

// Endpoint returns the host:port the network's session listener binds.
func (c *NetworkConfig) Endpoint() string {
	host := c.Host
	if host == "" {
		host = "0.0.0.0"
	}
	return fmt.Sprintf("%s:%d", host, c.Port)
}

// ErrorRing is a bounded buffer of the most recent error messages.
// The zero value is not usable; construct with NewErrorRing.
type ErrorRing struct {
	mu   sync.Mutex
	buf  []string
	next int
	full bool
}

// NewErrorRing creates a ring that retains the last size errors.
func NewErrorRing(size int) *ErrorRing {
	if size < 1 {
		size = 1
	}
	return &ErrorRing{buf: make([]string, size)}
}

// Add records an error message, evicting the oldest when full.
func (r *ErrorRing) Add(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = msg
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// List returns the retained errors, oldest first.
func (r *ErrorRing) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		out := make([]string, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]string, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}
