// Package runner owns the lifecycle of every network this process hosts,
// enforces license-derived limits, and supervises health.
package runner

import (
	"sync"
	"time"

	"github.com/modelnet-labs/modelnet/internal/models"
	"github.com/modelnet-labs/modelnet/internal/session"
)

// errorBufferSize is how many recent error messages each network retains.
const errorBufferSize = 10

// NetworkService wraps one hosted network: its immutable config, its session
// listener, and its supervisory state. It is created on start and destroyed
// on stop; only the runner and its monitor loops mutate it.
type NetworkService struct {
	Config *models.NetworkConfig

	mu        sync.RWMutex
	status    models.NetworkStatus
	startTime time.Time
	listener  *session.Listener
	errors    *models.ErrorRing
}

func newNetworkService(cfg *models.NetworkConfig) *NetworkService {
	return &NetworkService{
		Config: cfg,
		status: models.NetworkStarting,
		errors: models.NewErrorRing(errorBufferSize),
	}
}

// Status returns the lifecycle state.
func (s *NetworkService) Status() models.NetworkStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *NetworkService) setStatus(status models.NetworkStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *NetworkService) setRunning(listener *session.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = listener
	s.status = models.NetworkRunning
	s.startTime = time.Now()
}

// Listener returns the session listener, or nil before start completes.
func (s *NetworkService) Listener() *session.Listener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listener
}

// StartTime returns when the network last reached RUNNING.
func (s *NetworkService) StartTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startTime
}

// RecordError appends to the bounded error buffer.
func (s *NetworkService) RecordError(msg string) {
	s.errors.Add(msg)
}

// RecentErrors lists the retained error messages, oldest first.
func (s *NetworkService) RecentErrors() []string {
	return s.errors.List()
}

// LastHeartbeat returns the listener's liveness timestamp, or the start time
// before the listener exists.
func (s *NetworkService) LastHeartbeat() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return s.startTime
	}
	return s.listener.LastHeartbeat()
}
