package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modelnet-labs/modelnet/internal/events"
	"github.com/modelnet-labs/modelnet/internal/models"
	"github.com/modelnet-labs/modelnet/internal/protocol"
)

// Common errors returned by the routing client.
var (
	ErrNoActiveNetworks = errors.New("no active networks")
	ErrNetworkExists    = errors.New("network already added")
	ErrNetworkNotFound  = errors.New("network not found")
)

// Options configures a routing client.
type Options struct {
	// License is this node's validated license snapshot. Its key
	// authenticates every connection.
	License        *models.LicenseInfo
	Strategy       Strategy
	MaxErrorCount  int
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// Client owns connections to multiple networks simultaneously and routes
// each request according to the active strategy, failing over automatically.
type Client struct {
	opts   Options
	bus    *events.Bus
	logger *slog.Logger

	// dial is swappable for tests.
	dial func(ctx context.Context, cfg *models.NetworkConfig) (transport, error)

	mu       sync.Mutex
	conns    map[string]*NetworkConnection
	order    []string
	lastUsed string
	primary  string
	sessions map[string]*Session

	totalRequests uint64
	totalSuccess  uint64
	totalFailure  uint64
}

// NewClient creates a routing client publishing failover and status-change
// notifications on the bus.
func NewClient(opts Options, bus *events.Bus, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxErrorCount <= 0 {
		opts.MaxErrorCount = 3
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyPriority
	}
	c := &Client{
		opts:     opts,
		bus:      bus,
		logger:   logger.With("component", "routing"),
		conns:    make(map[string]*NetworkConnection),
		sessions: make(map[string]*Session),
	}
	c.dial = func(ctx context.Context, cfg *models.NetworkConfig) (transport, error) {
		return dialWebsocket(ctx, cfg, c.opts.License, c.opts.ConnectTimeout)
	}
	return c
}

// AddNetwork registers a network and connects to it. The first network to
// connect becomes primary. A failed dial leaves the network registered in
// ERROR state so it can be reconnected later.
func (c *Client) AddNetwork(ctx context.Context, cfg *models.NetworkConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid network config: %w", err)
	}

	c.mu.Lock()
	if _, ok := c.conns[cfg.NetworkID]; ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNetworkExists, cfg.NetworkID)
	}
	nc := newNetworkConnection(cfg)
	nc.status = models.ConnConnecting
	c.conns[cfg.NetworkID] = nc
	c.order = append(c.order, cfg.NetworkID)
	c.mu.Unlock()

	c.publishStatus(cfg.NetworkID, models.ConnConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()
	tr, err := c.dial(dialCtx, cfg)

	c.mu.Lock()
	if err != nil {
		nc.mu.Lock()
		nc.status = models.ConnError
		nc.mu.Unlock()
		c.mu.Unlock()
		c.publishStatus(cfg.NetworkID, models.ConnError)
		return fmt.Errorf("connecting to %s: %w", cfg.NetworkID, err)
	}
	nc.mu.Lock()
	nc.tr = tr
	nc.status = models.ConnConnected
	nc.errorCount = 0
	nc.mu.Unlock()
	if c.primary == "" {
		c.primary = cfg.NetworkID
	}
	c.mu.Unlock()

	c.publishStatus(cfg.NetworkID, models.ConnConnected)
	c.logger.Info("network added", "network_id", cfg.NetworkID, "model_id", cfg.ModelID)
	return nil
}

// RemoveNetwork disconnects and forgets a network.
func (c *Client) RemoveNetwork(networkID string) error {
	c.mu.Lock()
	nc, ok := c.conns[networkID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNetworkNotFound, networkID)
	}
	delete(c.conns, networkID)
	for i, id := range c.order {
		if id == networkID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	if c.primary == networkID {
		c.primary = c.opts.Strategy.pick(c.connectedLocked(), c.conns, c.lastUsed)
	}
	c.mu.Unlock()

	nc.mu.Lock()
	tr := nc.tr
	nc.tr = nil
	nc.status = models.ConnDisconnected
	nc.mu.Unlock()
	if tr != nil {
		_ = tr.close()
	}

	c.publishStatus(networkID, models.ConnDisconnected)
	c.logger.Info("network removed", "network_id", networkID)
	return nil
}

// Reconnect re-dials a network that is not currently connected and clears
// its error count.
func (c *Client) Reconnect(ctx context.Context, networkID string) error {
	c.mu.Lock()
	nc, ok := c.conns[networkID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNetworkNotFound, networkID)
	}
	cfg := nc.cfg
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()
	tr, err := c.dial(dialCtx, cfg)
	if err != nil {
		return fmt.Errorf("reconnecting to %s: %w", networkID, err)
	}

	c.mu.Lock()
	nc.mu.Lock()
	if nc.tr != nil {
		_ = nc.tr.close()
	}
	nc.tr = tr
	nc.status = models.ConnConnected
	nc.errorCount = 0
	nc.mu.Unlock()
	if c.primary == "" {
		c.primary = networkID
	}
	c.mu.Unlock()

	c.publishStatus(networkID, models.ConnConnected)
	return nil
}

// SelectNetwork returns the network to serve the next request. A preferred
// ID is honored only while that network is connected; otherwise the active
// strategy chooses among connected networks. Returns "" when none are
// connected. It never fails for an unknown or inactive preferred ID.
func (c *Client) SelectNetwork(preferredID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectLocked(preferredID)
}

func (c *Client) selectLocked(preferredID string) string {
	if preferredID != "" {
		if nc, ok := c.conns[preferredID]; ok && nc.Status() == models.ConnConnected {
			return preferredID
		}
	}
	return c.opts.Strategy.pick(c.connectedLocked(), c.conns, c.lastUsed)
}

// connectedLocked returns connected network IDs in registration order.
func (c *Client) connectedLocked() []string {
	var connected []string
	for _, id := range c.order {
		if c.conns[id].Status() == models.ConnConnected {
			connected = append(connected, id)
		}
	}
	return connected
}

// Send routes one inference request. Session affinity applies when the
// request carries a session ID: the first network to serve the session is
// preferred for its later requests and silently replaced once inactive.
func (c *Client) Send(ctx context.Context, req *protocol.InferenceRequest) (*protocol.InferenceResponse, error) {
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	c.mu.Lock()
	preferred := ""
	if s, ok := c.sessions[req.SessionID]; ok {
		preferred = s.LastNetwork
	}
	networkID := c.selectLocked(preferred)
	if networkID == "" {
		c.mu.Unlock()
		return nil, ErrNoActiveNetworks
	}
	nc := c.conns[networkID]
	c.lastUsed = networkID
	c.totalRequests++
	c.mu.Unlock()

	msg := protocol.NewMessage(protocol.TypeInferenceRequest, mustPayload(req), c.opts.License)

	reqCtx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	nc.mu.RLock()
	tr := nc.tr
	nc.mu.RUnlock()
	if tr == nil {
		c.recordFailure(networkID, nc)
		return nil, fmt.Errorf("network %s has no transport", networkID)
	}

	start := time.Now()
	reply, err := tr.roundTrip(reqCtx, msg)
	if err != nil {
		c.recordFailure(networkID, nc)
		return nil, fmt.Errorf("request to %s failed: %w", networkID, err)
	}

	if reply.Header.Type == protocol.TypeError {
		// A protocol-level rejection is answered by a healthy network; it
		// is surfaced to the caller without feeding failover.
		var perr protocol.Error
		if decodeErr := reply.DecodePayload(&perr); decodeErr != nil {
			c.recordFailure(networkID, nc)
			return nil, fmt.Errorf("malformed error reply from %s: %w", networkID, decodeErr)
		}
		nc.recordSuccess(time.Since(start))
		c.noteSuccess(req.SessionID, networkID)
		return nil, &perr
	}

	var resp protocol.InferenceResponse
	if err := reply.DecodePayload(&resp); err != nil {
		c.recordFailure(networkID, nc)
		return nil, fmt.Errorf("malformed response from %s: %w", networkID, err)
	}

	nc.recordSuccess(time.Since(start))
	c.noteSuccess(req.SessionID, networkID)
	return &resp, nil
}

// noteSuccess updates aggregate counters and session affinity.
func (c *Client) noteSuccess(sessionID, networkID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalSuccess++
	s, ok := c.sessions[sessionID]
	if !ok {
		s = &Session{SessionID: sessionID, CreatedAt: time.Now()}
		c.sessions[sessionID] = s
	}
	s.LastNetwork = networkID
}

// recordFailure counts a failed request and runs failover when the network
// exhausts its error budget. The removal from the active set, the primary
// re-selection, and the notifications happen under one lock so observers
// never see a primary outside the active set.
func (c *Client) recordFailure(networkID string, nc *NetworkConnection) {
	exhausted := nc.recordFailure(c.opts.MaxErrorCount)

	c.mu.Lock()
	c.totalFailure++
	if !exhausted {
		c.mu.Unlock()
		return
	}

	nc.mu.Lock()
	nc.status = models.ConnError
	tr := nc.tr
	nc.tr = nil
	nc.mu.Unlock()
	if tr != nil {
		_ = tr.close()
	}

	newPrimary := c.primary
	if c.primary == networkID {
		// The failed network is no longer connected, so the strategy can
		// never re-select it.
		newPrimary = c.opts.Strategy.pick(c.connectedLocked(), c.conns, c.lastUsed)
		c.primary = newPrimary
	}
	c.mu.Unlock()

	c.publishStatus(networkID, models.ConnError)
	c.bus.Publish(events.Event{
		Kind:       events.KindFailover,
		NetworkID:  networkID,
		NewPrimary: newPrimary,
	})
	c.logger.Warn("network failed over",
		"network_id", networkID,
		"new_primary", newPrimary,
	)
}

// Primary returns the current primary network ID.
func (c *Client) Primary() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.primary
}

// SetStrategy switches the active selection strategy.
func (c *Client) SetStrategy(s Strategy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts.Strategy = s
}

// AggregateStats summarizes the client across all networks.
type AggregateStats struct {
	TotalRequests  uint64         `json:"total_requests"`
	TotalSuccess   uint64         `json:"total_success"`
	TotalFailure   uint64         `json:"total_failure"`
	SuccessRate    float64        `json:"success_rate"`
	ActiveNetworks int            `json:"active_networks"`
	TotalNetworks  int            `json:"total_networks"`
	Primary        string         `json:"primary"`
	Strategy       Strategy       `json:"strategy"`
	ActiveSessions int            `json:"active_sessions"`
	Networks       []NetworkStats `json:"networks"`
}

// Stats returns per-network and aggregate statistics.
func (c *Client) Stats() AggregateStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	agg := AggregateStats{
		TotalRequests:  c.totalRequests,
		TotalSuccess:   c.totalSuccess,
		TotalFailure:   c.totalFailure,
		TotalNetworks:  len(c.order),
		Primary:        c.primary,
		Strategy:       c.opts.Strategy,
		ActiveSessions: len(c.sessions),
	}
	if c.totalRequests > 0 {
		agg.SuccessRate = float64(c.totalSuccess) / float64(c.totalRequests)
	}
	for _, id := range c.order {
		st := c.conns[id].stats()
		if st.Status == models.ConnConnected {
			agg.ActiveNetworks++
		}
		agg.Networks = append(agg.Networks, st)
	}
	return agg
}

// Name implements the shutdown component interface.
func (c *Client) Name() string { return "routing" }

// Shutdown disconnects every network.
func (c *Client) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	conns := make([]*NetworkConnection, 0, len(c.conns))
	for _, nc := range c.conns {
		conns = append(conns, nc)
	}
	c.primary = ""
	c.mu.Unlock()

	for _, nc := range conns {
		nc.mu.Lock()
		tr := nc.tr
		nc.tr = nil
		nc.status = models.ConnDisconnected
		nc.mu.Unlock()
		if tr != nil {
			_ = tr.close()
		}
	}
	return nil
}

func (c *Client) publishStatus(networkID string, status models.ConnectionStatus) {
	c.bus.Publish(events.Event{
		Kind:      events.KindStatusChange,
		NetworkID: networkID,
		Status:    string(status),
	})
}

// mustPayload converts a typed payload, which cannot fail for the request
// structs defined in protocol.
func mustPayload(v any) map[string]any {
	payload, err := protocol.PayloadOf(v)
	if err != nil {
		return map[string]any{}
	}
	return payload
}
