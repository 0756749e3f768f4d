package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/modelnet-labs/modelnet/internal/discovery"
	"github.com/modelnet-labs/modelnet/internal/events"
	"github.com/modelnet-labs/modelnet/internal/license"
	"github.com/modelnet-labs/modelnet/internal/models"
	"github.com/modelnet-labs/modelnet/internal/session"
)

// Common errors returned by the runner.
var (
	ErrLicenseInvalid  = errors.New("license is missing or invalid")
	ErrNetworkLimit    = errors.New("license network limit reached")
	ErrModelNotAllowed = errors.New("license does not allow this model")
	ErrDuplicateID     = errors.New("network id already hosted")
	ErrNotHosted       = errors.New("network is not hosted")
)

// Options configures the service runner.
type Options struct {
	NodeID            string
	ConfigDir         string
	HeartbeatInterval time.Duration
	HealthInterval    time.Duration
	LoadPerClient     int
	// SessionTimeout is the per-connection idle eviction window.
	SessionTimeout time.Duration
	// StopTimeout bounds how long one network may take to stop.
	StopTimeout time.Duration
}

// Runner starts, supervises, and stops every network hosted by this process.
// License validity is a global precondition: when it lapses, the health
// monitor stops everything rather than degrading partially.
type Runner struct {
	opts      Options
	validator license.Validator
	backend   session.Backend
	bus       *events.Bus
	logger    *slog.Logger

	mu        sync.RWMutex
	networks  map[string]*NetworkService
	startTime time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a service runner.
func New(opts Options, validator license.Validator, backend session.Backend, bus *events.Bus, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = 60 * time.Second
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 10 * time.Second
	}
	return &Runner{
		opts:      opts,
		validator: validator,
		backend:   backend,
		bus:       bus,
		logger:    logger.With("component", "runner"),
		networks:  make(map[string]*NetworkService),
	}
}

// Start discovers configuration files, starts every license-permitted
// network, and launches the supervisory loops. Per-network start failures are
// logged and recorded; they never abort sibling startups.
func (r *Runner) Start(ctx context.Context) error {
	r.baseCtx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
	r.mu.Lock()
	r.startTime = time.Now()
	r.mu.Unlock()

	for _, cfg := range LoadConfigs(r.opts.ConfigDir, r.logger) {
		if err := r.StartNetwork(cfg); err != nil {
			r.logger.Warn("network start failed",
				"network_id", cfg.NetworkID,
				"model_id", cfg.ModelID,
				"error", err,
			)
		}
	}

	r.wg.Add(2)
	go r.heartbeatLoop()
	go r.healthLoop()

	r.logger.Info("service runner started",
		"networks", len(r.RunningNetworks()),
		"config_dir", r.opts.ConfigDir,
	)
	return nil
}

// StartNetwork starts hosting one network. Capacity enforcement runs before
// any side effect: a rejected start leaves already-running networks untouched.
// A bind failure leaves the network registered in ERROR; the heartbeat
// monitor retries it.
func (r *Runner) StartNetwork(cfg *models.NetworkConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	lic := r.validator.CurrentLicense()
	if lic.Status() != models.LicenseStatusValid {
		return ErrLicenseInvalid
	}
	if !lic.ModelAllowed(cfg.ModelID) {
		return fmt.Errorf("%w: %s", ErrModelNotAllowed, cfg.ModelID)
	}

	r.mu.Lock()
	if _, exists := r.networks[cfg.NetworkID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateID, cfg.NetworkID)
	}
	if lic.MaxNetworks > 0 && r.activeCountLocked() >= lic.MaxNetworks {
		r.mu.Unlock()
		return fmt.Errorf("%w: max %d", ErrNetworkLimit, lic.MaxNetworks)
	}
	svc := newNetworkService(cfg)
	r.networks[cfg.NetworkID] = svc
	r.mu.Unlock()

	listener := session.NewListener(cfg, r.validator, r.backend, session.Options{
		NodeID:        r.opts.NodeID,
		LoadPerClient: r.opts.LoadPerClient,
		IdleTimeout:   r.opts.SessionTimeout,
	}, r.logger)

	if err := listener.Start(r.baseCtx); err != nil {
		svc.RecordError(err.Error())
		svc.setStatus(models.NetworkError)
		r.publishStatus(cfg.NetworkID, models.NetworkError)
		return fmt.Errorf("starting network %s: %w", cfg.NetworkID, err)
	}

	svc.setRunning(listener)
	r.publishStatus(cfg.NetworkID, models.NetworkRunning)
	r.bus.Publish(events.Event{Kind: events.KindNetworkStarted, NetworkID: cfg.NetworkID})
	r.logger.Info("network started",
		"network_id", cfg.NetworkID,
		"model_id", cfg.ModelID,
		"addr", listener.Addr(),
	)
	return nil
}

// StopNetwork stops one hosted network and destroys its service record.
// In-flight responses are allowed to complete before its sockets close.
func (r *Runner) StopNetwork(networkID string) error {
	r.mu.Lock()
	svc, ok := r.networks[networkID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotHosted, networkID)
	}
	delete(r.networks, networkID)
	r.mu.Unlock()

	svc.setStatus(models.NetworkStopped)
	if ln := svc.Listener(); ln != nil {
		ctx, cancel := context.WithTimeout(context.Background(), r.opts.StopTimeout)
		defer cancel()
		if err := ln.Shutdown(ctx); err != nil {
			r.logger.Warn("listener shutdown error", "network_id", networkID, "error", err)
		}
	}

	r.publishStatus(networkID, models.NetworkStopped)
	r.bus.Publish(events.Event{Kind: events.KindNetworkStopped, NetworkID: networkID})
	r.logger.Info("network stopped", "network_id", networkID)
	return nil
}

// RestartNetwork stops one network and starts it again with a fresh start
// time. No other network is touched.
func (r *Runner) RestartNetwork(networkID string) error {
	r.mu.RLock()
	svc, ok := r.networks[networkID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotHosted, networkID)
	}
	cfg := svc.Config

	if err := r.StopNetwork(networkID); err != nil {
		return err
	}
	return r.StartNetwork(cfg)
}

// StopAll stops every hosted network.
func (r *Runner) StopAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.networks))
	for id := range r.networks {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		if err := r.StopNetwork(id); err != nil {
			r.logger.Warn("stop failed", "network_id", id, "error", err)
		}
	}
}

// RunningNetworks lists the IDs of RUNNING networks in sorted order.
func (r *Runner) RunningNetworks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, svc := range r.networks {
		if svc.Status() == models.NetworkRunning {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// activeCountLocked counts networks holding a capacity slot.
func (r *Runner) activeCountLocked() int {
	count := 0
	for _, svc := range r.networks {
		switch svc.Status() {
		case models.NetworkStarting, models.NetworkRunning:
			count++
		}
	}
	return count
}

// heartbeatLoop restarts any RUNNING network whose heartbeat has gone stale
// and retries networks stuck in ERROR after a failed start.
func (r *Runner) heartbeatLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.baseCtx.Done():
			return
		case <-ticker.C:
			r.checkHeartbeats()
		}
	}
}

func (r *Runner) checkHeartbeats() {
	cutoff := time.Now().Add(-r.opts.HeartbeatInterval)

	r.mu.RLock()
	var stale, failed []string
	for id, svc := range r.networks {
		switch svc.Status() {
		case models.NetworkRunning:
			if svc.LastHeartbeat().Before(cutoff) {
				stale = append(stale, id)
			}
		case models.NetworkError:
			// A failed start stays registered in ERROR; retry it here.
			failed = append(failed, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range stale {
		r.logger.Warn("heartbeat stalled, restarting network", "network_id", id)
		r.mu.RLock()
		svc, ok := r.networks[id]
		r.mu.RUnlock()
		if ok {
			svc.RecordError("heartbeat stalled")
		}
		if err := r.RestartNetwork(id); err != nil {
			r.logger.Error("restart failed", "network_id", id, "error", err)
		}
	}
	for _, id := range failed {
		r.logger.Warn("retrying failed network", "network_id", id)
		if err := r.RestartNetwork(id); err != nil {
			r.logger.Error("retry failed", "network_id", id, "error", err)
		}
	}
}

// healthLoop re-validates the license. An invalid or expired license stops
// every hosted network: serving without a valid license would break the
// product's access-control invariant, so this fails closed.
func (r *Runner) healthLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.opts.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.baseCtx.Done():
			return
		case <-ticker.C:
			r.checkLicense()
		}
	}
}

func (r *Runner) checkLicense() {
	lic := r.validator.CurrentLicense()
	status := lic.Status()
	if status == models.LicenseStatusValid {
		return
	}

	r.mu.RLock()
	hosting := len(r.networks)
	r.mu.RUnlock()
	if hosting == 0 {
		return
	}

	r.logger.Error("license check failed, stopping all networks", "license_status", string(status))
	r.bus.Publish(events.Event{
		Kind:   events.KindLicenseInvalid,
		Reason: string(status),
	})
	r.StopAll()
}

// AdvertisedNetworks implements discovery.NetworkSource.
func (r *Runner) AdvertisedNetworks() []discovery.NetworkDescriptor {
	lic := r.validator.CurrentLicense()
	maxClients := 0
	if lic != nil {
		maxClients = lic.MaxClients
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	descs := make([]discovery.NetworkDescriptor, 0, len(r.networks))
	for _, svc := range r.networks {
		state := discovery.NetworkInactive
		clients := 0
		if svc.Status() == models.NetworkRunning {
			state = discovery.NetworkActive
			if ln := svc.Listener(); ln != nil {
				clients = ln.ConnectedClients()
			}
		}
		descs = append(descs, discovery.NetworkDescriptor{
			NetworkID:      svc.Config.NetworkID,
			NetworkName:    svc.Config.NetworkID,
			ModelID:        svc.Config.ModelID,
			RequiredTier:   svc.Config.RequiredTier,
			Status:         state,
			MaxClients:     maxClients,
			CurrentClients: clients,
			Host:           svc.Config.Host,
			Port:           svc.Config.Port,
		})
	}
	sort.Slice(descs, func(i, j int) bool { return descs[i].NetworkID < descs[j].NetworkID })
	return descs
}

// Name implements the shutdown component interface.
func (r *Runner) Name() string { return "runner" }

// Shutdown stops the supervisory loops and every hosted network.
func (r *Runner) Shutdown(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	r.StopAll()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) publishStatus(networkID string, status models.NetworkStatus) {
	r.bus.Publish(events.Event{
		Kind:      events.KindStatusChange,
		NetworkID: networkID,
		Status:    string(status),
	})
}
