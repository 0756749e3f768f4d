// Package main provides the entry point for the modelnet node daemon.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/modelnet-labs/modelnet/internal/api"
	"github.com/modelnet-labs/modelnet/internal/discovery"
	"github.com/modelnet-labs/modelnet/internal/events"
	"github.com/modelnet-labs/modelnet/internal/license"
	"github.com/modelnet-labs/modelnet/internal/runner"
	"github.com/modelnet-labs/modelnet/internal/session"
	"github.com/modelnet-labs/modelnet/internal/shutdown"
	"github.com/modelnet-labs/modelnet/pkg/config"
	"github.com/modelnet-labs/modelnet/pkg/logger"
)

func main() {
	log := logger.New(slog.LevelInfo, true)

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	log = log.WithNode(nodeID)

	// Validate and activate this node's license before anything binds.
	validator := license.NewJWTValidator(&license.Config{
		Secret:      []byte(cfg.LicenseSecret),
		Fingerprint: license.Fingerprint(),
	}, log.Logger)
	if cfg.LicenseKey == "" {
		log.Error("LICENSE_KEY is required")
		os.Exit(1)
	}
	lic, err := validator.Activate(cfg.LicenseKey)
	if err != nil {
		log.Error("license activation failed", "error", err)
		os.Exit(1)
	}
	log.Info("license active", "summary", lic.Describe())

	bus := events.NewBus(64)
	registry := prometheus.NewRegistry()

	// Service runner hosts the license-permitted networks.
	run := runner.New(runner.Options{
		NodeID:            nodeID,
		ConfigDir:         cfg.NetworkConfigDir,
		HeartbeatInterval: cfg.HeartbeatInterval,
		HealthInterval:    cfg.HealthCheckInterval,
		LoadPerClient:     cfg.LoadPerClient,
		SessionTimeout:    cfg.SessionTimeout,
	}, validator, session.EchoBackend{}, bus, log.Logger)

	// Discovery advertises hosted networks and caches remote ones.
	disc := discovery.NewService(discovery.Options{
		NodeID:           nodeID,
		Port:             cfg.DiscoveryPort,
		BroadcastAddr:    cfg.DiscoveryBroadcast,
		AnnounceInterval: cfg.AnnounceInterval,
		Metrics:          discovery.NewMetrics(registry),
		Capabilities: discovery.Capabilities{
			MaxClients:        lic.MaxClients,
			AllowedModels:     lic.AllowedModels,
			CanCreateNetworks: lic.MaxNetworks > 0,
			CanJoinNetworks:   true,
		},
	}, validator, run, log.Logger)

	statusServer := api.NewServer(run, disc, nil, registry, log.Logger)

	coordinator := shutdown.NewCoordinator(
		shutdown.WithTimeout(cfg.ShutdownTimeout),
		shutdown.WithLogger(log.Logger),
	)

	ctx := context.Background()

	if err := run.Start(ctx); err != nil {
		log.Error("failed to start service runner", "error", err)
		os.Exit(1)
	}
	coordinator.Register(run)

	if err := disc.Start(ctx); err != nil {
		log.Error("failed to start discovery", "error", err)
		run.StopAll()
		os.Exit(1)
	}
	coordinator.Register(disc)

	addr := fmt.Sprintf("%s:%d", cfg.StatusHost, cfg.StatusPort)
	if err := statusServer.Start(addr); err != nil {
		log.Error("failed to start status server", "error", err)
		os.Exit(1)
	}
	coordinator.Register(statusServer)

	// Warm the discovery cache so the first status poll has peers.
	go func() {
		probeCtx, cancel := context.WithTimeout(ctx, 2*cfg.DiscoveryTimeout)
		defer cancel()
		networks, err := disc.Discover(probeCtx, cfg.DiscoveryTimeout)
		if err != nil {
			log.Warn("initial discovery probe failed", "error", err)
			return
		}
		log.Info("initial discovery complete", "networks", len(networks))
	}()

	// Surface notifications in the log until a dashboard subscribes.
	go func() {
		for e := range bus.Subscribe() {
			log.Info("event",
				"kind", string(e.Kind),
				"network_id", e.NetworkID,
				"status", e.Status,
				"new_primary", e.NewPrimary,
				"reason", e.Reason,
			)
		}
	}()

	log.Info("node started",
		"status_addr", addr,
		"discovery_port", cfg.DiscoveryPort,
	)

	coordinator.WaitForSignal()
	coordinator.Wait()
	bus.Close()
	os.Exit(coordinator.ExitCode())
}
