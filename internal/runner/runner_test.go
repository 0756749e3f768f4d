package runner

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelnet-labs/modelnet/internal/discovery"
	"github.com/modelnet-labs/modelnet/internal/events"
	"github.com/modelnet-labs/modelnet/internal/models"
	"github.com/modelnet-labs/modelnet/internal/session"
)

// stubValidator serves a swappable license snapshot.
type stubValidator struct {
	mu   sync.Mutex
	info *models.LicenseInfo
}

func (s *stubValidator) CurrentLicense() *models.LicenseInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

func (s *stubValidator) Validate(string) (*models.LicenseInfo, error) {
	return s.CurrentLicense(), nil
}

func (s *stubValidator) set(info *models.LicenseInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info = info
}

func proLicense(maxNetworks int) *models.LicenseInfo {
	return &models.LicenseInfo{
		Tier:          models.TierPro,
		ExpiresAt:     time.Now().Add(time.Hour),
		MaxClients:    10,
		MaxNetworks:   maxNetworks,
		AllowedModels: []string{"*"},
		Valid:         true,
	}
}

func networkConfig(id, model string) *models.NetworkConfig {
	return &models.NetworkConfig{
		NetworkID: id,
		ModelID:   model,
		Host:      "127.0.0.1",
		Port:      0,
	}
}

type runnerHarness struct {
	runner    *Runner
	validator *stubValidator
	bus       *events.Bus
	events    <-chan events.Event
}

func newRunnerHarness(t *testing.T, lic *models.LicenseInfo) *runnerHarness {
	t.Helper()

	validator := &stubValidator{info: lic}
	bus := events.NewBus(64)
	t.Cleanup(bus.Close)

	r := New(Options{
		NodeID:      "test-node",
		ConfigDir:   t.TempDir(),
		StopTimeout: 2 * time.Second,
	}, validator, session.EchoBackend{}, bus, nil)

	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})

	return &runnerHarness{
		runner:    r,
		validator: validator,
		bus:       bus,
		events:    bus.Subscribe(),
	}
}

func (h *runnerHarness) waitEvent(t *testing.T, kind events.Kind) events.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-h.events:
			if e.Kind == kind {
				return e
			}
		case <-deadline:
			t.Fatalf("no %s event received", kind)
		}
	}
}

func (h *runnerHarness) startTimeOf(t *testing.T, networkID string) time.Time {
	t.Helper()
	return serviceStartTime(h.runner, networkID)
}

func serviceStartTime(r *Runner, networkID string) time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.networks[networkID].StartTime()
}

func TestStartNetworkAndStop(t *testing.T) {
	h := newRunnerHarness(t, proLicense(5))

	require.NoError(t, h.runner.StartNetwork(networkConfig("net-1", "llama-7b")))
	assert.Equal(t, []string{"net-1"}, h.runner.RunningNetworks())
	h.waitEvent(t, events.KindNetworkStarted)

	require.NoError(t, h.runner.StopNetwork("net-1"))
	assert.Empty(t, h.runner.RunningNetworks())
	h.waitEvent(t, events.KindNetworkStopped)

	assert.ErrorIs(t, h.runner.StopNetwork("net-1"), ErrNotHosted)
}

// The license network limit is enforced before any side effect: the rejected
// start leaves the running networks untouched.
func TestNetworkLimitEnforced(t *testing.T) {
	h := newRunnerHarness(t, proLicense(2))

	require.NoError(t, h.runner.StartNetwork(networkConfig("net-1", "llama-7b")))
	require.NoError(t, h.runner.StartNetwork(networkConfig("net-2", "llama-7b")))

	err := h.runner.StartNetwork(networkConfig("net-3", "llama-7b"))
	assert.ErrorIs(t, err, ErrNetworkLimit)
	assert.Equal(t, []string{"net-1", "net-2"}, h.runner.RunningNetworks())

	// Stopping one frees its slot.
	require.NoError(t, h.runner.StopNetwork("net-1"))
	assert.NoError(t, h.runner.StartNetwork(networkConfig("net-3", "llama-7b")))
}

func TestDuplicateNetworkID(t *testing.T) {
	h := newRunnerHarness(t, proLicense(5))

	require.NoError(t, h.runner.StartNetwork(networkConfig("net-1", "llama-7b")))
	err := h.runner.StartNetwork(networkConfig("net-1", "mistral-7b"))
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestModelMustBeLicensed(t *testing.T) {
	lic := proLicense(5)
	lic.AllowedModels = []string{"llama-7b"}
	h := newRunnerHarness(t, lic)

	require.NoError(t, h.runner.StartNetwork(networkConfig("net-1", "llama-7b")))
	err := h.runner.StartNetwork(networkConfig("net-2", "llama-70b"))
	assert.ErrorIs(t, err, ErrModelNotAllowed)
}

func TestStartRequiresValidLicense(t *testing.T) {
	h := newRunnerHarness(t, &models.LicenseInfo{Valid: false})

	err := h.runner.StartNetwork(networkConfig("net-1", "llama-7b"))
	assert.ErrorIs(t, err, ErrLicenseInvalid)
}

// When the license lapses, the health check stops every hosted network
// rather than serving unlicensed.
func TestLicenseLapseStopsEverything(t *testing.T) {
	h := newRunnerHarness(t, proLicense(5))

	require.NoError(t, h.runner.StartNetwork(networkConfig("net-1", "llama-7b")))
	require.NoError(t, h.runner.StartNetwork(networkConfig("net-2", "llama-7b")))

	h.validator.set(&models.LicenseInfo{
		Tier:      models.TierPro,
		ExpiresAt: time.Now().Add(-time.Minute),
		Valid:     true,
	})
	h.runner.checkLicense()

	e := h.waitEvent(t, events.KindLicenseInvalid)
	assert.Equal(t, string(models.LicenseStatusExpired), e.Reason)
	assert.Empty(t, h.runner.RunningNetworks())
}

func TestRestartNetwork(t *testing.T) {
	h := newRunnerHarness(t, proLicense(5))

	require.NoError(t, h.runner.StartNetwork(networkConfig("net-1", "llama-7b")))
	first := h.startTimeOf(t, "net-1")

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, h.runner.RestartNetwork("net-1"))
	assert.Equal(t, []string{"net-1"}, h.runner.RunningNetworks())

	assert.True(t, h.startTimeOf(t, "net-1").After(first))

	assert.ErrorIs(t, h.runner.RestartNetwork("net-9"), ErrNotHosted)
}

// A network whose initial bind fails stays registered in ERROR and is
// retried by the heartbeat monitor; siblings keep running untouched.
func TestBindFailureRetriedByMonitor(t *testing.T) {
	h := newRunnerHarness(t, proLicense(5))

	require.NoError(t, h.runner.StartNetwork(networkConfig("net-ok", "llama-7b")))
	siblingStart := h.startTimeOf(t, "net-ok")

	// Occupy a port so the listener bind fails.
	blocker, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := blocker.Addr().(*net.TCPAddr).Port

	cfg := networkConfig("net-bind", "llama-7b")
	cfg.Port = port
	require.Error(t, h.runner.StartNetwork(cfg))
	assert.Equal(t, []string{"net-ok"}, h.runner.RunningNetworks())

	h.runner.mu.RLock()
	svc, registered := h.runner.networks["net-bind"]
	h.runner.mu.RUnlock()
	require.True(t, registered)
	require.Equal(t, models.NetworkError, svc.Status())
	require.NotEmpty(t, svc.RecentErrors())

	require.NoError(t, blocker.Close())
	h.runner.checkHeartbeats()

	assert.Equal(t, []string{"net-bind", "net-ok"}, h.runner.RunningNetworks())
	assert.True(t, h.startTimeOf(t, "net-ok").Equal(siblingStart), "sibling must not restart")
}

// Only the network whose heartbeat went stale restarts; a fresh sibling keeps
// its start time.
func TestStaleHeartbeatRestartsOnlyThatNetwork(t *testing.T) {
	validator := &stubValidator{info: proLicense(5)}
	bus := events.NewBus(16)
	t.Cleanup(bus.Close)

	// No supervisory loops: the monitor is driven by hand so the timing of
	// the background ticker cannot interfere.
	r := New(Options{
		NodeID:            "test-node",
		HeartbeatInterval: 200 * time.Millisecond,
		StopTimeout:       2 * time.Second,
	}, validator, session.EchoBackend{}, bus, nil)
	r.baseCtx, r.cancel = context.WithCancel(context.Background())
	t.Cleanup(func() {
		r.cancel()
		r.StopAll()
	})

	require.NoError(t, r.StartNetwork(networkConfig("net-stale", "llama-7b")))
	staleStart := serviceStartTime(r, "net-stale")

	// Let net-stale's heartbeat age past the interval, then start a sibling
	// whose heartbeat is fresh.
	time.Sleep(300 * time.Millisecond)
	require.NoError(t, r.StartNetwork(networkConfig("net-fresh", "llama-7b")))
	freshStart := serviceStartTime(r, "net-fresh")

	r.checkHeartbeats()

	assert.Equal(t, []string{"net-fresh", "net-stale"}, r.RunningNetworks())
	assert.True(t, serviceStartTime(r, "net-stale").After(staleStart), "stale network must restart")
	assert.True(t, serviceStartTime(r, "net-fresh").Equal(freshStart), "fresh network must not restart")
}

func TestAdvertisedNetworks(t *testing.T) {
	h := newRunnerHarness(t, proLicense(5))

	cfg := networkConfig("net-1", "llama-7b")
	cfg.RequiredTier = models.TierPro
	require.NoError(t, h.runner.StartNetwork(cfg))

	descs := h.runner.AdvertisedNetworks()
	require.Len(t, descs, 1)
	assert.Equal(t, "net-1", descs[0].NetworkID)
	assert.Equal(t, "llama-7b", descs[0].ModelID)
	assert.Equal(t, models.TierPro, descs[0].RequiredTier)
	assert.Equal(t, discovery.NetworkActive, descs[0].Status)
	assert.Equal(t, 10, descs[0].MaxClients)
}

func TestStatusReport(t *testing.T) {
	h := newRunnerHarness(t, proLicense(5))

	require.NoError(t, h.runner.StartNetwork(networkConfig("net-b", "llama-7b")))
	require.NoError(t, h.runner.StartNetwork(networkConfig("net-a", "llama-7b")))

	report := h.runner.Status()
	assert.Equal(t, "test-node", report.NodeID)
	assert.Equal(t, models.LicenseStatusValid, report.LicenseStatus)
	assert.Equal(t, "pro", report.LicenseTier)
	assert.Equal(t, 2, report.NetworksRunning)
	require.Len(t, report.Networks, 2)
	assert.Equal(t, "net-a", report.Networks[0].NetworkID, "networks sorted by id")
	assert.Equal(t, models.NetworkRunning, report.Networks[0].Status)
	assert.NotEmpty(t, report.Networks[0].Endpoint)
}

func TestLoadConfigsSkipsBadFiles(t *testing.T) {
	dir := t.TempDir()

	writeFile := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	writeFile("network_good.json", `{"network_id": "net-1", "model_id": "llama-7b", "port": 9000}`)
	writeFile("network_good.yaml", "network_id: net-2\nmodel_id: mistral-7b\nport: 9001\nrequired_tier: pro\n")
	writeFile("network_broken.json", `{"network_id": `)
	writeFile("network_invalid.json", `{"model_id": "no-network-id"}`)
	writeFile("unrelated.json", `{"network_id": "ignored", "model_id": "m"}`)

	configs := LoadConfigs(dir, nil)
	require.Len(t, configs, 2)

	byID := map[string]*models.NetworkConfig{}
	for _, cfg := range configs {
		byID[cfg.NetworkID] = cfg
	}
	require.Contains(t, byID, "net-1")
	require.Contains(t, byID, "net-2")
	assert.Equal(t, models.TierPro, byID["net-2"].RequiredTier)
}

func TestStartLoadsConfigDir(t *testing.T) {
	dir := t.TempDir()
	for i := 1; i <= 2; i++ {
		content := fmt.Sprintf(`{"network_id": "net-%d", "model_id": "llama-7b", "host": "127.0.0.1", "port": 0}`, i)
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("network_%d.json", i)), []byte(content), 0o644))
	}

	validator := &stubValidator{info: proLicense(5)}
	bus := events.NewBus(16)
	defer bus.Close()

	r := New(Options{NodeID: "test-node", ConfigDir: dir, StopTimeout: 2 * time.Second},
		validator, session.EchoBackend{}, bus, nil)
	require.NoError(t, r.Start(context.Background()))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	}()

	assert.Equal(t, []string{"net-1", "net-2"}, r.RunningNetworks())
}
