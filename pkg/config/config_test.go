package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("LICENSE_SECRET", "")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LICENSE_SECRET")
}

func TestLoadRejectsShortSecret(t *testing.T) {
	t.Setenv("LICENSE_SECRET", "too-short")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 characters")
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LICENSE_SECRET", "a-valid-secret-that-is-32-chars-long")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.StatusPort)
	assert.Equal(t, 37020, cfg.DiscoveryPort)
	assert.Equal(t, "255.255.255.255", cfg.DiscoveryBroadcast)
	assert.Equal(t, 10*time.Second, cfg.AnnounceInterval)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 60*time.Second, cfg.HealthCheckInterval)
	assert.Equal(t, "priority_based", cfg.Routing.Strategy)
	assert.Equal(t, 3, cfg.Routing.MaxErrorCount)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LICENSE_SECRET", "a-valid-secret-that-is-32-chars-long")
	t.Setenv("NODE_ID", "node-42")
	t.Setenv("STATUS_PORT", "9090")
	t.Setenv("ANNOUNCE_INTERVAL", "3s")
	t.Setenv("ROUTING_STRATEGY", "round_robin")
	t.Setenv("ROUTING_MAX_ERROR_COUNT", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "node-42", cfg.NodeID)
	assert.Equal(t, 9090, cfg.StatusPort)
	assert.Equal(t, 3*time.Second, cfg.AnnounceInterval)
	assert.Equal(t, "round_robin", cfg.Routing.Strategy)
	assert.Equal(t, 5, cfg.Routing.MaxErrorCount)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("LICENSE_SECRET", "a-valid-secret-that-is-32-chars-long")
	t.Setenv("STATUS_PORT", "not-a-number")
	t.Setenv("HEARTBEAT_INTERVAL", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.StatusPort)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
}

func TestValidate(t *testing.T) {
	cfg := LoadWithDefaults()
	assert.NoError(t, cfg.Validate())

	cfg.DiscoveryPort = 0
	assert.Error(t, cfg.Validate())

	cfg = LoadWithDefaults()
	cfg.Routing.MaxErrorCount = 0
	assert.Error(t, cfg.Validate())
}
