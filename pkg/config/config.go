// Package config provides environment-based configuration for the modelnet node daemon.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for a modelnet node.
type Config struct {
	// Node identity
	NodeID string

	// Licensing
	LicenseKey    string
	LicenseSecret string

	// Network configuration discovery
	NetworkConfigDir string

	// Status API server
	StatusHost string
	StatusPort int

	// Peer discovery
	DiscoveryPort      int
	DiscoveryBroadcast string
	AnnounceInterval   time.Duration
	DiscoveryTimeout   time.Duration

	// Supervision intervals
	HeartbeatInterval   time.Duration
	HealthCheckInterval time.Duration

	// Session layer
	LoadPerClient  int
	SessionTimeout time.Duration

	// Routing
	Routing RoutingConfig

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration
}

// RoutingConfig holds routing-client-specific configuration.
type RoutingConfig struct {
	Strategy       string
	MaxErrorCount  int
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		NodeID:              getEnv("NODE_ID", ""),
		LicenseKey:          getEnv("LICENSE_KEY", ""),
		LicenseSecret:       getEnv("LICENSE_SECRET", ""),
		NetworkConfigDir:    getEnv("NETWORK_CONFIG_DIR", "./configs"),
		StatusHost:          getEnv("STATUS_HOST", "0.0.0.0"),
		StatusPort:          getIntEnv("STATUS_PORT", 8080),
		DiscoveryPort:       getIntEnv("DISCOVERY_PORT", 37020),
		DiscoveryBroadcast:  getEnv("DISCOVERY_BROADCAST", "255.255.255.255"),
		AnnounceInterval:    getDurationEnv("ANNOUNCE_INTERVAL", 10*time.Second),
		DiscoveryTimeout:    getDurationEnv("DISCOVERY_TIMEOUT", 5*time.Second),
		HeartbeatInterval:   getDurationEnv("HEARTBEAT_INTERVAL", 30*time.Second),
		HealthCheckInterval: getDurationEnv("HEALTH_CHECK_INTERVAL", 60*time.Second),
		LoadPerClient:       getIntEnv("LOAD_PER_CLIENT", 10),
		SessionTimeout:      getDurationEnv("SESSION_TIMEOUT", 120*time.Second),
		Routing: RoutingConfig{
			Strategy:       getEnv("ROUTING_STRATEGY", "priority_based"),
			MaxErrorCount:  getIntEnv("ROUTING_MAX_ERROR_COUNT", 3),
			ConnectTimeout: getDurationEnv("ROUTING_CONNECT_TIMEOUT", 10*time.Second),
			RequestTimeout: getDurationEnv("ROUTING_REQUEST_TIMEOUT", 30*time.Second),
		},
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.LicenseSecret == "" {
		return fmt.Errorf("LICENSE_SECRET is required")
	}
	if len(c.LicenseSecret) < 32 {
		return fmt.Errorf("LICENSE_SECRET must be at least 32 characters")
	}
	if c.DiscoveryPort <= 0 || c.DiscoveryPort > 65535 {
		return fmt.Errorf("DISCOVERY_PORT must be a valid port, got %d", c.DiscoveryPort)
	}
	if c.Routing.MaxErrorCount < 1 {
		return fmt.Errorf("ROUTING_MAX_ERROR_COUNT must be at least 1")
	}
	return nil
}

// LoadWithDefaults loads configuration with defaults for development.
// It does not validate required fields, useful for testing.
func LoadWithDefaults() *Config {
	return &Config{
		NodeID:              getEnv("NODE_ID", "dev-node"),
		LicenseKey:          getEnv("LICENSE_KEY", ""),
		LicenseSecret:       getEnv("LICENSE_SECRET", "development-secret-key-min-32-chars"),
		NetworkConfigDir:    getEnv("NETWORK_CONFIG_DIR", "./configs"),
		StatusHost:          getEnv("STATUS_HOST", "127.0.0.1"),
		StatusPort:          getIntEnv("STATUS_PORT", 8080),
		DiscoveryPort:       getIntEnv("DISCOVERY_PORT", 37020),
		DiscoveryBroadcast:  getEnv("DISCOVERY_BROADCAST", "255.255.255.255"),
		AnnounceInterval:    getDurationEnv("ANNOUNCE_INTERVAL", 10*time.Second),
		DiscoveryTimeout:    getDurationEnv("DISCOVERY_TIMEOUT", 5*time.Second),
		HeartbeatInterval:   getDurationEnv("HEARTBEAT_INTERVAL", 30*time.Second),
		HealthCheckInterval: getDurationEnv("HEALTH_CHECK_INTERVAL", 60*time.Second),
		LoadPerClient:       getIntEnv("LOAD_PER_CLIENT", 10),
		SessionTimeout:      getDurationEnv("SESSION_TIMEOUT", 120*time.Second),
		Routing: RoutingConfig{
			Strategy:       getEnv("ROUTING_STRATEGY", "priority_based"),
			MaxErrorCount:  getIntEnv("ROUTING_MAX_ERROR_COUNT", 3),
			ConnectTimeout: getDurationEnv("ROUTING_CONNECT_TIMEOUT", 10*time.Second),
			RequestTimeout: getDurationEnv("ROUTING_REQUEST_TIMEOUT", 30*time.Second),
		},
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

// getEnv returns the value of the environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv returns the integer value of the environment variable or a default.
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getDurationEnv returns the duration value of the environment variable or a default.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
