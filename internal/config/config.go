// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for the cache database (always absolute)
	APIURL   string // Remote trading server REST base URL
	WSURL    string // Remote trading server WebSocket URL
	Port     int    // Local consumer-facing HTTP port
	LogLevel string
	DevMode  bool

	Connection ConnectionConfig
	Sync       SyncConfig
}

// ConnectionConfig holds the reconnect/heartbeat tuning for the persistent connection.
type ConnectionConfig struct {
	BaseReconnectDelay   time.Duration
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int
	HeartbeatInterval    time.Duration
	DialTimeout          time.Duration
}

// SyncConfig holds the tuning for the per-domain sync stores.
type SyncConfig struct {
	DebounceWindow    time.Duration // Coalescing window for optimistic write-backs
	PendingWriteTTL   time.Duration // How long an unconfirmed optimistic value may survive
	FallbackPollEvery time.Duration // Pull interval while the push channel is down
	CacheTTL          time.Duration // Freshness window for warm-start snapshots
}

// Load reads configuration from environment variables.
// Endpoints are read once at startup; there is no runtime reconfiguration.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Resolve the data directory to an absolute path and make sure it exists
	dataDir := getEnv("TRADEDECK_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		APIURL:   getEnv("TRADEDECK_API_URL", "http://localhost:8000"),
		WSURL:    getEnv("TRADEDECK_WS_URL", "ws://localhost:8000/ws"),
		Port:     getEnvAsInt("GO_PORT", 8001),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		Connection: ConnectionConfig{
			BaseReconnectDelay:   getEnvAsDuration("TRADEDECK_RECONNECT_BASE", 2*time.Second),
			MaxReconnectDelay:    getEnvAsDuration("TRADEDECK_RECONNECT_CAP", 30*time.Second),
			MaxReconnectAttempts: getEnvAsInt("TRADEDECK_RECONNECT_MAX", 10),
			HeartbeatInterval:    getEnvAsDuration("TRADEDECK_HEARTBEAT_INTERVAL", 30*time.Second),
			DialTimeout:          getEnvAsDuration("TRADEDECK_DIAL_TIMEOUT", 10*time.Second),
		},
		Sync: SyncConfig{
			DebounceWindow:    getEnvAsDuration("TRADEDECK_DEBOUNCE_WINDOW", time.Second),
			PendingWriteTTL:   getEnvAsDuration("TRADEDECK_PENDING_WRITE_TTL", 15*time.Second),
			FallbackPollEvery: getEnvAsDuration("TRADEDECK_FALLBACK_POLL", 30*time.Second),
			CacheTTL:          getEnvAsDuration("TRADEDECK_CACHE_TTL", 10*time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("TRADEDECK_API_URL must not be empty")
	}
	if c.WSURL == "" {
		return fmt.Errorf("TRADEDECK_WS_URL must not be empty")
	}
	if c.Connection.MaxReconnectAttempts < 1 {
		return fmt.Errorf("TRADEDECK_RECONNECT_MAX must be at least 1")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
