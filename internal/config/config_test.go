package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TRADEDECK_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.APIURL)
	assert.Equal(t, "ws://localhost:8000/ws", cfg.WSURL)
	assert.Equal(t, 8001, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.DevMode)

	assert.Equal(t, 2*time.Second, cfg.Connection.BaseReconnectDelay)
	assert.Equal(t, 30*time.Second, cfg.Connection.MaxReconnectDelay)
	assert.Equal(t, 10, cfg.Connection.MaxReconnectAttempts)
	assert.Equal(t, 30*time.Second, cfg.Connection.HeartbeatInterval)

	assert.Equal(t, time.Second, cfg.Sync.DebounceWindow)
	assert.Equal(t, 15*time.Second, cfg.Sync.PendingWriteTTL)
	assert.Equal(t, 30*time.Second, cfg.Sync.FallbackPollEvery)
	assert.Equal(t, 10*time.Minute, cfg.Sync.CacheTTL)

	assert.True(t, filepath.IsAbs(cfg.DataDir))
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TRADEDECK_DATA_DIR", t.TempDir())
	t.Setenv("TRADEDECK_API_URL", "http://trading.internal:9000")
	t.Setenv("GO_PORT", "9001")
	t.Setenv("DEV_MODE", "true")
	t.Setenv("TRADEDECK_RECONNECT_BASE", "500ms")
	t.Setenv("TRADEDECK_DEBOUNCE_WINDOW", "250ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://trading.internal:9000", cfg.APIURL)
	assert.Equal(t, 9001, cfg.Port)
	assert.True(t, cfg.DevMode)
	assert.Equal(t, 500*time.Millisecond, cfg.Connection.BaseReconnectDelay)
	assert.Equal(t, 250*time.Millisecond, cfg.Sync.DebounceWindow)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("TRADEDECK_DATA_DIR", t.TempDir())
	t.Setenv("GO_PORT", "not-a-number")
	t.Setenv("TRADEDECK_HEARTBEAT_INTERVAL", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8001, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.Connection.HeartbeatInterval)
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		APIURL:     "http://localhost:8000",
		WSURL:      "ws://localhost:8000/ws",
		Connection: ConnectionConfig{MaxReconnectAttempts: 10},
	}
	require.NoError(t, cfg.Validate())

	cfg.WSURL = ""
	assert.Error(t, cfg.Validate())

	cfg.WSURL = "ws://localhost:8000/ws"
	cfg.Connection.MaxReconnectAttempts = 0
	assert.Error(t, cfg.Validate())
}
