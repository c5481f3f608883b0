package quizzly

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRealtimeConfig(t *testing.T) {
	c := DefaultRealtimeConfig()
	require.NoError(t, c.Validate())
	assert.Equal(t, 30*time.Second, c.HeartbeatInterval)
	assert.Equal(t, 5, c.MaxReconnectAttempts)
	assert.Equal(t, time.Second, c.InitialReconnectDelay)
	assert.Equal(t, 30*time.Second, c.MaxReconnectDelay)
	assert.Equal(t, 2*time.Second, c.ReconnectGracePeriod)
	assert.Equal(t, SubprotocolJSON, c.Codec.Name())
	assert.NotNil(t, c.Clock)
}

func TestRealtimeConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RealtimeConfig)
		errMsg string
	}{
		{"negative heartbeat", func(c *RealtimeConfig) { c.HeartbeatInterval = -time.Second }, "heartbeat interval"},
		{"negative attempts", func(c *RealtimeConfig) { c.MaxReconnectAttempts = -1 }, "max reconnect attempts"},
		{"negative grace", func(c *RealtimeConfig) { c.ReconnectGracePeriod = -1 }, "reconnect grace period"},
		{"initial above max", func(c *RealtimeConfig) {
			c.InitialReconnectDelay = time.Minute
			c.MaxReconnectDelay = time.Second
		}, "exceeds max reconnect delay"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultRealtimeConfig()
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFileConfigTOML(t *testing.T) {
	path := writeFile(t, "quizzly.toml", `
base_url = "http://localhost:8080"
codec = "cbor"
heartbeat_interval_ms = 15000
max_reconnect_attempts = 3
initial_reconnect_delay_ms = 500
max_reconnect_delay_ms = 4000
reconnect_grace_period_ms = 1000
`)
	fc, err := LoadFileConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", fc.BaseURL)

	c, err := fc.Realtime()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, c.HeartbeatInterval)
	assert.Equal(t, 3, c.MaxReconnectAttempts)
	assert.Equal(t, 500*time.Millisecond, c.InitialReconnectDelay)
	assert.Equal(t, 4*time.Second, c.MaxReconnectDelay)
	assert.Equal(t, time.Second, c.ReconnectGracePeriod)
	assert.Equal(t, SubprotocolCBOR, c.Codec.Name())
}

func TestLoadFileConfigYAML(t *testing.T) {
	path := writeFile(t, "quizzly.yaml", `
heartbeat_interval_ms: 10000
max_reconnect_attempts: 8
`)
	fc, err := LoadFileConfig(path)
	require.NoError(t, err)

	c, err := fc.Realtime()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, c.HeartbeatInterval)
	assert.Equal(t, 8, c.MaxReconnectAttempts)
	// Unset options keep their defaults.
	assert.Equal(t, DefaultMaxReconnectDelay, c.MaxReconnectDelay)
}

func TestLoadFileConfigErrors(t *testing.T) {
	_, err := LoadFileConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = LoadFileConfig(writeFile(t, "quizzly.ini", "x=1"))
	assert.ErrorContains(t, err, "unsupported config format")

	_, err = LoadFileConfig(writeFile(t, "quizzly.toml", "heartbeat_interval_ms = \"soon\""))
	assert.Error(t, err)
}

func TestFileConfigApplyEnv(t *testing.T) {
	t.Setenv("QUIZZLY_BASE_URL", "http://env.example")
	t.Setenv("QUIZZLY_MAX_RECONNECT_ATTEMPTS", "9")
	t.Setenv("QUIZZLY_RECONNECT_GRACE_PERIOD_MS", "2500")

	fc := FileConfig{BaseURL: "http://file.example", MaxReconnectAttempts: 2, HeartbeatIntervalMs: 20000}
	require.NoError(t, fc.ApplyEnv())

	assert.Equal(t, "http://env.example", fc.BaseURL)
	assert.Equal(t, 9, fc.MaxReconnectAttempts)
	assert.Equal(t, 2500, fc.ReconnectGracePeriodMs)
	assert.Equal(t, 20000, fc.HeartbeatIntervalMs)

	t.Setenv("QUIZZLY_HEARTBEAT_INTERVAL_MS", "often")
	assert.Error(t, fc.ApplyEnv())
}

func TestFileConfigRealtimeRejectsInvalid(t *testing.T) {
	_, err := FileConfig{InitialReconnectDelayMs: 60000, MaxReconnectDelayMs: 1000}.Realtime()
	assert.Error(t, err)

	_, err = FileConfig{Codec: "msgpack"}.Realtime()
	assert.ErrorContains(t, err, "unknown codec")
}
