package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 8088, cfg.HTTPPort)
	assert.Equal(t, 8089, cfg.RawPort)
	assert.Equal(t, 0, cfg.HybridPort)
	assert.Equal(t, 200*time.Millisecond, cfg.ReconnectDelay)
	assert.True(t, cfg.AutoReconnect)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.HasAuth())
	assert.Equal(t, "localhost:8088", cfg.Addr(cfg.HTTPPort))
}

func TestEnvironment(t *testing.T) {
	t.Setenv("JSONRPC_HTTP_PORT", "9000")
	t.Setenv("JSONRPC_USERNAME", "myuser")
	t.Setenv("JSONRPC_PASSWORD", "secret123")
	t.Setenv("JSONRPC_RECONNECT_DELAY", "1s")

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.HTTPPort)
	assert.True(t, cfg.HasAuth())
	assert.Equal(t, time.Second, cfg.ReconnectDelay)
}

func TestConfigFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "jsonrpc.yaml")
	require.NoError(t, os.WriteFile(file, []byte("raw_port: 7000\nhybrid_port: 7001\nlog_level: debug\n"), 0o600))

	cfg, err := Load(New(), file)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.RawPort)
	assert.Equal(t, 7001, cfg.HybridPort)
	assert.Equal(t, "debug", cfg.LogLevel)

	_, err = Load(New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestFlagsOverride(t *testing.T) {
	t.Setenv("JSONRPC_RAW_PORT", "9001")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int("raw-port", 8089, "")
	fs.Bool("verbose", false, "")
	v := New()
	require.NoError(t, BindFlags(v, fs))
	require.NoError(t, fs.Parse([]string{"--raw-port", "9100"}))

	cfg, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.RawPort)
}

func TestLoadDotEnv(t *testing.T) {
	file := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(file, []byte("JSONRPC_LOG_LEVEL=warn\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("JSONRPC_LOG_LEVEL") })

	require.NoError(t, LoadDotEnv(file, filepath.Join(t.TempDir(), "absent.env")))
	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	for name, cfg := range map[string]Config{
		"port":     {HTTPPort: 70000},
		"username": {Username: "only"},
		"rate":     {RateLimit: -1},
		"burst":    {RateLimit: 5},
		"duration": {HandlerTimeout: -time.Second},
	} {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, (&Config{RateLimit: 5, RateBurst: 5}).Validate())
}
