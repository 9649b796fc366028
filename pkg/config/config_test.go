package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/driverpool/pkg/xerrors"
)

func TestNewPoolConfigDefaults(t *testing.T) {
	cfg := NewPoolConfig()

	assert.Equal(t, 10, cfg.MinSize)
	assert.Equal(t, 10, cfg.MaxSize)
	assert.False(t, cfg.Echo)
	require.NoError(t, cfg.Validate())
}

func TestPoolConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*PoolConfig)
		wantErr bool
	}{
		{"defaults", func(c *PoolConfig) {}, false},
		{"zero min and max", func(c *PoolConfig) { c.MinSize, c.MaxSize = 0, 0 }, false},
		{"negative min", func(c *PoolConfig) { c.MinSize = -1 }, true},
		{"max below min", func(c *PoolConfig) { c.MinSize, c.MaxSize = 5, 2 }, true},
		{"negative timeout", func(c *PoolConfig) { c.AcquireTimeout = -time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewPoolConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, xerrors.IsType(err, xerrors.ErrorTypeConfig))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestDispatcherConfigValidate(t *testing.T) {
	cfg := NewDispatcherConfig()
	require.NoError(t, cfg.Validate())

	cfg.Workers = 0
	require.Error(t, cfg.Validate())

	cfg = NewDispatcherConfig()
	cfg.QueueDepth = -1
	require.Error(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.yaml")

	content := []byte(`
pool:
  name: analytics
  min_size: 2
  max_size: 8
  echo: true
  acquire_timeout: 5s
dispatcher:
  workers: 4
  queue_depth: 16
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "analytics", cfg.Pool.Name)
	assert.Equal(t, 2, cfg.Pool.MinSize)
	assert.Equal(t, 8, cfg.Pool.MaxSize)
	assert.True(t, cfg.Pool.Echo)
	assert.Equal(t, 5*time.Second, cfg.Pool.AcquireTimeout)
	assert.Equal(t, 4, cfg.Dispatcher.Workers)
	assert.Equal(t, 16, cfg.Dispatcher.QueueDepth)
}

func TestLoadInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.yaml")

	require.NoError(t, os.WriteFile(path, []byte("pool:\n  min_size: -3\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, xerrors.IsType(err, xerrors.ErrorTypeConfig))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, xerrors.IsType(err, xerrors.ErrorTypeConfig))
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.yaml")

	cfg := &Config{Pool: *NewPoolConfig(), Dispatcher: *NewDispatcherConfig()}
	cfg.Pool.Name = "orders"
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Pool, loaded.Pool)
	assert.Equal(t, cfg.Dispatcher, loaded.Dispatcher)
}
