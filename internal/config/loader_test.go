package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
}

func TestLoaderLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeConfig(t, path, "version = 2\n[batch]\ntick_ms = 250\n")

	l := NewLoader(path)
	defer l.Close()

	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, 250, cfg.Batch.TickMs)
	assert.Same(t, cfg, l.Config())
	assert.Equal(t, path, l.Path())
}

func TestLoaderWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeConfig(t, path, "version = 2\n[session]\ntimeout_sec = 30\n")

	l := NewLoader(path)
	defer l.Close()
	_, err := l.Load()
	require.NoError(t, err)

	var latest atomic.Value
	l.OnChange(func(c *Config) { latest.Store(c.Session.TimeoutSec) })
	require.NoError(t, l.Watch())

	writeConfig(t, path, "version = 2\n[session]\ntimeout_sec = 90\n")

	require.Eventually(t, func() bool {
		v, ok := latest.Load().(float64)
		return ok && v == 90
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, 90.0, l.Config().Session.TimeoutSec)
}

func TestLoaderWatchKeepsConfigOnInvalidEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeConfig(t, path, "version = 2\n")

	l := NewLoader(path)
	defer l.Close()
	original, err := l.Load()
	require.NoError(t, err)
	require.NoError(t, l.Watch())

	writeConfig(t, path, "version = 2\n[batch.fast]\nsize = 1000\n")

	select {
	case err := <-l.Errors():
		assert.ErrorIs(t, err, ErrInvalidConfig)
	case <-time.After(3 * time.Second):
		t.Fatal("expected a reload error")
	}
	assert.Same(t, original, l.Config())
}

func TestLoaderCloseWithoutWatch(t *testing.T) {
	l := NewLoader(filepath.Join(t.TempDir(), "config.toml"))
	assert.NoError(t, l.Close())
}

func TestDecodeFileFormats(t *testing.T) {
	dir := t.TempDir()

	yml := filepath.Join(dir, "config.yaml")
	writeConfig(t, yml, "version: 2\nbatch:\n  tick_ms: 500\n")
	cfg, err := Load(yml)
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Batch.TickMs)

	bare := filepath.Join(dir, "rhythmd.conf")
	writeConfig(t, bare, "version = 2\n[bus]\ntype = \"memory\"\n")
	cfg, err = Load(bare)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Bus.Type)

	broken := filepath.Join(dir, "broken.toml")
	writeConfig(t, broken, "version = [\n")
	_, err = Load(broken)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode TOML")
}

func TestDecodeFileFallbackStartsFromDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rhythmd.conf")
	// not TOML or JSON, so only the YAML attempt succeeds
	writeConfig(t, path, "session:\n  timeout_sec: 45\n")

	cfg, err := decodeFile(path)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Version, "unversioned until migrated")
	assert.Equal(t, 45.0, cfg.Session.TimeoutSec)

	def := DefaultConfig()
	assert.Equal(t, def.Batch.TickMs, cfg.Batch.TickMs)
	assert.Equal(t, def.Batch.Idle, cfg.Batch.Idle)
	assert.Equal(t, def.Storage.Driver, cfg.Storage.Driver)

	writeConfig(t, path, "{{ not a config\n")
	_, err = decodeFile(path)
	assert.ErrorContains(t, err, "not TOML, JSON or YAML")
}

func TestLoaderCloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeConfig(t, path, "version = 2\n")

	l := NewLoader(path)
	require.NoError(t, l.Watch())
	assert.NoError(t, l.Close())
	assert.NoError(t, l.Close())
}
