package loggo

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReload(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "app.log")
	path := writeConfig(t, dir, fileConfigYAML(logPath, "info"))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	core, err := cfg.Build(WithErrorHandler(nil))
	require.NoError(t, err)
	sink := &errSink{}
	m := NewManager(core, WithManagerErrorHandler(sink.handle))
	defer m.Close()

	var reloads atomic.Int32
	w, err := NewWatcher(path, m,
		WithReloadDebounce(10*time.Millisecond),
		WithReloadCoreOptions(WithErrorHandler(nil)),
		WithReloadCallback(func(error) { reloads.Add(1) }))
	require.NoError(t, err)
	defer w.Close()

	m.Debug("filtered before reload")
	writeConfig(t, dir, fileConfigYAML(logPath, "debug"))

	require.Eventually(t, func() bool {
		if !m.Enabled(LevelDebug) {
			return false
		}
		data, err := os.ReadFile(logPath)
		return err == nil && strings.Contains(string(data), "configuration reloaded")
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return reloads.Load() > 0 }, time.Second, 5*time.Millisecond)

	assert.NotSame(t, core, m.Core())
	assert.True(t, m.Enabled(LevelDebug))
	m.Debug("visible after reload")
	require.NoError(t, m.Sync())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "filtered before reload")
	assert.Contains(t, string(data), "visible after reload")
}

func TestWatcherReloadFailureKeepsCore(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "app.log")
	path := writeConfig(t, dir, fileConfigYAML(logPath, "info"))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	core, err := cfg.Build(WithErrorHandler(nil))
	require.NoError(t, err)
	sink := &errSink{}
	m := NewManager(core, WithManagerErrorHandler(sink.handle))
	defer m.Close()

	w, err := NewWatcher(path, m, WithReloadDebounce(time.Hour))
	require.NoError(t, err)
	defer w.Close()

	writeConfig(t, dir, fileConfigYAML(logPath, "deafening"))
	err = w.Reload()
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)

	assert.Same(t, core, m.Core())
	assert.Len(t, sink.all(), 1)

	require.NoError(t, m.Sync())
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "configuration reload failed")
}

func TestWatcherErrors(t *testing.T) {
	_, err := NewWatcher("loggo.yaml", nil)
	var cfgErr *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)

	_, err = NewWatcher(filepath.Join(t.TempDir(), "missing", "loggo.yaml"), NewManager(nil))
	assert.ErrorAs(t, err, &cfgErr)
}

func TestWatcherCloseIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, fileConfigYAML(filepath.Join(dir, "app.log"), "info"))
	m := NewManager(nil)
	defer m.Close()

	w, err := NewWatcher(path, m)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}
