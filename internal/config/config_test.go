package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alibi-studio/refsync/internal/content/schema"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, _, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(".refsync", "content.db"), cfg.Store.Path)
	assert.Equal(t, 4, cfg.Reconcile.FanOut)
	assert.Equal(t, 100*time.Millisecond, cfg.Daemon.Debounce)
	assert.Equal(t, 3*time.Second, cfg.Publish.Visibility.MaxElapsed)
	assert.Equal(t, schema.SyncedTypes, cfg.PublishTypes())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Trace.Enabled)
	assert.Equal(t, "otlp", cfg.Trace.Exporter)
	assert.Equal(t, 1.0, cfg.Trace.SampleRatio)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "refsync.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[store]
path = "/tmp/studio.db"

[publish]
watch_types = ["project", "service"]

[publish.visibility]
max_elapsed = "750ms"

[daemon]
workers = 8
`), 0o600))

	t.Setenv("REFSYNC_DAEMON_WORKERS", "2")
	t.Setenv("REFSYNC_LOG_LEVEL", "debug")
	t.Setenv("REFSYNC_TRACE_ENABLED", "true")

	cfg, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/studio.db", cfg.Store.Path)
	assert.Equal(t, []schema.Type{schema.TypeProject, schema.TypeService}, cfg.PublishTypes())
	assert.Equal(t, 750*time.Millisecond, cfg.Publish.Visibility.MaxElapsed)
	assert.Equal(t, 50*time.Millisecond, cfg.Publish.Visibility.InitialInterval)
	assert.Equal(t, 2, cfg.Daemon.Workers)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Trace.Enabled)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "fan out", content: "[reconcile]\nfan_out = 0\n", want: "FanOut"},
		{name: "watch type", content: "[publish]\nwatch_types = [\"film\"]\n", want: "WatchTypes"},
		{name: "log level", content: "[log]\nlevel = \"loud\"\n", want: "Level"},
		{name: "port", content: "[dashboard]\nport = 70000\n", want: "Port"},
		{name: "trace exporter", content: "[trace]\nexporter = \"zipkin\"\n", want: "Exporter"},
		{name: "sample ratio", content: "[trace]\nsample_ratio = 2.0\n", want: "SampleRatio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "refsync.toml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			_, _, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "refsync.toml")
	require.NoError(t, WriteDefault(path, false))

	err := WriteDefault(path, false)
	assert.True(t, errors.Is(err, ErrExists))
	require.NoError(t, WriteDefault(path, true))

	cfg, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.Daemon.QueueSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Publish.Visibility.MaxInterval)
}

func TestNested(t *testing.T) {
	got := Nested(map[string]any{"a.b.c": 1, "a.d": 2, "e": 3})
	assert.Equal(t, map[string]any{
		"a": map[string]any{"b": map[string]any{"c": 1}, "d": 2},
		"e": 3,
	}, got)
}
