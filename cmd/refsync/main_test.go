package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/alibi-studio/refsync/internal/content/schema"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestParseSince(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	got, err := parseSince("2 hours ago", now)
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(-2*time.Hour), got, time.Minute)

	got, err = parseSince("2025-05-30T08:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 5, 30, 8, 0, 0, 0, time.UTC), got)

	_, err = parseSince("banana", now)
	assert.True(t, errors.Is(err, errUnparsedTime))
}

func TestParseType(t *testing.T) {
	typ, err := parseType("directorwork")
	require.NoError(t, err)
	assert.Equal(t, schema.TypeDirectorWork, typ)

	_, err = parseType("film")
	assert.Error(t, err)
}

func TestCLI_ImportPublishReconcile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("NO_COLOR", "1")
	db := filepath.Join(dir, "content.db")

	file := filepath.Join(dir, "triad.jsonl")
	require.NoError(t, os.WriteFile(file, []byte(`{"_id":"s-1","_type":"service","title":"Color"}
{"_id":"p-1","_type":"project","title":"Night Drive","services":[{"_key":"s-1","_type":"reference","_ref":"s-1"}]}
`), 0o600))

	out, err := run(t, "--db", db, "import", file)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Drafts saved: 2")

	out, err = run(t, "--db", db, "import", "--publish", file)
	require.Error(t, err, "publishing without --yes needs a terminal")
	assert.Contains(t, err.Error(), "cancelled")

	out, err = run(t, "--db", db, "publish", "s-1", "p-1")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Published Night Drive")

	out, err = run(t, "--db", db, "reconcile", "project", "p-1")
	require.NoError(t, err, out)
	assert.Contains(t, out, "symmetric: 0 updated, 1 unchanged")

	out, err = run(t, "--db", db, "reconcile", "service", "p-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is a project")

	out, err = run(t, "--db", db, "reconcile", "all", "--type", "service", "--since", "1 hour ago")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Reconciled 1 documents")

	out, err = run(t, "--db", db, "status", "--json")
	require.NoError(t, err, out)
	var status struct {
		Types map[string]struct {
			Published int `json:"published"`
			Drafts    int `json:"drafts"`
		} `json:"types"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, 1, status.Types["service"].Published)
	assert.Equal(t, 1, status.Types["project"].Published)
	assert.Equal(t, 0, status.Types["project"].Drafts)

	out, err = run(t, "--db", db, "verify")
	require.NoError(t, err, out)
	assert.Contains(t, out, "relationship graph is consistent")
}

func TestCLI_Loadtest(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("TMPDIR", dir)
	t.Setenv("NO_COLOR", "1")

	out, err := run(t, "loadtest", "--editors", "3", "--projects", "10", "--directors", "2")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Seeded 18 drafts")
	assert.Contains(t, out, "Publishes:     18")
	assert.Contains(t, out, "Errors:        0")
	assert.Contains(t, out, "relationship graph is consistent")
}

func TestCLI_ConfigInit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "refsync.toml")

	out, err := run(t, "config", "init", path)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Wrote")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[daemon]")
	assert.Contains(t, string(data), `debounce = "100ms"`)

	_, err = run(t, "config", "init", path)
	assert.Error(t, err)
}

func TestCLI_TracingInstallsProvider(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("REFSYNC_TRACE_ENABLED", "true")
	t.Setenv("REFSYNC_TRACE_EXPORTER", "stdout")

	before := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(before) })

	out, err := run(t, "--db", filepath.Join(dir, "content.db"), "status")
	require.NoError(t, err, out)
	assert.IsType(t, &sdktrace.TracerProvider{}, otel.GetTracerProvider())
	assert.Nil(t, stopTelemetry, "teardown flushed and cleared the provider")

	t.Setenv("REFSYNC_TRACE_EXPORTER", "zipkin")
	_, err = run(t, "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Exporter")
}
