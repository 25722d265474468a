package loadtest

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alibi-studio/refsync/internal/content/publish"
	"github.com/alibi-studio/refsync/internal/content/reconcile"
	"github.com/alibi-studio/refsync/internal/content/schema"
	"github.com/alibi-studio/refsync/internal/content/store"
)

func setupStudio(t *testing.T) (*store.DB, *publish.Studio) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "load.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	dispatcher := reconcile.NewDispatcher(reconcile.DefaultRoutes(db, nil, 4), nil)
	interceptor := publish.NewInterceptor(db, dispatcher, publish.DefaultConfig())
	return db, publish.NewStudio(db, interceptor)
}

func smallParams() Params {
	return Params{
		Services:         3,
		SubServices:      4,
		Directors:        2,
		WorksPerDirector: 3,
		Projects:         12,
		RefsPerProject:   2,
		Seed:             7,
	}
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	db, _ := setupStudio(t)

	fx, err := Seed(ctx, db, smallParams())
	require.NoError(t, err)
	assert.Len(t, fx.Drafts, 2*3+12)

	counts, err := db.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[schema.TypeService].Published)
	assert.Equal(t, 2, counts[schema.TypeDirector].Published)
	assert.Equal(t, 12, counts[schema.TypeProject].Drafts)
	assert.Equal(t, 6, counts[schema.TypeDirectorWork].Drafts)

	again, err := Seed(ctx, mustOpen(t), smallParams())
	require.NoError(t, err)
	assert.Equal(t, fx.Drafts, again.Drafts, "same seed gives the same publish order")
}

func mustOpen(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "other.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunEditors_ClosesGraph(t *testing.T) {
	ctx := context.Background()
	db, studio := setupStudio(t)

	fx, err := Seed(ctx, db, smallParams())
	require.NoError(t, err)

	before, err := Verify(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, before, "nothing is published yet")

	stats, err := RunEditors(ctx, studio, fx.Drafts, 4)
	require.NoError(t, err)
	assert.Equal(t, len(fx.Drafts), stats.Operations)
	assert.Zero(t, stats.Errors)
	assert.LessOrEqual(t, stats.Min, stats.Max)

	found, err := Verify(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, found)

	counts, err := db.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts[schema.TypeProject].Drafts)
	assert.Equal(t, 12, counts[schema.TypeProject].Published)
}

func TestVerify_ReportsBrokenFields(t *testing.T) {
	ctx := context.Background()
	db, _ := setupStudio(t)

	svc := schema.New("s-1", schema.TypeService)
	svc.Set(schema.FieldProjects, schema.KeyedReferences([]string{"p-2"}))
	d2 := schema.New("d-2", schema.TypeDirector)
	d2.Set(schema.FieldWorks, schema.KeyedReferences([]string{"w-1"}))
	p1 := schema.New("p-1", schema.TypeProject)
	p1.Set(schema.FieldServices, schema.KeyedReferences([]string{"s-1"}))
	p2 := schema.New("p-2", schema.TypeProject)
	w1 := schema.New("w-1", schema.TypeDirectorWork)
	w1.Set(schema.FieldDirector, schema.SingleReference("d-1"))
	for _, doc := range []*schema.Document{svc, schema.New("d-1", schema.TypeDirector), d2, p1, p2, w1} {
		_, err := db.Create(ctx, doc)
		require.NoError(t, err)
	}

	found, err := Verify(ctx, db)
	require.NoError(t, err)

	byField := map[string]Inconsistency{}
	for _, f := range found {
		byField[f.ID+"."+f.Field] = f
	}
	assert.Equal(t, []string{"p-1"}, byField["s-1.projects"].Missing)
	assert.Equal(t, []string{"p-2"}, byField["s-1.projects"].Extra)
	assert.Equal(t, []string{"s-1"}, byField["p-2.services"].Missing)
	assert.Equal(t, []string{"w-1"}, byField["d-1.works"].Missing)
	assert.NotContains(t, byField, "d-2.works", "hand-curated entries are not checked")
	assert.Equal(t, "s-1.projects: missing p-1; extra p-2", byField["s-1.projects"].String())
}

func TestComputeLatencyStats(t *testing.T) {
	var durations []time.Duration
	for i := 100; i >= 1; i-- {
		durations = append(durations, time.Duration(i)*time.Millisecond)
	}

	stats := computeLatencyStats(durations)
	assert.Equal(t, time.Millisecond, stats.Min)
	assert.Equal(t, 100*time.Millisecond, stats.Max)
	assert.Equal(t, 51*time.Millisecond, stats.P50)
	assert.Equal(t, 96*time.Millisecond, stats.P95)
	assert.Equal(t, 100, stats.Operations)
	assert.Equal(t, 100*time.Millisecond, durations[0], "input is not reordered")

	var buf bytes.Buffer
	stats.Print(&buf)
	assert.Contains(t, buf.String(), "Publishes:     100")

	assert.Zero(t, computeLatencyStats(nil).Operations)
}
