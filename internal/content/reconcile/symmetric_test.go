package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alibi-studio/refsync/internal/content/schema"
)

func TestSymmetric_RederivesFromPublishedGraph(t *testing.T) {
	db := setupStore(t)
	ctx := context.Background()

	put(t, db, "s-1", schema.TypeService, map[string]any{schema.FieldProjects: refs("p-3")})
	put(t, db, "s-2", schema.TypeService, nil)
	put(t, db, "p-3", schema.TypeProject, map[string]any{schema.FieldServices: refs()})
	put(t, db, "p-4", schema.TypeProject, map[string]any{schema.FieldServices: refs("s-1")})
	p1 := put(t, db, "p-1", schema.TypeProject, map[string]any{schema.FieldServices: refs("s-1", "s-2")})

	draft := schema.New("p-5", schema.TypeProject)
	draft.Set(schema.FieldServices, refs("s-1"))
	_, err := db.SaveDraft(ctx, draft)
	require.NoError(t, err)

	res, err := NewSymmetric(db, nil, 2).Reconcile(ctx, p1, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"s-1", "s-2"}, res.Updated)
	assert.Empty(t, res.Failed)

	assert.Equal(t, refs("p-1", "p-4"), get(t, db, "s-1").Refs(schema.FieldProjects),
		"stale p-3 dropped, draft-only p-5 excluded")
	assert.Equal(t, refs("p-1"), get(t, db, "s-2").Refs(schema.FieldProjects))
}

func TestSymmetric_RemovedEdgeEmptiesLegacyHolder(t *testing.T) {
	db := setupStore(t)
	ctx := context.Background()

	put(t, db, "s-1", schema.TypeService, map[string]any{schema.FieldProjects: refs("p-1")})
	p1 := put(t, db, "p-1", schema.TypeProject, map[string]any{schema.FieldServices: refs()})

	res, err := NewSymmetric(db, nil, 0).Reconcile(ctx, p1, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"s-1"}, res.Updated)

	s1 := get(t, db, "s-1")
	v, ok := s1.Get(schema.FieldProjects)
	require.True(t, ok, "projects must be written as an explicit empty array")
	assert.Equal(t, []any{}, v)
}

func TestSymmetric_Idempotent(t *testing.T) {
	db := setupStore(t)
	ctx := context.Background()
	repo := newFaultyRepo(db)

	put(t, db, "s-1", schema.TypeService, nil)
	put(t, db, "ss-1", schema.TypeSubService, map[string]any{schema.FieldProjects: refs("p-9")})
	p1 := put(t, db, "p-1", schema.TypeProject, map[string]any{
		schema.FieldServices:    refs("s-1"),
		schema.FieldSubServices: refs("ss-1"),
	})

	r := NewSymmetric(repo, nil, 4)
	first, err := r.Reconcile(ctx, p1, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"s-1", "ss-1"}, first.Updated)
	before := map[string]*schema.Document{"s-1": get(t, db, "s-1"), "ss-1": get(t, db, "ss-1")}

	repo.reset()
	second, err := r.Reconcile(ctx, p1, nil)
	require.NoError(t, err)
	assert.Empty(t, second.Updated)
	assert.Equal(t, []string{"s-1", "ss-1"}, second.Unchanged)
	assert.Zero(t, repo.commitCount(), "second run must not write")

	for id, doc := range before {
		assert.Equal(t, doc.Revision, get(t, db, id).Revision, id)
	}
}

func TestSymmetric_Closure(t *testing.T) {
	db := setupStore(t)
	ctx := context.Background()

	claims := map[string][]string{
		"p-1": {"s-1", "s-2"},
		"p-2": {"s-2"},
		"p-3": {},
	}
	for _, id := range []string{"s-1", "s-2", "s-3"} {
		put(t, db, id, schema.TypeService, map[string]any{schema.FieldProjects: refs("p-3")})
	}
	r := NewSymmetric(db, nil, 3)
	for _, id := range []string{"p-1", "p-2", "p-3"} {
		p := put(t, db, id, schema.TypeProject, map[string]any{schema.FieldServices: refs(claims[id]...)})
		_, err := r.Reconcile(ctx, p, nil)
		require.NoError(t, err)
	}

	for _, pid := range []string{"p-1", "p-2", "p-3"} {
		p := get(t, db, pid)
		for _, sid := range []string{"s-1", "s-2", "s-3"} {
			s := get(t, db, sid)
			assert.Equal(t,
				contains(p.RefIDs(schema.FieldServices), sid),
				contains(s.RefIDs(schema.FieldProjects), pid),
				"%s.services has %s iff %s.projects has %s", pid, sid, sid, pid)
		}
	}
	assert.Equal(t, []string{}, get(t, db, "s-3").RefIDs(schema.FieldProjects))
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func TestSymmetric_ServiceSourceUpdatesBothEdges(t *testing.T) {
	db := setupStore(t)
	ctx := context.Background()

	put(t, db, "p-1", schema.TypeProject, nil)
	put(t, db, "ss-1", schema.TypeSubService, nil)
	s1 := put(t, db, "s-1", schema.TypeService, map[string]any{
		schema.FieldProjects:    refs("p-1"),
		schema.FieldSubServices: refs("ss-1"),
	})

	res, err := NewSymmetric(db, nil, 0).Reconcile(ctx, s1, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"p-1", "ss-1"}, res.Updated)
	assert.Equal(t, refs("s-1"), get(t, db, "p-1").Refs(schema.FieldServices))
	assert.Equal(t, refs("s-1"), get(t, db, "ss-1").Refs(schema.FieldServices))
}

func TestSymmetric_PartialFailureIsolated(t *testing.T) {
	db := setupStore(t)
	ctx := context.Background()
	repo := newFaultyRepo(db)
	repo.failCommit["s-1"] = true

	put(t, db, "s-1", schema.TypeService, nil)
	put(t, db, "s-2", schema.TypeService, nil)
	put(t, db, "s-3", schema.TypeService, nil)
	p1 := put(t, db, "p-1", schema.TypeProject, map[string]any{
		schema.FieldServices: refs("s-1", "s-2", "s-3", "ghost", "p-1"),
	})

	res, err := NewSymmetric(repo, nil, 1).Reconcile(ctx, p1, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"s-2", "s-3"}, res.Updated)
	assert.Equal(t, []string{"ghost", "p-1"}, res.Skipped)
	require.Contains(t, res.Failed, "s-1")
	assert.ErrorIs(t, res.Err(), errInjected)

	assert.Equal(t, refs("p-1"), get(t, db, "s-3").Refs(schema.FieldProjects))
	_, ok := get(t, db, "s-1").Get(schema.FieldProjects)
	assert.False(t, ok)
}

func TestSymmetric_QueryFailureAbortsWithoutWrites(t *testing.T) {
	db := setupStore(t)
	repo := newFaultyRepo(db)
	repo.failQuery = true

	put(t, db, "s-1", schema.TypeService, nil)
	p1 := put(t, db, "p-1", schema.TypeProject, map[string]any{schema.FieldServices: refs("s-1")})

	_, err := NewSymmetric(repo, nil, 0).Reconcile(context.Background(), p1, nil)
	require.ErrorIs(t, err, errInjected)
	assert.Zero(t, repo.commitCount())
}

func TestSymmetric_UnsupportedType(t *testing.T) {
	db := setupStore(t)
	d := put(t, db, "d-1", schema.TypeDirector, nil)

	_, err := NewSymmetric(db, nil, 0).Reconcile(context.Background(), d, nil)
	assert.ErrorIs(t, err, ErrUnsupportedType)
}
