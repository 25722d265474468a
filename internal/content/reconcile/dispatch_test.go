package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alibi-studio/refsync/internal/content/schema"
)

func TestDefaultRoutes(t *testing.T) {
	db := setupStore(t)
	d := NewDispatcher(DefaultRoutes(db, nil, 2), nil)

	names := func(typ schema.Type) []string {
		var out []string
		for _, r := range d.Reconcilers(typ) {
			out = append(out, r.Name())
		}
		return out
	}

	assert.Equal(t, []string{"director-works"}, names(schema.TypeDirector))
	assert.Equal(t, []string{"director-works"}, names(schema.TypeDirectorWork))
	assert.ElementsMatch(t, []string{"symmetric", "project-director"}, names(schema.TypeProject))
	assert.Equal(t, []string{"symmetric"}, names(schema.TypeService))
	assert.Equal(t, []string{"symmetric"}, names(schema.TypeSubService))
	assert.False(t, d.Handles("film"))
}

func TestDispatch_ProjectRunsBothReconcilers(t *testing.T) {
	db := setupStore(t)
	ctx := context.Background()

	put(t, db, "s-1", schema.TypeService, nil)
	put(t, db, "d-1", schema.TypeDirector, map[string]any{schema.FieldWorks: refs("p-1")})
	p1 := put(t, db, "p-1", schema.TypeProject, map[string]any{schema.FieldServices: refs("s-1")})

	d := NewDispatcher(DefaultRoutes(db, nil, 2), nil)
	report, err := d.Dispatch(ctx, p1, nil)
	require.NoError(t, err)
	assert.Len(t, report.Results, 2)
	assert.Equal(t, 2, report.Updated())
	assert.Zero(t, report.Failed())

	p := get(t, db, "p-1")
	director, ok := p.Ref(schema.FieldDirector)
	require.True(t, ok)
	assert.Equal(t, "d-1", director.Ref)
	assert.Equal(t, refs("s-1"), p.Refs(schema.FieldServices), "sibling reconciler fields untouched")
	assert.Equal(t, refs("p-1"), get(t, db, "s-1").Refs(schema.FieldProjects))
}

func TestDispatch_ErrorsJoinedButOthersRun(t *testing.T) {
	db := setupStore(t)
	repo := newFaultyRepo(db)
	repo.failCommit["s-1"] = true

	put(t, db, "s-1", schema.TypeService, nil)
	put(t, db, "d-1", schema.TypeDirector, map[string]any{schema.FieldWorks: refs("p-1")})
	p1 := put(t, db, "p-1", schema.TypeProject, map[string]any{schema.FieldServices: refs("s-1")})

	d := NewDispatcher(DefaultRoutes(repo, nil, 2), nil)
	report, err := d.Dispatch(context.Background(), p1, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errInjected)
	assert.Equal(t, 1, report.Failed())

	director, ok := get(t, db, "p-1").Ref(schema.FieldDirector)
	require.True(t, ok)
	assert.Equal(t, "d-1", director.Ref)
}

func TestDispatch_RejectsDraftAndIgnoresUnroutedTypes(t *testing.T) {
	d := NewDispatcher(Routes{}, nil)

	_, err := d.Dispatch(context.Background(), schema.New("drafts.p-1", schema.TypeProject), nil)
	assert.ErrorIs(t, err, schema.ErrInvalidDocument)

	report, err := d.Dispatch(context.Background(), schema.New("x-1", "film"), nil)
	require.NoError(t, err)
	assert.Empty(t, report.Results)
}
