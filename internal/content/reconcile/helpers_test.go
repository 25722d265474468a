package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alibi-studio/refsync/internal/content/schema"
	"github.com/alibi-studio/refsync/internal/content/store"
)

func setupStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "content.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func put(t *testing.T, db *store.DB, id string, typ schema.Type, fields map[string]any) *schema.Document {
	t.Helper()
	doc := schema.New(id, typ)
	for k, v := range fields {
		doc.Set(k, v)
	}
	created, err := db.Create(context.Background(), doc)
	require.NoError(t, err)
	return created
}

func get(t *testing.T, db *store.DB, id string) *schema.Document {
	t.Helper()
	doc, err := db.FetchOne(context.Background(), id)
	require.NoError(t, err)
	return doc
}

func refs(ids ...string) []schema.Reference {
	return schema.KeyedReferences(ids)
}

var errInjected = errors.New("injected failure")

// faultyRepo wraps a repository, records commits, and fails commits for the
// configured ids.
type faultyRepo struct {
	Repository

	mu         sync.Mutex
	commits    []string
	failCommit map[string]bool
	failQuery  bool
}

func newFaultyRepo(inner Repository) *faultyRepo {
	return &faultyRepo{Repository: inner, failCommit: map[string]bool{}}
}

func (f *faultyRepo) FetchMany(ctx context.Context, q schema.Query) ([]*schema.Document, error) {
	if f.failQuery {
		return nil, errInjected
	}
	return f.Repository.FetchMany(ctx, q)
}

func (f *faultyRepo) Commit(ctx context.Context, p *schema.Patch) error {
	f.mu.Lock()
	f.commits = append(f.commits, p.ID)
	fail := f.failCommit[p.ID]
	f.mu.Unlock()
	if fail {
		return errInjected
	}
	return f.Repository.Commit(ctx, p)
}

func (f *faultyRepo) commitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.commits)
}

func (f *faultyRepo) reset() {
	f.mu.Lock()
	f.commits = nil
	f.mu.Unlock()
}
