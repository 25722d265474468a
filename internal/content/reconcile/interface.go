package reconcile

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/alibi-studio/refsync/internal/content/schema"
)

// Repository is the slice of the content store the reconcilers consume.
//
// FetchOne returns an error wrapping store.ErrNotFound for a missing id.
// FetchMany results are ordered by id. Commit sets only the fields named in
// the patch.
type Repository interface {
	FetchOne(ctx context.Context, id string) (*schema.Document, error)
	FetchMany(ctx context.Context, q schema.Query) ([]*schema.Document, error)
	Commit(ctx context.Context, p *schema.Patch) error
}

// Reconciler recomputes one family of derived relationship fields after a
// document of a watched type is published.
//
// doc is the freshly published document. draft is the pre-publish draft
// snapshot and may be nil.
//
// A returned error means the reconciler aborted before writing (a failed
// read). Per-counterpart write failures do not abort; they are reported in
// Result.Failed.
type Reconciler interface {
	Name() string
	Reconcile(ctx context.Context, doc, draft *schema.Document) (*Result, error)
}

// Result summarizes one reconciler run.
type Result struct {
	Reconciler string
	Source     string

	// Updated lists counterpart ids that were patched.
	Updated []string

	// Unchanged lists counterpart ids whose field already held the derived
	// value.
	Unchanged []string

	// Skipped lists referenced ids that could not be resolved.
	Skipped []string

	// Failed maps counterpart ids to the error of their patch.
	Failed map[string]error

	mu sync.Mutex
}

func newResult(name, source string) *Result {
	return &Result{Reconciler: name, Source: source, Failed: map[string]error{}}
}

func (r *Result) updated(id string) {
	r.mu.Lock()
	r.Updated = append(r.Updated, id)
	r.mu.Unlock()
}

func (r *Result) unchanged(id string) {
	r.mu.Lock()
	r.Unchanged = append(r.Unchanged, id)
	r.mu.Unlock()
}

func (r *Result) skipped(id string) {
	r.mu.Lock()
	r.Skipped = append(r.Skipped, id)
	r.mu.Unlock()
}

func (r *Result) failed(id string, err error) {
	r.mu.Lock()
	r.Failed[id] = err
	r.mu.Unlock()
}

// outcome is what happened to one counterpart.
type outcome int

const (
	outcomeUpdated outcome = iota
	outcomeUnchanged
	outcomeSkipped
)

func (r *Result) record(id string, o outcome) {
	switch o {
	case outcomeUpdated:
		r.updated(id)
	case outcomeUnchanged:
		r.unchanged(id)
	case outcomeSkipped:
		r.skipped(id)
	}
}

// sort orders the id lists and drops repeats; fan-out completes in
// arbitrary order and conflict retries can record an id twice.
func (r *Result) sort() {
	sort.Strings(r.Updated)
	sort.Strings(r.Unchanged)
	sort.Strings(r.Skipped)
	r.Updated = slices.Compact(r.Updated)
	r.Unchanged = slices.Compact(r.Unchanged)
	r.Skipped = slices.Compact(r.Skipped)
}

// Err joins the per-counterpart failures, or returns nil.
func (r *Result) Err() error {
	if r == nil || len(r.Failed) == 0 {
		return nil
	}
	ids := make([]string, 0, len(r.Failed))
	for id := range r.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	errs := make([]error, 0, len(ids))
	for _, id := range ids {
		errs = append(errs, fmt.Errorf("%s: %w", id, r.Failed[id]))
	}
	return errors.Join(errs...)
}

// Writes returns the number of commits attempted.
func (r *Result) Writes() int {
	return len(r.Updated) + len(r.Failed)
}
