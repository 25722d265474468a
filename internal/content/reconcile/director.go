package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alibi-studio/refsync/internal/content/schema"
	"github.com/alibi-studio/refsync/internal/content/store"
)

// DirectorWorks maintains Director.works as the union of hand-curated
// entries and the DirectorWork documents that name the director.
//
// Manual entries come first with their keys, then every published
// DirectorWork naming the director that is not already listed.
//
//   - Director publish with a draft: every referencing entry of the draft's
//     works is manual, whatever it resolves to. Manual Project entries get
//     their director field pointed back at the director.
//   - Director publish without a draft, the sync action, and DirectorWork
//     publish: the current published works are the input. There an entry
//     resolving to a published DirectorWork counts as derived and is
//     re-derived; every other entry, including one that does not resolve,
//     stays manual.
type DirectorWorks struct {
	repo   Repository
	logger *slog.Logger
}

// NewDirectorWorks creates the Director/DirectorWork reconciler.
func NewDirectorWorks(repo Repository, logger *slog.Logger) *DirectorWorks {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirectorWorks{
		repo:   repo,
		logger: logger.With("component", "reconcile", "reconciler", "director-works"),
	}
}

// Name implements Reconciler.
func (d *DirectorWorks) Name() string { return "director-works" }

// Reconcile implements Reconciler.
func (d *DirectorWorks) Reconcile(ctx context.Context, doc, draft *schema.Document) (res *Result, err error) {
	source := doc.PublishedID()
	res = newResult(d.Name(), source)

	ctx, span := startRunSpan(ctx, d.Name(), source)
	start := time.Now()
	defer func() { finishRun(span, start, d.Name(), res, err) }()

	switch doc.Type {
	case schema.TypeDirector:
		err = d.fromDirector(ctx, doc, draft, res)
	case schema.TypeDirectorWork:
		err = d.fromWork(ctx, doc, res)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedType, doc.Type)
	}
	res.sort()
	return res, err
}

// SyncDirector re-merges the works of one director from its current
// published state. It is the manual "sync works" entry point.
func (d *DirectorWorks) SyncDirector(ctx context.Context, directorID string) (*Result, error) {
	director, err := d.repo.FetchOne(ctx, schema.PublishedID(directorID))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch director %s: %w", directorID, err)
	}
	if director.Type != schema.TypeDirector {
		return nil, fmt.Errorf("%w: %s is a %s", ErrUnsupportedType, director.ID, director.Type)
	}
	return d.Reconcile(ctx, director, nil)
}

func (d *DirectorWorks) fromDirector(ctx context.Context, director, draft *schema.Document, res *Result) error {
	var (
		manual   []schema.Reference
		resolved map[string]*schema.Document
		out      outcome
	)
	current := director
	err := retryConflicts(ctx, d.Name(), func() error {
		if current == nil {
			fresh, err := d.repo.FetchOne(ctx, director.ID)
			if err != nil {
				return fmt.Errorf("failed to re-read director %s: %w", director.ID, err)
			}
			current = fresh
		}

		curated, fromDraft := current.Refs(schema.FieldWorks), false
		if draft != nil && schema.PublishedID(draft.ID) == current.ID {
			curated, fromDraft = draft.Refs(schema.FieldWorks), true
		}

		var err error
		if manual, resolved, err = d.manualEntries(ctx, curated, fromDraft, res); err != nil {
			return err
		}
		out, err = d.syncWorks(ctx, current, manual)
		if err != nil {
			current = nil
		}
		return err
	})

	var werr *writeError
	switch {
	case err == nil:
		res.record(director.ID, out)
	case errors.As(err, &werr):
		res.failed(director.ID, err)
	default:
		return err
	}

	// Propagate the curated Project entries back to the project side.
	for _, m := range manual {
		project, ok := resolved[m.Ref]
		if !ok || project.Type != schema.TypeProject {
			continue
		}
		out, err := pointProjectAt(ctx, d.repo, d.Name(), project, director.ID)
		if err != nil {
			d.logger.Warn("failed to set project director",
				"project", project.ID, "director", director.ID, "error", err)
			res.failed(project.ID, err)
			continue
		}
		res.record(project.ID, out)
	}
	return nil
}

func (d *DirectorWorks) fromWork(ctx context.Context, work *schema.Document, res *Result) error {
	var named []string
	if ref, ok := work.Ref(schema.FieldDirector); ok {
		named = append(named, ref.Ref)
	}

	// Directors still listing the work are re-merged too, so moving a work
	// to another director removes it from the old one.
	holders, err := d.repo.FetchMany(ctx, schema.Query{
		Type:          schema.TypeDirector,
		Field:         schema.FieldWorks,
		References:    work.PublishedID(),
		PublishedOnly: true,
	})
	if err != nil {
		d.logger.Error("failed to query directors holding work", "work", work.ID, "error", err)
		return fmt.Errorf("failed to query directors holding %s: %w", work.ID, err)
	}

	candidates := union(named, docIDs(holders))
	if len(candidates) == 0 {
		d.logger.Debug("work has no director", "work", work.ID)
		return nil
	}

	for _, id := range candidates {
		var out outcome
		err := retryConflicts(ctx, d.Name(), func() error {
			var err error
			out, err = d.resyncDirector(ctx, id, work.ID, res)
			return err
		})
		if err != nil {
			res.failed(id, err)
			continue
		}
		res.record(id, out)
	}
	return nil
}

// resyncDirector re-reads one director and re-merges its works, keeping the
// manual entries it currently holds.
func (d *DirectorWorks) resyncDirector(ctx context.Context, id, workID string, res *Result) (outcome, error) {
	director, err := d.repo.FetchOne(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		d.logger.Warn("director does not exist", "director", id, "work", workID)
		return outcomeSkipped, nil
	}
	if err != nil {
		d.logger.Warn("failed to fetch director", "director", id, "error", err)
		return 0, err
	}
	if director.Type != schema.TypeDirector {
		d.logger.Warn("work director has unexpected type", "director", id, "type", director.Type)
		return outcomeSkipped, nil
	}

	manual, _, err := d.manualEntries(ctx, director.Refs(schema.FieldWorks), false, res)
	if err != nil {
		return 0, err
	}
	return d.syncWorks(ctx, director, manual)
}

// syncWorks writes the merged works array onto director, guarded by the
// director's revision. A failed commit is returned as a *writeError.
func (d *DirectorWorks) syncWorks(ctx context.Context, director *schema.Document, manual []schema.Reference) (outcome, error) {
	works, err := d.repo.FetchMany(ctx, schema.Query{
		Type:          schema.TypeDirectorWork,
		Field:         schema.FieldDirector,
		References:    director.ID,
		PublishedOnly: true,
	})
	if err != nil {
		d.logger.Error("failed to query director works", "director", director.ID, "error", err)
		return 0, fmt.Errorf("failed to query works of %s: %w", director.ID, err)
	}

	merged := mergeWorks(manual, docIDs(works))
	if holdsExactly(director, schema.FieldWorks, merged) {
		return outcomeUnchanged, nil
	}

	patch := schema.NewPatch(director.ID).
		SetField(schema.FieldWorks, merged).
		WithRevision(director.Revision)
	if err := d.repo.Commit(ctx, patch); err != nil {
		if !errors.Is(err, store.ErrRevisionConflict) {
			d.logger.Warn("failed to patch director works", "director", director.ID, "error", err)
		}
		return 0, &writeError{err}
	}

	d.logger.Info("synced director works",
		"director", director.ID, "manual", len(manual), "derived", len(works), "total", len(merged))
	return outcomeUpdated, nil
}

// manualEntries returns the manual subset of curated and the resolved
// documents by id. Unless keepWorks is set, entries that resolve to a
// published DirectorWork are dropped. Unresolvable entries stay manual and
// are recorded as skipped.
func (d *DirectorWorks) manualEntries(ctx context.Context, curated []schema.Reference, keepWorks bool, res *Result) ([]schema.Reference, map[string]*schema.Document, error) {
	resolved := map[string]*schema.Document{}
	if len(curated) == 0 {
		return nil, resolved, nil
	}

	ids := make([]string, 0, len(curated))
	for _, r := range curated {
		ids = append(ids, schema.PublishedID(r.Ref))
	}
	docs, err := d.repo.FetchMany(ctx, schema.Query{IDs: ids, PublishedOnly: true})
	if err != nil {
		d.logger.Error("failed to resolve works entries", "error", err)
		return nil, nil, fmt.Errorf("failed to resolve works entries: %w", err)
	}
	for _, doc := range docs {
		resolved[doc.ID] = doc
	}

	manual := make([]schema.Reference, 0, len(curated))
	for _, r := range curated {
		r.Ref = schema.PublishedID(r.Ref)
		doc, ok := resolved[r.Ref]
		if !ok {
			d.logger.Warn("works entry does not resolve; keeping it", "ref", r.Ref)
			res.skipped(r.Ref)
			manual = append(manual, r)
			continue
		}
		if doc.Type == schema.TypeDirectorWork && !keepWorks {
			continue
		}
		manual = append(manual, r)
	}
	return manual, resolved, nil
}
