package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alibi-studio/refsync/internal/content/schema"
	"github.com/alibi-studio/refsync/internal/content/store"
)

// DefaultFanOut bounds concurrent counterpart patches per run.
const DefaultFanOut = 4

// ErrUnsupportedType is returned when a reconciler is handed a document type
// it does not own.
var ErrUnsupportedType = errors.New("unsupported document type")

// Symmetric keeps the Project/Service/SubService triad closed: after a
// source document is published, every counterpart it claims or used to be
// claimed by gets its inverse field re-derived from the published graph.
type Symmetric struct {
	repo   Repository
	logger *slog.Logger
	fanOut int
}

// NewSymmetric creates the triad reconciler. fanOut <= 0 uses
// DefaultFanOut.
func NewSymmetric(repo Repository, logger *slog.Logger, fanOut int) *Symmetric {
	if logger == nil {
		logger = slog.Default()
	}
	if fanOut <= 0 {
		fanOut = DefaultFanOut
	}
	return &Symmetric{
		repo:   repo,
		logger: logger.With("component", "reconcile", "reconciler", "symmetric"),
		fanOut: fanOut,
	}
}

// Name implements Reconciler.
func (s *Symmetric) Name() string { return "symmetric" }

type counterpartTask struct {
	edge schema.Edge
	id   string
}

// Reconcile implements Reconciler. All legacy-holder queries run before any
// write; a failed query aborts the run without writing.
func (s *Symmetric) Reconcile(ctx context.Context, doc, _ *schema.Document) (res *Result, err error) {
	source := doc.PublishedID()
	res = newResult(s.Name(), source)

	ctx, span := startRunSpan(ctx, s.Name(), source)
	start := time.Now()
	defer func() { finishRun(span, start, s.Name(), res, err) }()

	edges := schema.EdgesFrom(doc.Type)
	if len(edges) == 0 {
		return res, fmt.Errorf("%w: %s", ErrUnsupportedType, doc.Type)
	}

	var tasks []counterpartTask
	for _, e := range edges {
		holders, err := s.repo.FetchMany(ctx, schema.Query{
			Type:          e.Counterpart,
			Field:         e.CounterpartField,
			References:    source,
			PublishedOnly: true,
		})
		if err != nil {
			s.logger.Error("failed to query legacy holders",
				"source", source, "counterpart_type", e.Counterpart, "error", err)
			return res, fmt.Errorf("failed to query %s holding %s: %w", e.Counterpart, source, err)
		}

		for _, id := range union(doc.RefIDs(e.SourceField), docIDs(holders)) {
			tasks = append(tasks, counterpartTask{edge: e, id: id})
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(s.fanOut)
	for _, t := range tasks {
		g.Go(func() error {
			s.reconcileCounterpart(ctx, t.edge, t.id, res)
			return nil
		})
	}
	_ = g.Wait()
	res.sort()

	s.logger.Info("reconciled counterparts",
		"source", source, "type", doc.Type,
		"updated", len(res.Updated), "unchanged", len(res.Unchanged),
		"skipped", len(res.Skipped), "failed", len(res.Failed))
	return res, nil
}

// reconcileCounterpart rewrites one counterpart's inverse field. Failures are
// recorded on res and never propagate.
func (s *Symmetric) reconcileCounterpart(ctx context.Context, e schema.Edge, id string, res *Result) {
	var out outcome
	err := retryConflicts(ctx, s.Name(), func() error {
		var err error
		out, err = s.patchCounterpart(ctx, e, id)
		return err
	})
	if err != nil {
		res.failed(id, err)
		return
	}
	res.record(id, out)
}

// patchCounterpart derives the counterpart's inverse set from a fresh query
// and commits it guarded by the revision read first, so a concurrent
// reconcile of the same counterpart makes one of the two re-derive.
func (s *Symmetric) patchCounterpart(ctx context.Context, e schema.Edge, id string) (outcome, error) {
	counterpart, err := s.repo.FetchOne(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("counterpart does not exist", "counterpart", id, "field", e.CounterpartField)
		return outcomeSkipped, nil
	}
	if err != nil {
		s.logger.Warn("failed to fetch counterpart", "counterpart", id, "error", err)
		return 0, err
	}
	if counterpart.Type != e.Counterpart {
		s.logger.Warn("counterpart has unexpected type",
			"counterpart", id, "type", counterpart.Type, "want", e.Counterpart)
		return outcomeSkipped, nil
	}

	sources, err := s.repo.FetchMany(ctx, schema.Query{
		Type:          e.Source,
		Field:         e.SourceField,
		References:    id,
		PublishedOnly: true,
	})
	if err != nil {
		s.logger.Warn("failed to derive inverse set", "counterpart", id, "error", err)
		return 0, err
	}

	want := derivedRefs(sources)
	if holdsExactly(counterpart, e.CounterpartField, want) {
		return outcomeUnchanged, nil
	}

	patch := schema.NewPatch(id).
		SetField(e.CounterpartField, want).
		WithRevision(counterpart.Revision)
	if err := s.repo.Commit(ctx, patch); err != nil {
		if errors.Is(err, store.ErrRevisionConflict) {
			s.logger.Debug("counterpart changed concurrently; re-deriving", "counterpart", id)
		} else {
			s.logger.Warn("failed to patch counterpart",
				"counterpart", id, "field", e.CounterpartField, "error", err)
		}
		return 0, err
	}

	s.logger.Debug("patched counterpart",
		"counterpart", id, "field", e.CounterpartField, "refs", len(want))
	return outcomeUpdated, nil
}
