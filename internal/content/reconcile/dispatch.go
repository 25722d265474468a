package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alibi-studio/refsync/internal/content/schema"
)

// Routes maps a document type to the reconcilers that run when a document of
// that type is published.
type Routes map[schema.Type][]Reconciler

// DefaultRoutes builds the routing table for the fixed relationship set.
func DefaultRoutes(repo Repository, logger *slog.Logger, fanOut int) Routes {
	works := NewDirectorWorks(repo, logger)
	symmetric := NewSymmetric(repo, logger, fanOut)
	projectDirector := NewProjectDirector(repo, logger)

	return Routes{
		schema.TypeDirector:     {works},
		schema.TypeDirectorWork: {works},
		schema.TypeProject:      {symmetric, projectDirector},
		schema.TypeService:      {symmetric},
		schema.TypeSubService:   {symmetric},
	}
}

// Dispatcher routes published documents to their reconcilers. The table is
// fixed at construction.
type Dispatcher struct {
	routes Routes
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher over routes.
func NewDispatcher(routes Routes, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	table := make(Routes, len(routes))
	for t, rs := range routes {
		table[t] = append([]Reconciler(nil), rs...)
	}
	return &Dispatcher{routes: table, logger: logger.With("component", "dispatch")}
}

// Handles reports whether any reconciler is routed for t.
func (d *Dispatcher) Handles(t schema.Type) bool {
	return len(d.routes[t]) > 0
}

// Reconcilers returns the reconcilers routed for t.
func (d *Dispatcher) Reconcilers(t schema.Type) []Reconciler {
	return d.routes[t]
}

// Report collects the results of one dispatch.
type Report struct {
	Type    schema.Type
	ID      string
	Results []*Result
}

// Updated counts patched documents across results.
func (r *Report) Updated() int {
	n := 0
	for _, res := range r.Results {
		n += len(res.Updated)
	}
	return n
}

// Failed counts failed patches across results.
func (r *Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		n += len(res.Failed)
	}
	return n
}

// Dispatch runs every reconciler routed for doc's type. Reconcilers run
// concurrently and independently; one aborting does not stop the others.
// The returned error joins aborts and per-counterpart failures and is meant
// for logging.
func (d *Dispatcher) Dispatch(ctx context.Context, doc, draft *schema.Document) (*Report, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: nil document", schema.ErrInvalidDocument)
	}
	if doc.IsDraft() {
		return nil, fmt.Errorf("%w: %s is a draft revision", schema.ErrInvalidDocument, doc.ID)
	}

	report := &Report{Type: doc.Type, ID: doc.ID}
	reconcilers := d.routes[doc.Type]
	if len(reconcilers) == 0 {
		d.logger.Debug("no reconcilers for type", "type", doc.Type, "id", doc.ID)
		return report, nil
	}
	dispatchTotal.WithLabelValues(string(doc.Type)).Inc()

	results := make([]*Result, len(reconcilers))
	errs := make([]error, len(reconcilers))
	var wg sync.WaitGroup
	for i, r := range reconcilers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.Reconcile(ctx, doc, draft)
			if err != nil {
				d.logger.Error("reconciler aborted", "reconciler", r.Name(), "id", doc.ID, "error", err)
				err = fmt.Errorf("%s: %w", r.Name(), err)
			} else if ferr := res.Err(); ferr != nil {
				err = fmt.Errorf("%s: %w", r.Name(), ferr)
			}
			results[i], errs[i] = res, err
		}()
	}
	wg.Wait()

	for _, res := range results {
		if res != nil {
			report.Results = append(report.Results, res)
		}
	}
	return report, errors.Join(errs...)
}
