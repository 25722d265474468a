package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alibi-studio/refsync/internal/content/schema"
)

// ProjectDirector points a published Project's director field at the first
// published Director (by id) whose works list the project. A project no
// director claims is left untouched.
type ProjectDirector struct {
	repo   Repository
	logger *slog.Logger
}

// NewProjectDirector creates the Project to Director back-reference
// reconciler.
func NewProjectDirector(repo Repository, logger *slog.Logger) *ProjectDirector {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProjectDirector{
		repo:   repo,
		logger: logger.With("component", "reconcile", "reconciler", "project-director"),
	}
}

// Name implements Reconciler.
func (p *ProjectDirector) Name() string { return "project-director" }

// Reconcile implements Reconciler.
func (p *ProjectDirector) Reconcile(ctx context.Context, project, _ *schema.Document) (res *Result, err error) {
	id := project.PublishedID()
	res = newResult(p.Name(), id)

	ctx, span := startRunSpan(ctx, p.Name(), id)
	start := time.Now()
	defer func() { finishRun(span, start, p.Name(), res, err) }()

	if project.Type != schema.TypeProject {
		return res, fmt.Errorf("%w: %s", ErrUnsupportedType, project.Type)
	}

	directors, err := p.repo.FetchMany(ctx, schema.Query{
		Type:          schema.TypeDirector,
		Field:         schema.FieldWorks,
		References:    id,
		PublishedOnly: true,
	})
	if err != nil {
		p.logger.Error("failed to query directors", "project", id, "error", err)
		return res, fmt.Errorf("failed to query directors of %s: %w", id, err)
	}
	if len(directors) == 0 {
		return res, nil
	}

	chosen := directors[0].ID
	if len(directors) > 1 {
		p.logger.Warn("project claimed by several directors; using the first",
			"project", id, "directors", docIDs(directors), "chosen", chosen)
	}

	out, err := pointProjectAt(ctx, p.repo, p.Name(), project, chosen)
	if err != nil {
		p.logger.Warn("failed to set project director", "project", id, "director", chosen, "error", err)
		res.failed(id, err)
		return res, nil
	}
	if out == outcomeUpdated {
		p.logger.Info("set project director", "project", id, "director", chosen)
	}
	res.record(id, out)
	return res, nil
}
