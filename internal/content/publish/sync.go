package publish

import (
	"context"
	"fmt"

	"github.com/alibi-studio/refsync/internal/content/reconcile"
	"github.com/alibi-studio/refsync/internal/content/schema"
)

// SyncWorksAction re-merges the works of the director named by a
// DirectorWork, on demand and without publishing.
func SyncWorksAction(repo reconcile.Repository, works *reconcile.DirectorWorks) Action {
	return NewAction(ActionSync, func(ctx context.Context, req Request) (*Outcome, error) {
		work, err := fetchLatest(ctx, repo, req.ID)
		if err != nil {
			return nil, err
		}
		ref, ok := work.Ref(schema.FieldDirector)
		if !ok {
			return &Outcome{Document: work, Message: "Work has no director"}, nil
		}

		res, err := works.SyncDirector(ctx, ref.Ref)
		if err != nil {
			return nil, fmt.Errorf("failed to sync works of %s: %w", ref.Ref, err)
		}
		if err := res.Err(); err != nil {
			return nil, fmt.Errorf("failed to sync works of %s: %w", ref.Ref, err)
		}

		director, err := repo.FetchOne(ctx, schema.PublishedID(ref.Ref))
		if err != nil {
			return nil, fmt.Errorf("failed to read director %s: %w", ref.Ref, err)
		}
		n := len(director.Refs(schema.FieldWorks))
		return &Outcome{
			Document: director,
			Message:  fmt.Sprintf("Updated director with %d works", n),
		}, nil
	})
}

// fetchLatest returns the draft of id when one exists, else the published
// revision.
func fetchLatest(ctx context.Context, repo reconcile.Repository, id string) (*schema.Document, error) {
	if doc, err := repo.FetchOne(ctx, schema.DraftID(id)); err == nil {
		return doc, nil
	}
	doc, err := repo.FetchOne(ctx, schema.PublishedID(id))
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", id, err)
	}
	return doc, nil
}
