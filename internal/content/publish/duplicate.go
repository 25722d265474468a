package publish

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/alibi-studio/refsync/internal/content/schema"
	"github.com/alibi-studio/refsync/internal/content/store"
)

const (
	copySuffix = " (Copy)"
	slugSuffix = "-copy"
)

// DuplicateAction creates a new published document from the requested one.
// Title and name get a " (Copy)" suffix and slug.current a "-copy" suffix.
// Relationship fields are not copied: the copy starts outside the graph.
func DuplicateAction(st Store) Action {
	return NewAction(ActionDuplicate, func(ctx context.Context, req Request) (*Outcome, error) {
		src, err := fetchEither(ctx, st, req.ID)
		if err != nil {
			return nil, err
		}

		dup, err := st.Create(ctx, Duplicate(src))
		if err != nil {
			return nil, fmt.Errorf("failed to create copy of %s: %w", src.ID, err)
		}
		return &Outcome{Document: dup, Message: fmt.Sprintf("Duplicated %s as %s", src.PublishedID(), dup.ID)}, nil
	})
}

// Duplicate returns a copy of src under a fresh id, without relationship
// fields.
func Duplicate(src *schema.Document) *schema.Document {
	c := src.Clone()
	c.ID = uuid.NewString()
	c.Revision = ""
	c.CreatedAt, c.UpdatedAt = time.Time{}, time.Time{}

	for _, f := range schema.RelationshipFields(c.Type) {
		delete(c.Fields, f)
	}
	for _, f := range []string{"title", "name"} {
		if s := c.String(f); s != "" {
			c.Set(f, s+copySuffix)
		}
	}
	if slug, ok := c.Fields["slug"].(map[string]any); ok {
		slug = maps.Clone(slug)
		if cur, _ := slug["current"].(string); cur != "" {
			slug["current"] = cur + slugSuffix
		}
		c.Set("slug", slug)
	}
	return c
}

// fetchEither returns the published revision of id, or its draft when the
// document was never published.
func fetchEither(ctx context.Context, st Store, id string) (*schema.Document, error) {
	var lastErr error
	for _, candidate := range slices.Compact([]string{schema.PublishedID(id), schema.DraftID(id)}) {
		doc, err := st.FetchOne(ctx, candidate)
		if err == nil {
			return doc, nil
		}
		lastErr = err
		if !errors.Is(err, store.ErrNotFound) {
			break
		}
	}
	return nil, fmt.Errorf("failed to load %s: %w", id, lastErr)
}
