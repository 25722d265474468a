package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/alibi-studio/refsync/internal/content/schema"
)

// Commit applies p to the stored document. Only the fields named in p.Set
// are replaced; every other field keeps its stored value. The document gets
// a new revision.
//
// Returns ErrNotFound if the document does not exist and ErrRevisionConflict
// if p.IfRevision is set and no longer matches.
func (db *DB) Commit(ctx context.Context, p *schema.Patch) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("%w: patch without document id", schema.ErrInvalidDocument)
	}
	if len(p.Set) == 0 {
		return nil
	}

	fields := make([]string, 0, len(p.Set))
	for f := range p.Set {
		if !schema.IsFieldName(f) {
			return fmt.Errorf("%w: %q", ErrInvalidField, f)
		}
		fields = append(fields, f)
	}
	slices.Sort(fields)

	var setArgs []string
	args := make([]any, 0, 2*len(fields)+4)
	for _, f := range fields {
		value, err := json.Marshal(p.Set[f])
		if err != nil {
			return fmt.Errorf("failed to encode field %s of %s: %w", f, p.ID, err)
		}
		setArgs = append(setArgs, "?, json(?)")
		args = append(args, "$."+f, string(value))
	}

	query := `UPDATE documents
	SET body = json_set(body, ` + strings.Join(setArgs, ", ") + `),
		rev = ?,
		updated_at = ?
	WHERE id = ?`
	args = append(args, newRevision(), formatTime(db.now()), p.ID)
	if p.IfRevision != "" {
		query += " AND rev = ?"
		args = append(args, p.IfRevision)
	}

	result, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to patch document %s: %w", p.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read patch result for %s: %w", p.ID, err)
	}
	if affected > 0 {
		return nil
	}

	var rev string
	err = db.conn.QueryRowContext(ctx, `SELECT rev FROM documents WHERE id = ?`, p.ID).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, p.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to check document %s: %w", p.ID, err)
	}
	return fmt.Errorf("%w: %s is at %s, patch expected %s", ErrRevisionConflict, p.ID, rev, p.IfRevision)
}

// PatchBuilder accumulates field assignments for one document.
//
// Example:
//
//	err := db.Patch("p-1").
//	    Set(map[string]any{"services": refs}).
//	    Commit(ctx)
type PatchBuilder struct {
	db    *DB
	patch *schema.Patch
}

// Patch starts a fluent patch on id.
func (db *DB) Patch(id string) *PatchBuilder {
	return &PatchBuilder{db: db, patch: schema.NewPatch(id)}
}

// Set adds field assignments.
func (b *PatchBuilder) Set(fields map[string]any) *PatchBuilder {
	for k, v := range fields {
		b.patch.SetField(k, v)
	}
	return b
}

// IfRevision guards the commit with the expected revision.
func (b *PatchBuilder) IfRevision(rev string) *PatchBuilder {
	b.patch.WithRevision(rev)
	return b
}

// Commit applies the accumulated patch.
func (b *PatchBuilder) Commit(ctx context.Context) error {
	return b.db.Commit(ctx, b.patch)
}
