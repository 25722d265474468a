// Package store provides the content repository backed by embedded SQLite.
//
// Documents are kept in a single table with the type tag and revision as
// columns and the field body as JSON. Relationship predicates are evaluated
// with SQLite's JSON functions so reference lookups never load unrelated
// documents.
//
// Architecture:
//   - Database file: .refsync/content.db
//   - WAL mode: concurrent readers while a patch commits
//   - Immediate write transactions: conflicting writers queue on busy_timeout
//   - Patches touch only the named top-level fields (json_set)
//
// Draft and published revisions of a document are separate rows; the draft
// row id carries schema.DraftPrefix.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/alibi-studio/refsync/internal/content/schema"
)

// timeLayout is fixed width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// DB wraps the SQLite connection with repository operations.
type DB struct {
	conn   *sql.DB
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// Option customizes Open.
type Option func(*DB)

// WithLogger sets the logger used for non-fatal store diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(db *DB) {
		if logger != nil {
			db.logger = logger
		}
	}
}

// WithClock overrides the time source for revision timestamps.
func WithClock(now func() time.Time) Option {
	return func(db *DB) {
		if now != nil {
			db.now = now
		}
	}
}

// Open creates a new database connection at the specified path.
//
// The database is opened in WAL mode with a busy timeout so concurrent
// reconcilers queue instead of failing. The schema is created if missing.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	db, err := store.Open(".refsync/content.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(path string, opts ...Option) (*DB, error) {
	file := strings.TrimPrefix(path, "file:")
	if i := strings.IndexByte(file, '?'); i >= 0 {
		file = file[:i]
	}
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := "file:" + file +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(wal)" +
		"&_pragma=foreign_keys(on)" +
		"&_txlock=immediate"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(16)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn:   conn,
		path:   file,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(db)
		}
	}
	db.logger = db.logger.With("component", "store")

	if err := db.InitSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		db.logger.Warn("failed to checkpoint WAL", "error", err)
	}
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.conn = nil
	return nil
}

// InitSchema creates the documents table and indexes. It is idempotent.
func (db *DB) InitSchema(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		rev TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '{}' CHECK (json_valid(body)),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_type ON documents(type);
	CREATE INDEX IF NOT EXISTS idx_documents_updated ON documents(updated_at);
	`
	if _, err := db.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// FetchOne returns the document stored under id (draft ids included).
// Returns ErrNotFound if there is no such document.
func (db *DB) FetchOne(ctx context.Context, id string) (*schema.Document, error) {
	row := db.conn.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch document %s: %w", id, err)
	}
	return doc, nil
}

// FetchMany returns the documents matching q, ordered by id.
func (db *DB) FetchMany(ctx context.Context, q schema.Query) ([]*schema.Document, error) {
	var conditions []string
	var args []any

	if q.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, string(q.Type))
	}

	if len(q.IDs) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?,", len(q.IDs)), ",")
		conditions = append(conditions, "id IN ("+marks+")")
		for _, id := range q.IDs {
			args = append(args, id)
		}
	}

	if q.Field != "" || q.References != "" {
		if !schema.IsFieldName(q.Field) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidField, q.Field)
		}
		// json_tree covers both a single reference object and an array of
		// reference items under the field.
		conditions = append(conditions, `EXISTS (
			SELECT 1 FROM json_tree(documents.body, ?) AS jt
			WHERE jt.key = '_ref' AND jt.atom = ?)`)
		args = append(args, "$."+q.Field, schema.PublishedID(q.References))
	}

	if q.PublishedOnly {
		conditions = append(conditions, "id NOT LIKE ?")
		args = append(args, schema.DraftPrefix+"%")
	}

	if !q.UpdatedSince.IsZero() {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, formatTime(q.UpdatedSince))
	}

	query := selectColumns
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id ASC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []*schema.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}
	return docs, nil
}

// Create inserts a new published document. An empty id is replaced with a
// generated one. Returns ErrAlreadyExists if the id is taken.
func (db *DB) Create(ctx context.Context, doc *schema.Document) (*schema.Document, error) {
	doc = doc.Clone()
	if doc == nil {
		return nil, fmt.Errorf("%w: nil document", schema.ErrInvalidDocument)
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	body, err := encodeBody(doc.Fields)
	if err != nil {
		return nil, err
	}
	now := db.now().UTC()
	rev := newRevision()

	_, err = db.conn.ExecContext(ctx, `
	INSERT INTO documents (id, type, rev, body, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`,
		doc.ID, string(doc.Type), rev, body, formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("failed to create document %s: %w", doc.ID, err)
	}

	created, err := db.FetchOne(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	if created.Revision != rev {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, doc.ID)
	}
	return created, nil
}

// SaveDraft writes doc as the draft revision of its document, replacing any
// previous draft body.
func (db *DB) SaveDraft(ctx context.Context, doc *schema.Document) (*schema.Document, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	id := schema.DraftID(doc.ID)

	body, err := encodeBody(doc.Fields)
	if err != nil {
		return nil, err
	}
	now := formatTime(db.now().UTC())

	_, err = db.conn.ExecContext(ctx, `
	INSERT INTO documents (id, type, rev, body, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		type = excluded.type,
		rev = excluded.rev,
		body = excluded.body,
		updated_at = excluded.updated_at`,
		id, string(doc.Type), newRevision(), body, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to save draft %s: %w", id, err)
	}
	return db.FetchOne(ctx, id)
}

// Publish promotes the draft of id to the published revision and removes the
// draft, atomically. Publishing a document without a draft is a no-op when a
// published revision exists.
func (db *DB) Publish(ctx context.Context, id string) (*schema.Document, error) {
	publishedID := schema.PublishedID(id)
	draftID := schema.DraftID(publishedID)

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var typ, body string
	err = tx.QueryRowContext(ctx, `SELECT type, body FROM documents WHERE id = ?`, draftID).Scan(&typ, &body)
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		doc, ferr := db.FetchOne(ctx, publishedID)
		if ferr != nil {
			return nil, fmt.Errorf("%w: nothing to publish for %s", ErrNotFound, publishedID)
		}
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read draft %s: %w", draftID, err)
	}

	now := formatTime(db.now().UTC())
	_, err = tx.ExecContext(ctx, `
	INSERT INTO documents (id, type, rev, body, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		type = excluded.type,
		rev = excluded.rev,
		body = excluded.body,
		updated_at = excluded.updated_at`,
		publishedID, typ, newRevision(), body, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to write published revision %s: %w", publishedID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, draftID); err != nil {
		return nil, fmt.Errorf("failed to remove draft %s: %w", draftID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit publish of %s: %w", publishedID, err)
	}
	return db.FetchOne(ctx, publishedID)
}

// Delete removes the document stored under id. Returns nil if it does not
// exist.
func (db *DB) Delete(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}

// TypeCount holds per-type document counts.
type TypeCount struct {
	Published int `json:"published"`
	Drafts    int `json:"drafts"`
}

// Counts returns published and draft counts per type.
func (db *DB) Counts(ctx context.Context) (map[schema.Type]TypeCount, error) {
	rows, err := db.conn.QueryContext(ctx, `
	SELECT type,
	       SUM(CASE WHEN id LIKE ? THEN 0 ELSE 1 END),
	       SUM(CASE WHEN id LIKE ? THEN 1 ELSE 0 END)
	FROM documents
	GROUP BY type
	ORDER BY type`, schema.DraftPrefix+"%", schema.DraftPrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	defer rows.Close()

	counts := make(map[schema.Type]TypeCount)
	for rows.Next() {
		var typ string
		var c TypeCount
		if err := rows.Scan(&typ, &c.Published, &c.Drafts); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[schema.Type(typ)] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counts: %w", err)
	}
	return counts, nil
}

const selectColumns = `SELECT id, type, rev, body, created_at, updated_at FROM documents`

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*schema.Document, error) {
	var id, typ, rev, body, createdAt, updatedAt string
	if err := row.Scan(&id, &typ, &rev, &body, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	fields := map[string]any{}
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return nil, fmt.Errorf("failed to decode body of %s: %w", id, err)
	}

	doc := &schema.Document{
		ID:       id,
		Type:     schema.Type(typ),
		Revision: rev,
		Fields:   fields,
	}
	doc.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	doc.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return doc, nil
}

func encodeBody(fields map[string]any) (string, error) {
	if fields == nil {
		return "{}", nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to encode document body: %w", err)
	}
	return string(data), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func newRevision() string {
	return uuid.NewString()
}
