// Package importer loads documents in bulk from JSONL or YAML files.
//
// Imported documents are saved as drafts. With Options.Publish each draft is
// then published through the document action chain, so relationship fields
// reconcile exactly as they do for an editor's publish.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/alibi-studio/refsync/internal/content/publish"
	"github.com/alibi-studio/refsync/internal/content/schema"
)

// ErrNoPublisher is returned when publishing is requested without a
// publisher.
var ErrNoPublisher = errors.New("import: publishing requested but no publisher configured")

// Store is the write side used for imported drafts.
type Store interface {
	SaveDraft(ctx context.Context, doc *schema.Document) (*schema.Document, error)
}

// Publisher runs a named document action. *publish.Studio implements it.
type Publisher interface {
	Run(ctx context.Context, action, id string) (*publish.Outcome, error)
}

// Options controls one import run.
type Options struct {
	// DefaultType is applied to records without a _type.
	DefaultType schema.Type

	// Publish publishes every imported draft.
	Publish bool

	// DryRun validates records without writing anything.
	DryRun bool
}

// Result contains statistics about an import.
type Result struct {
	Read      int
	Saved     int
	Published int
	IDs       []string
	Errors    []string
}

// Importer writes decoded documents to a store.
type Importer struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
}

// Option configures an Importer.
type Option func(*Importer)

// WithPublisher sets the publisher used when Options.Publish is set.
func WithPublisher(p Publisher) Option {
	return func(im *Importer) { im.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(im *Importer) {
		if logger != nil {
			im.logger = logger
		}
	}
}

// New creates an Importer over st.
func New(st Store, opts ...Option) *Importer {
	im := &Importer{store: st, logger: slog.Default()}
	for _, opt := range opts {
		opt(im)
	}
	im.logger = im.logger.With("component", "importer")
	return im
}

// ImportFile decodes path, picking the format from its extension when f is
// empty, and imports the documents.
func (im *Importer) ImportFile(ctx context.Context, path string, f Format, opts Options) (*Result, error) {
	if f == "" {
		var err error
		if f, err = DetectFormat(path); err != nil {
			return nil, err
		}
	}

	// #nosec G304 - controlled path from CLI
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open import file: %w", err)
	}
	defer file.Close()

	docs, err := Decode(file, f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return im.Import(ctx, docs, opts)
}

// Import saves docs in order. Invalid records and failed writes are recorded
// in Result.Errors and do not stop the run; a cancelled context does.
func (im *Importer) Import(ctx context.Context, docs []*schema.Document, opts Options) (*Result, error) {
	if opts.Publish && !opts.DryRun && im.publisher == nil {
		return nil, ErrNoPublisher
	}

	result := &Result{}
	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Read++

		doc = prepare(doc, opts.DefaultType)
		if err := doc.Validate(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("record %d: %v", i+1, err))
			continue
		}
		if opts.DryRun {
			result.IDs = append(result.IDs, doc.ID)
			continue
		}

		if _, err := im.store.SaveDraft(ctx, doc); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", doc.ID, err))
			continue
		}
		result.Saved++
		result.IDs = append(result.IDs, doc.ID)

		if !opts.Publish {
			continue
		}
		if _, err := im.publisher.Run(ctx, publish.ActionPublish, doc.ID); err != nil {
			im.logger.Warn("publish failed", "id", doc.ID, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: publish: %v", doc.ID, err))
			continue
		}
		result.Published++
	}

	im.logger.Info("import finished",
		"read", result.Read, "saved", result.Saved, "published", result.Published,
		"errors", len(result.Errors), "dry_run", opts.DryRun)
	return result, nil
}

// prepare fills in the type and id and normalizes the id to its published
// form; SaveDraft adds the draft prefix.
func prepare(doc *schema.Document, defaultType schema.Type) *schema.Document {
	if doc == nil {
		return nil
	}
	doc = doc.Clone()
	if doc.Type == "" {
		doc.Type = defaultType
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	doc.ID = schema.PublishedID(doc.ID)
	doc.Revision = ""
	return doc
}
