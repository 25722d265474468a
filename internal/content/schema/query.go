package schema

import "time"

// Query selects documents from the repository. Zero-valued fields do not
// filter.
type Query struct {
	// Type restricts results to one type tag.
	Type Type

	// IDs restricts results to the given document ids.
	IDs []string

	// Field and References together select documents whose Field holds a
	// reference to References, either as a single reference or as an item
	// of a reference array.
	Field      string
	References string

	// PublishedOnly excludes draft revisions.
	PublishedOnly bool

	// UpdatedSince excludes documents last written before this instant.
	UpdatedSince time.Time

	// Limit caps the number of results (0 = no limit).
	Limit int
}

// Patch sets whole top-level fields on one document. Fields not named in Set
// are left untouched.
type Patch struct {
	ID  string
	Set map[string]any

	// IfRevision, when non-empty, makes the commit fail unless the stored
	// revision still matches.
	IfRevision string
}

// NewPatch starts a patch for id.
func NewPatch(id string) *Patch {
	return &Patch{ID: id, Set: map[string]any{}}
}

// SetField adds a field assignment and returns the patch for chaining.
func (p *Patch) SetField(field string, value any) *Patch {
	if p.Set == nil {
		p.Set = map[string]any{}
	}
	p.Set[field] = value
	return p
}

// WithRevision guards the patch with an expected revision.
func (p *Patch) WithRevision(rev string) *Patch {
	p.IfRevision = rev
	return p
}
