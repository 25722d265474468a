package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"
)

// Type is a document type tag.
type Type string

const (
	TypeDirector     Type = "director"
	TypeDirectorWork Type = "directorWork"
	TypeProject      Type = "project"
	TypeService      Type = "service"
	TypeSubService   Type = "subService"
)

// SyncedTypes lists every type that takes part in reference synchronization.
var SyncedTypes = []Type{
	TypeDirector,
	TypeDirectorWork,
	TypeProject,
	TypeService,
	TypeSubService,
}

// IsValid reports whether t is a non-empty type tag.
func (t Type) IsValid() bool {
	return t != "" && len(t) <= 64
}

// IsSynced reports whether t is one of SyncedTypes.
func (t Type) IsSynced() bool {
	for _, s := range SyncedTypes {
		if s == t {
			return true
		}
	}
	return false
}

// ErrInvalidDocument is returned by Validate for malformed documents.
var ErrInvalidDocument = errors.New("invalid document")

// Reserved top-level keys of the document wire format.
const (
	keyID        = "_id"
	keyType      = "_type"
	keyRev       = "_rev"
	keyCreatedAt = "_createdAt"
	keyUpdatedAt = "_updatedAt"
)

// Document is a typed record in the content repository.
//
// System attributes live in dedicated fields; everything else is kept in
// Fields exactly as stored. Relationship fields are read with Ref and Refs.
type Document struct {
	ID        string
	Type      Type
	Revision  string
	CreatedAt time.Time
	UpdatedAt time.Time
	Fields    map[string]any
}

// New returns an empty document of the given type.
func New(id string, typ Type) *Document {
	return &Document{ID: id, Type: typ, Fields: map[string]any{}}
}

// Validate checks the system attributes of the document.
func (d *Document) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: nil document", ErrInvalidDocument)
	}
	if d.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDocument)
	}
	if !d.Type.IsValid() {
		return fmt.Errorf("%w: type is required", ErrInvalidDocument)
	}
	for k := range d.Fields {
		if !IsFieldName(k) {
			return fmt.Errorf("%w: invalid field name %q", ErrInvalidDocument, k)
		}
	}
	return nil
}

// IsDraft reports whether the document is a draft revision.
func (d *Document) IsDraft() bool {
	return IsDraftID(d.ID)
}

// PublishedID returns the document id without the draft prefix.
func (d *Document) PublishedID() string {
	return PublishedID(d.ID)
}

// Get returns a raw field value.
func (d *Document) Get(field string) (any, bool) {
	if d == nil || d.Fields == nil {
		return nil, false
	}
	v, ok := d.Fields[field]
	return v, ok
}

// Set stores a raw field value.
func (d *Document) Set(field string, value any) {
	if d.Fields == nil {
		d.Fields = map[string]any{}
	}
	d.Fields[field] = value
}

// String returns a string field, or "" when absent or not a string.
func (d *Document) String(field string) string {
	v, _ := d.Get(field)
	s, _ := v.(string)
	return s
}

// Title returns the best human label for the document.
func (d *Document) Title() string {
	if s := d.String("title"); s != "" {
		return s
	}
	if s := d.String("name"); s != "" {
		return s
	}
	return d.ID
}

// Refs returns the reference items of an array field. Items that are not
// references are skipped. A missing field yields nil.
func (d *Document) Refs(field string) []Reference {
	v, ok := d.Get(field)
	if !ok {
		return nil
	}
	return decodeRefs(v)
}

// RefIDs returns the referenced ids of an array field in order.
func (d *Document) RefIDs(field string) []string {
	refs := d.Refs(field)
	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, r.Ref)
	}
	return ids
}

// Ref returns a single reference field.
func (d *Document) Ref(field string) (Reference, bool) {
	v, ok := d.Get(field)
	if !ok {
		return Reference{}, false
	}
	return decodeRef(v)
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		// Fields came from JSON or from reference values; both marshal.
		c := *d
		c.Fields = maps.Clone(d.Fields)
		return &c
	}
	var c Document
	if err := json.Unmarshal(data, &c); err != nil {
		cc := *d
		cc.Fields = maps.Clone(d.Fields)
		return &cc
	}
	return &c
}

// MarshalJSON encodes the document in the flat wire format.
func (d Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Fields)+5)
	for k, v := range d.Fields {
		out[k] = v
	}
	out[keyID] = d.ID
	out[keyType] = d.Type
	if d.Revision != "" {
		out[keyRev] = d.Revision
	}
	if !d.CreatedAt.IsZero() {
		out[keyCreatedAt] = d.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if !d.UpdatedAt.IsZero() {
		out[keyUpdatedAt] = d.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the flat wire format.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return d.FromMap(raw)
}

// FromMap fills the document from a decoded wire map. The map is consumed.
func (d *Document) FromMap(raw map[string]any) error {
	d.ID, _ = raw[keyID].(string)
	typ, _ := raw[keyType].(string)
	d.Type = Type(typ)
	d.Revision, _ = raw[keyRev].(string)
	d.CreatedAt = parseTime(raw[keyCreatedAt])
	d.UpdatedAt = parseTime(raw[keyUpdatedAt])

	for _, k := range []string{keyID, keyType, keyRev, keyCreatedAt, keyUpdatedAt} {
		delete(raw, k)
	}
	d.Fields = raw
	if d.Fields == nil {
		d.Fields = map[string]any{}
	}
	return nil
}

func parseTime(v any) time.Time {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// IsFieldName reports whether name can be used as a top-level field name.
// System keys (leading underscore) are rejected.
func IsFieldName(name string) bool {
	if name == "" || len(name) > 128 {
		return false
	}
	for i, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c == '_' && i > 0:
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
