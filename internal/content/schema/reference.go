package schema

import "strconv"

// ReferenceType is the _type value of every reference item.
const ReferenceType = "reference"

// Reference is a typed pointer to another document.
type Reference struct {
	Key  string `json:"_key,omitempty" yaml:"_key,omitempty"`
	Type string `json:"_type" yaml:"_type"`
	Ref  string `json:"_ref" yaml:"_ref"`
}

// NewReference returns a reference to id keyed by the id itself.
func NewReference(id string) Reference {
	id = PublishedID(id)
	return Reference{Key: id, Type: ReferenceType, Ref: id}
}

// SingleReference returns an unkeyed reference for single-valued fields.
func SingleReference(id string) Reference {
	return Reference{Type: ReferenceType, Ref: PublishedID(id)}
}

// KeyedReferences builds a reference array over ids, keyed by id and
// deduplicated by id. The result is never nil so an empty relationship is
// stored as [] rather than being absent.
func KeyedReferences(ids []string) []Reference {
	refs := make([]Reference, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = PublishedID(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		refs = append(refs, NewReference(id))
	}
	return refs
}

// UniqueKey returns base if it is not taken, otherwise base-2, base-3, ...
// The result is recorded in taken.
func UniqueKey(base string, taken map[string]struct{}) string {
	key := base
	for n := 2; ; n++ {
		if _, used := taken[key]; !used {
			break
		}
		key = base + "-" + strconv.Itoa(n)
	}
	taken[key] = struct{}{}
	return key
}

// EqualReferences reports whether two arrays hold identical items in the same
// order.
func EqualReferences(a, b []Reference) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func decodeRefs(v any) []Reference {
	switch vv := v.(type) {
	case []Reference:
		return vv
	case []any:
		refs := make([]Reference, 0, len(vv))
		for _, item := range vv {
			if r, ok := decodeRef(item); ok {
				refs = append(refs, r)
			}
		}
		return refs
	case []map[string]any:
		refs := make([]Reference, 0, len(vv))
		for _, item := range vv {
			if r, ok := decodeRef(item); ok {
				refs = append(refs, r)
			}
		}
		return refs
	default:
		return nil
	}
}

func decodeRef(v any) (Reference, bool) {
	switch vv := v.(type) {
	case Reference:
		return vv, vv.Ref != ""
	case *Reference:
		if vv == nil {
			return Reference{}, false
		}
		return *vv, vv.Ref != ""
	case map[string]any:
		ref, _ := vv["_ref"].(string)
		if ref == "" {
			return Reference{}, false
		}
		key, _ := vv["_key"].(string)
		typ, _ := vv["_type"].(string)
		if typ == "" {
			typ = ReferenceType
		}
		return Reference{Key: key, Type: typ, Ref: ref}, true
	default:
		return Reference{}, false
	}
}
