package reconcile

import (
	"github.com/alibi-studio/refsync/internal/content/schema"
)

// derivedRefs builds a keyed reference array pointing at docs, in order.
func derivedRefs(docs []*schema.Document) []schema.Reference {
	return schema.KeyedReferences(docIDs(docs))
}

// mergeWorks combines manual entries with derived ids. Manual entries come
// first in their original order and keep their keys (an entry without a key
// gets its referenced id). Derived ids already present among the manual
// entries are dropped; the rest are appended with keys that do not collide
// with any manual key.
func mergeWorks(manual []schema.Reference, derived []string) []schema.Reference {
	out := make([]schema.Reference, 0, len(manual)+len(derived))
	keys := make(map[string]struct{}, len(manual)+len(derived))
	seen := make(map[string]struct{}, len(manual)+len(derived))

	for _, m := range manual {
		id := schema.PublishedID(m.Ref)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		key := m.Key
		if key == "" {
			key = id
		}
		key = schema.UniqueKey(key, keys)
		out = append(out, schema.Reference{Key: key, Type: schema.ReferenceType, Ref: id})
	}

	for _, id := range derived {
		id = schema.PublishedID(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, schema.Reference{
			Key:  schema.UniqueKey(id, keys),
			Type: schema.ReferenceType,
			Ref:  id,
		})
	}
	return out
}

// holdsExactly reports whether doc already stores want in field. An absent
// field never matches, so an empty derived set is still written once.
func holdsExactly(doc *schema.Document, field string, want []schema.Reference) bool {
	v, ok := doc.Get(field)
	if !ok || rawLen(v) != len(want) {
		return false
	}
	return schema.EqualReferences(doc.Refs(field), want)
}

// holdsSingle reports whether doc's single reference field points at ref.
func holdsSingle(doc *schema.Document, field, ref string) bool {
	r, ok := doc.Ref(field)
	return ok && r.Ref == ref && r.Type == schema.ReferenceType
}

// rawLen counts array items, reference or not. Non-arrays yield -1.
func rawLen(v any) int {
	switch vv := v.(type) {
	case []any:
		return len(vv)
	case []schema.Reference:
		return len(vv)
	case []map[string]any:
		return len(vv)
	}
	return -1
}

// union returns a followed by the ids of b not in a, without duplicates or
// empty ids. Draft prefixes are stripped.
func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, id := range list {
			id = schema.PublishedID(id)
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func docIDs(docs []*schema.Document) []string {
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids
}
