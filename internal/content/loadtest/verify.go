package loadtest

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/alibi-studio/refsync/internal/content/reconcile"
	"github.com/alibi-studio/refsync/internal/content/schema"
)

// Inconsistency is one relationship field that does not match the rest of
// the published graph.
type Inconsistency struct {
	ID    string
	Field string

	// Missing ids should be listed and are not.
	Missing []string

	// Extra ids are listed but nothing on the other side claims them.
	Extra []string
}

func (i Inconsistency) String() string {
	var parts []string
	if len(i.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(i.Missing, ","))
	}
	if len(i.Extra) > 0 {
		parts = append(parts, "extra "+strings.Join(i.Extra, ","))
	}
	return fmt.Sprintf("%s.%s: %s", i.ID, i.Field, strings.Join(parts, "; "))
}

// Verify compares every inverse field of the published graph with what
// reconciliation derives. Triad inverse fields must match exactly.
// Director.works must hold every work that names the director; other
// entries may be hand-curated and are not checked.
func Verify(ctx context.Context, repo reconcile.Repository) ([]Inconsistency, error) {
	byType := map[schema.Type][]*schema.Document{}
	types := map[string]schema.Type{}
	for _, t := range schema.SyncedTypes {
		docs, err := repo.FetchMany(ctx, schema.Query{Type: t, PublishedOnly: true})
		if err != nil {
			return nil, fmt.Errorf("failed to load %s documents: %w", t, err)
		}
		byType[t] = docs
		for _, d := range docs {
			types[d.ID] = t
		}
	}

	var found []Inconsistency
	for _, e := range schema.TriadEdges {
		found = append(found, checkEdge(e, byType, types)...)
	}
	found = append(found, checkWorks(byType)...)
	return found, nil
}

func checkEdge(e schema.Edge, byType map[schema.Type][]*schema.Document, types map[string]schema.Type) []Inconsistency {
	expected := map[string][]string{}
	for _, src := range byType[e.Source] {
		for _, ref := range src.RefIDs(e.SourceField) {
			if types[ref] == e.Counterpart {
				expected[ref] = append(expected[ref], src.ID)
			}
		}
	}

	var found []Inconsistency
	for _, c := range byType[e.Counterpart] {
		actual := c.RefIDs(e.CounterpartField)
		missing, extra := diff(expected[c.ID], actual)
		if len(missing)+len(extra) > 0 {
			found = append(found, Inconsistency{ID: c.ID, Field: e.CounterpartField, Missing: missing, Extra: extra})
		}
	}
	return found
}

func checkWorks(byType map[schema.Type][]*schema.Document) []Inconsistency {
	expected := map[string][]string{}
	for _, w := range byType[schema.TypeDirectorWork] {
		if ref, ok := w.Ref(schema.FieldDirector); ok {
			expected[ref.Ref] = append(expected[ref.Ref], w.ID)
		}
	}

	var found []Inconsistency
	for _, d := range byType[schema.TypeDirector] {
		missing, _ := diff(expected[d.ID], d.RefIDs(schema.FieldWorks))
		if len(missing) > 0 {
			found = append(found, Inconsistency{ID: d.ID, Field: schema.FieldWorks, Missing: missing})
		}
	}
	return found
}

// diff returns the ids of want absent from have, and of have absent from
// want, each sorted.
func diff(want, have []string) (missing, extra []string) {
	for _, id := range want {
		if !slices.Contains(have, id) {
			missing = append(missing, id)
		}
	}
	for _, id := range have {
		if !slices.Contains(want, id) {
			extra = append(extra, id)
		}
	}
	slices.Sort(missing)
	slices.Sort(extra)
	return missing, extra
}
