package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alibi-studio/refsync/internal/content/schema"
)

func ref(key, id string) schema.Reference {
	return schema.Reference{Key: key, Type: schema.ReferenceType, Ref: id}
}

func TestMergeWorks(t *testing.T) {
	tests := []struct {
		name    string
		manual  []schema.Reference
		derived []string
		want    []schema.Reference
	}{
		{
			name:    "derived only",
			derived: []string{"w-1", "w-2"},
			want:    []schema.Reference{ref("w-1", "w-1"), ref("w-2", "w-2")},
		},
		{
			name:    "manual first and keeps its key",
			manual:  []schema.Reference{ref("custom", "p-1")},
			derived: []string{"w-1"},
			want:    []schema.Reference{ref("custom", "p-1"), ref("w-1", "w-1")},
		},
		{
			name:    "manual key collides with derived id",
			manual:  []schema.Reference{ref("w-1", "p-1")},
			derived: []string{"w-1"},
			want:    []schema.Reference{ref("w-1", "p-1"), ref("w-1-2", "w-1")},
		},
		{
			name:    "manual wins on duplicate id",
			manual:  []schema.Reference{ref("mine", "w-1")},
			derived: []string{"w-1", "w-2"},
			want:    []schema.Reference{ref("mine", "w-1"), ref("w-2", "w-2")},
		},
		{
			name:   "missing manual key defaults to id",
			manual: []schema.Reference{{Type: schema.ReferenceType, Ref: "drafts.p-2"}},
			want:   []schema.Reference{ref("p-2", "p-2")},
		},
		{
			name:   "duplicate manual entries collapse",
			manual: []schema.Reference{ref("a", "p-1"), ref("b", "p-1"), ref("a", "p-2")},
			want:   []schema.Reference{ref("a", "p-1"), ref("a-2", "p-2")},
		},
		{
			name: "empty",
			want: []schema.Reference{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mergeWorks(tt.manual, tt.derived))
		})
	}
}

func TestHoldsExactly(t *testing.T) {
	doc := schema.New("s-1", schema.TypeService)
	assert.False(t, holdsExactly(doc, schema.FieldProjects, []schema.Reference{}), "absent must not equal empty")

	doc.Set(schema.FieldProjects, []any{})
	assert.True(t, holdsExactly(doc, schema.FieldProjects, []schema.Reference{}))

	doc.Set(schema.FieldProjects, []any{
		map[string]any{"_key": "p-1", "_type": "reference", "_ref": "p-1"},
		"junk",
	})
	assert.False(t, holdsExactly(doc, schema.FieldProjects, refs("p-1")), "stray items must force a rewrite")

	doc.Set(schema.FieldProjects, refs("p-1", "p-2"))
	assert.True(t, holdsExactly(doc, schema.FieldProjects, refs("p-1", "p-2")))
	assert.False(t, holdsExactly(doc, schema.FieldProjects, refs("p-2", "p-1")))
}

func TestUnion(t *testing.T) {
	got := union([]string{"s-2", "drafts.s-1", ""}, []string{"s-1", "s-3"})
	assert.Equal(t, []string{"s-2", "s-1", "s-3"}, got)
}
