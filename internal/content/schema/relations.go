package schema

import "slices"

// Relationship field names.
const (
	FieldWorks       = "works"
	FieldDirector    = "director"
	FieldProjects    = "projects"
	FieldServices    = "services"
	FieldSubServices = "subServices"
)

// Edge is one direction of a symmetric many-to-many relationship: documents
// of Source list counterparts in SourceField, and each counterpart lists its
// sources back in CounterpartField.
type Edge struct {
	Source           Type
	SourceField      string
	Counterpart      Type
	CounterpartField string
}

// Inverse returns the same relationship seen from the counterpart side.
func (e Edge) Inverse() Edge {
	return Edge{
		Source:           e.Counterpart,
		SourceField:      e.CounterpartField,
		Counterpart:      e.Source,
		CounterpartField: e.SourceField,
	}
}

// TriadEdges is the Project/Service/SubService relationship table. Every
// pair appears in both directions.
var TriadEdges = []Edge{
	{Source: TypeProject, SourceField: FieldServices, Counterpart: TypeService, CounterpartField: FieldProjects},
	{Source: TypeProject, SourceField: FieldSubServices, Counterpart: TypeSubService, CounterpartField: FieldProjects},
	{Source: TypeService, SourceField: FieldProjects, Counterpart: TypeProject, CounterpartField: FieldServices},
	{Source: TypeService, SourceField: FieldSubServices, Counterpart: TypeSubService, CounterpartField: FieldServices},
	{Source: TypeSubService, SourceField: FieldProjects, Counterpart: TypeProject, CounterpartField: FieldSubServices},
	{Source: TypeSubService, SourceField: FieldServices, Counterpart: TypeService, CounterpartField: FieldSubServices},
}

// EdgesFrom returns the triad edges whose source is t.
func EdgesFrom(t Type) []Edge {
	var edges []Edge
	for _, e := range TriadEdges {
		if e.Source == t {
			edges = append(edges, e)
		}
	}
	return edges
}

// SourceFields returns the relationship fields of t that reconciliation
// reads from a freshly published document of that type.
func SourceFields(t Type) []string {
	switch t {
	case TypeDirector:
		return []string{FieldWorks}
	case TypeDirectorWork:
		return []string{FieldDirector}
	}
	var fields []string
	for _, e := range EdgesFrom(t) {
		fields = append(fields, e.SourceField)
	}
	return fields
}

// DerivedFields returns the fields of t that reconciliation overwrites.
// Director.works keeps manual entries and is not listed.
func DerivedFields(t Type) []string {
	switch t {
	case TypeProject:
		return []string{FieldDirector, FieldServices, FieldSubServices}
	case TypeService:
		return []string{FieldProjects, FieldSubServices}
	case TypeSubService:
		return []string{FieldProjects, FieldServices}
	}
	return nil
}

// RelationshipFields returns every reference field of t that takes part in
// synchronization, authored or derived.
func RelationshipFields(t Type) []string {
	fields := SourceFields(t)
	for _, f := range DerivedFields(t) {
		if !slices.Contains(fields, f) {
			fields = append(fields, f)
		}
	}
	return fields
}
