// Package schema defines the content documents handled by refsync.
//
// # Overview
//
// Every document in the content repository has a stable id, a type tag and a
// free-form body of fields. A logical document exists in up to two revisions:
//
//	drafts.p-123   editable draft, invisible to published queries
//	p-123          committed published revision
//
// The draft id is the published id prefixed with DraftPrefix. Use PublishedID
// before using any id as a query target or storage key.
//
// # References
//
// Relationship fields hold reference items:
//
//	{"_key": "s-1", "_type": "reference", "_ref": "s-1"}
//
// Arrays of references carry a _key unique within the array. Keys written by
// the reconcilers are derived from the referenced id so repeated runs produce
// identical arrays.
//
// # Relationships
//
// The fixed relationship table (see Relations) describes which fields of
// which types point where:
//
//	director.works          -> directorWork | project   (derived + manual)
//	directorWork.director   -> director                 (authoritative)
//	project.director        -> director                 (derived)
//	project.services        <-> service.projects
//	project.subServices     <-> subService.projects
//	service.subServices     <-> subService.services
package schema
