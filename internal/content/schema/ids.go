package schema

import "strings"

// DraftPrefix marks the id of a draft revision.
const DraftPrefix = "drafts."

// IsDraftID reports whether id names a draft revision.
func IsDraftID(id string) bool {
	return strings.HasPrefix(id, DraftPrefix)
}

// PublishedID strips the draft prefix from id.
func PublishedID(id string) string {
	return strings.TrimPrefix(id, DraftPrefix)
}

// DraftID returns the draft revision id for id.
func DraftID(id string) string {
	if IsDraftID(id) {
		return id
	}
	return DraftPrefix + id
}
