package store

import (
	"errors"

	"github.com/ncruces/go-sqlite3"
)

var (
	// ErrNotFound is returned when a document id does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrRevisionConflict is returned when a guarded patch finds a newer
	// revision than the one it was built against.
	ErrRevisionConflict = errors.New("revision conflict")

	// ErrAlreadyExists is returned by Create for a taken id.
	ErrAlreadyExists = errors.New("document already exists")

	// ErrInvalidField is returned for field names that cannot be addressed.
	ErrInvalidField = errors.New("invalid field name")
)

// IsRetryable reports whether err is transient: a revision race or a locked
// database.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrRevisionConflict) ||
		errors.Is(err, sqlite3.BUSY) ||
		errors.Is(err, sqlite3.LOCKED)
}
