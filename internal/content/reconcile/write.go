package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/alibi-studio/refsync/internal/content/schema"
	"github.com/alibi-studio/refsync/internal/content/store"
)

// conflictAttempts bounds how often one counterpart is re-read and
// re-derived after another writer changed it between read and commit.
const conflictAttempts = 8

// writeError marks a failed commit, as opposed to a failed read.
type writeError struct{ err error }

func (e *writeError) Error() string { return e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

// retryConflicts runs attempt until it returns anything other than a
// revision conflict or a locked database. Each attempt must re-read what it
// writes.
func retryConflicts(ctx context.Context, reconciler string, attempt func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 50 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := attempt()
		switch {
		case err == nil:
			return struct{}{}, nil
		case store.IsRetryable(err):
			if errors.Is(err, store.ErrRevisionConflict) {
				conflictsTotal.WithLabelValues(reconciler).Inc()
			}
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(conflictAttempts))
	return err
}

// pointProjectAt sets project.director to directorID, guarded by the
// revision of the project document it last read.
func pointProjectAt(ctx context.Context, repo Repository, reconciler string, project *schema.Document, directorID string) (outcome, error) {
	current := project
	var out outcome
	err := retryConflicts(ctx, reconciler, func() error {
		if current == nil {
			fresh, err := repo.FetchOne(ctx, project.ID)
			if err != nil {
				return err
			}
			current = fresh
		}
		if holdsSingle(current, schema.FieldDirector, directorID) {
			out = outcomeUnchanged
			return nil
		}

		patch := schema.NewPatch(current.ID).
			SetField(schema.FieldDirector, schema.SingleReference(directorID)).
			WithRevision(current.Revision)
		if err := repo.Commit(ctx, patch); err != nil {
			current = nil
			return &writeError{err}
		}
		out = outcomeUpdated
		return nil
	})
	return out, err
}
