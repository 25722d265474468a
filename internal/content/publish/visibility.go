package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/alibi-studio/refsync/internal/content/schema"
)

// Visibility bounds the post-publish read retry.
type Visibility struct {
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	MaxElapsed      time.Duration `mapstructure:"max_elapsed"`
}

// DefaultVisibility matches the store's usual commit latency.
func DefaultVisibility() Visibility {
	return Visibility{
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
		MaxElapsed:      3 * time.Second,
	}
}

var errStale = errors.New("published revision does not reflect the draft yet")

// awaitVisible fetches the published revision of id, retrying with
// exponential backoff until it reflects this publish. When the publish
// reported the revision it wrote, any read of that revision or of a later
// write counts; later writes include reconcilers patching derived fields of
// the same document. Otherwise the relationship source fields must match the
// pre-publish draft. When retries run out on a stale revision the last
// fetched revision is returned and the staleness is logged.
func (i *Interceptor) awaitVisible(ctx context.Context, typ schema.Type, id string, draft, written *schema.Document) (*schema.Document, error) {
	b := backoff.NewExponentialBackOff()
	if i.visibility.InitialInterval > 0 {
		b.InitialInterval = i.visibility.InitialInterval
	}
	if i.visibility.MaxInterval > 0 {
		b.MaxInterval = i.visibility.MaxInterval
	}
	maxElapsed := i.visibility.MaxElapsed
	if maxElapsed <= 0 {
		maxElapsed = DefaultVisibility().MaxElapsed
	}

	var last *schema.Document
	attempts := 0
	op := func() (*schema.Document, error) {
		attempts++
		doc, err := i.repo.FetchOne(ctx, id)
		if err != nil {
			return nil, err
		}
		last = doc
		switch {
		case written != nil && written.Revision != "":
			if !reflects(doc, written) {
				return nil, errStale
			}
		case draft != nil:
			if !sourceFieldsMatch(typ, doc, draft) {
				return nil, errStale
			}
		}
		return doc, nil
	}

	doc, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(maxElapsed),
	)
	if err == nil {
		return doc, nil
	}
	if errors.Is(err, errStale) && last != nil {
		i.logger.Warn("published revision still differs from draft; reconciling possibly stale data",
			"id", id, "attempts", attempts, "waited", maxElapsed)
		return last, nil
	}
	return nil, fmt.Errorf("failed to read published %s after %d attempts: %w", id, attempts, err)
}

// reflects reports whether fetched is the written revision or a later one.
func reflects(fetched, written *schema.Document) bool {
	if fetched.Revision == written.Revision {
		return true
	}
	return !written.UpdatedAt.IsZero() && fetched.UpdatedAt.After(written.UpdatedAt)
}

// sourceFieldsMatch compares the relationship fields reconciliation reads.
func sourceFieldsMatch(typ schema.Type, published, draft *schema.Document) bool {
	for _, f := range schema.SourceFields(typ) {
		a, aok := published.Get(f)
		b, bok := draft.Get(f)
		if aok != bok {
			return false
		}
		if !aok {
			continue
		}
		ja, errA := json.Marshal(a)
		jb, errB := json.Marshal(b)
		if errA != nil || errB != nil || !bytes.Equal(ja, jb) {
			return false
		}
	}
	return true
}
