package publish

import (
	"context"
	"fmt"

	"github.com/alibi-studio/refsync/internal/content/schema"
)

// Studio resolves and runs document actions by name, the way an editor
// invokes them: the document's type selects the action list, which passes
// through the interceptor.
type Studio struct {
	store       Store
	interceptor *Interceptor
}

// NewStudio creates a Studio over st. interceptor may be nil, in which case
// actions run unwrapped.
func NewStudio(st Store, interceptor *Interceptor) *Studio {
	return &Studio{store: st, interceptor: interceptor}
}

// Actions lists the actions offered for documents of type t.
func (s *Studio) Actions(t schema.Type) []Action {
	actions := DefaultActions(s.store)
	if s.interceptor != nil {
		actions = s.interceptor.Actions(t, actions)
	}
	return actions
}

// Run invokes the named action on id. The document's type is read from its
// draft, or its published revision when there is no draft.
func (s *Studio) Run(ctx context.Context, action, id string) (*Outcome, error) {
	doc, err := fetchLatest(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	a, err := Find(s.Actions(doc.Type), action)
	if err != nil {
		return nil, fmt.Errorf("%w for %s", err, doc.Type)
	}
	return a.Handle(ctx, Request{ID: id, Type: doc.Type})
}
