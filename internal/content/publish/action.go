// Package publish implements document actions and the publish interceptor
// that reconciles relationships after a publish.
package publish

import (
	"context"
	"errors"
	"fmt"

	"github.com/alibi-studio/refsync/internal/content/reconcile"
	"github.com/alibi-studio/refsync/internal/content/schema"
)

// Action names.
const (
	ActionPublish   = "publish"
	ActionDuplicate = "duplicate"
	ActionSync      = "sync"
)

// ErrUnknownAction is returned when no action with the requested name is
// offered for a type.
var ErrUnknownAction = errors.New("unknown action")

// Request identifies the document an action runs on. ID may carry the draft
// prefix.
type Request struct {
	ID   string
	Type schema.Type
}

// Outcome is the result of a handled action.
type Outcome struct {
	// Document is the document the action produced or touched.
	Document *schema.Document

	// Message is a short human readable summary.
	Message string
}

// Action is one operation offered on a document.
type Action interface {
	Name() string
	Handle(ctx context.Context, req Request) (*Outcome, error)
}

// HandlerFunc adapts a function to the Handle method.
type HandlerFunc func(ctx context.Context, req Request) (*Outcome, error)

type namedAction struct {
	name string
	fn   HandlerFunc
}

// NewAction builds an Action from a name and handler.
func NewAction(name string, fn HandlerFunc) Action {
	return &namedAction{name: name, fn: fn}
}

func (a *namedAction) Name() string { return a.name }

func (a *namedAction) Handle(ctx context.Context, req Request) (*Outcome, error) {
	return a.fn(ctx, req)
}

// Store is the content store the built-in actions run against.
type Store interface {
	reconcile.Repository
	Publish(ctx context.Context, id string) (*schema.Document, error)
	Create(ctx context.Context, doc *schema.Document) (*schema.Document, error)
}

// PublishAction is the platform publish: it promotes the draft revision of
// the requested document.
func PublishAction(st Store) Action {
	return NewAction(ActionPublish, func(ctx context.Context, req Request) (*Outcome, error) {
		doc, err := st.Publish(ctx, req.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to publish %s: %w", req.ID, err)
		}
		return &Outcome{Document: doc, Message: "Published " + doc.Title()}, nil
	})
}

// DefaultActions returns the built-in actions for a document type, before
// interception.
func DefaultActions(st Store) []Action {
	return []Action{PublishAction(st), DuplicateAction(st)}
}

// Find returns the action named name.
func Find(actions []Action, name string) (Action, error) {
	for _, a := range actions {
		if a.Name() == name {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownAction, name)
}
