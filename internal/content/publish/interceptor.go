package publish

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alibi-studio/refsync/internal/content/reconcile"
	"github.com/alibi-studio/refsync/internal/content/schema"
	"github.com/alibi-studio/refsync/internal/content/store"
)

// Executor runs phase-two tasks off the caller's path. key identifies the
// document so repeated submissions can be collapsed.
type Executor interface {
	Submit(key string, task func(ctx context.Context)) error
}

// Observer is notified after each post-publish reconciliation.
type Observer func(report *reconcile.Report, err error)

// Config configures the interceptor.
type Config struct {
	// WatchTypes lists the types whose publish action is wrapped.
	WatchTypes []schema.Type

	// Visibility bounds the wait for the published revision to be readable.
	Visibility Visibility
}

// DefaultConfig watches every type with relationship reconcilers.
func DefaultConfig() Config {
	return Config{
		WatchTypes: append([]schema.Type(nil), schema.SyncedTypes...),
		Visibility: DefaultVisibility(),
	}
}

// Interceptor wraps publish actions of watched types so that a successful
// publish is followed by relationship reconciliation.
//
// The publish (phase one) completes and returns to the caller independently
// of reconciliation (phase two). Phase two runs on the executor when one is
// configured, inline otherwise; its failures are logged and reported to the
// observer, never returned from the publish.
type Interceptor struct {
	repo       reconcile.Repository
	dispatcher *reconcile.Dispatcher
	watch      map[schema.Type]struct{}
	visibility Visibility

	executor Executor
	works    *reconcile.DirectorWorks
	observer Observer
	logger   *slog.Logger
}

// Option customizes an Interceptor.
type Option func(*Interceptor)

// WithExecutor runs phase two on e.
func WithExecutor(e Executor) Option {
	return func(i *Interceptor) { i.executor = e }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Interceptor) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithObserver registers a callback for finished reconciliations.
func WithObserver(o Observer) Option {
	return func(i *Interceptor) { i.observer = o }
}

// WithSyncWorks offers the manual "sync" action on DirectorWork documents.
func WithSyncWorks(works *reconcile.DirectorWorks) Option {
	return func(i *Interceptor) { i.works = works }
}

// NewInterceptor creates an interceptor dispatching through d.
func NewInterceptor(repo reconcile.Repository, d *reconcile.Dispatcher, cfg Config, opts ...Option) *Interceptor {
	i := &Interceptor{
		repo:       repo,
		dispatcher: d,
		watch:      make(map[schema.Type]struct{}, len(cfg.WatchTypes)),
		visibility: cfg.Visibility,
		logger:     slog.Default(),
	}
	for _, t := range cfg.WatchTypes {
		i.watch[t] = struct{}{}
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = i.logger.With("component", "publish")
	return i
}

// Watches reports whether publishes of t are intercepted.
func (i *Interceptor) Watches(t schema.Type) bool {
	_, ok := i.watch[t]
	return ok
}

// Actions returns prev with the publish action of a watched type wrapped.
// Other actions pass through unchanged. DirectorWork documents also get the
// manual sync action when configured.
func (i *Interceptor) Actions(t schema.Type, prev []Action) []Action {
	out := make([]Action, 0, len(prev)+1)
	for _, a := range prev {
		out = append(out, i.Wrap(t, a))
	}
	if t == schema.TypeDirectorWork && i.works != nil {
		out = append(out, SyncWorksAction(i.repo, i.works))
	}
	return out
}

// Wrap wraps a if it is the publish action of a watched type. Any other
// action is returned as is.
func (i *Interceptor) Wrap(t schema.Type, a Action) Action {
	if a.Name() != ActionPublish || !i.Watches(t) {
		return a
	}
	return &interceptedPublish{inner: a, i: i}
}

type interceptedPublish struct {
	inner Action
	i     *Interceptor
}

func (p *interceptedPublish) Name() string { return ActionPublish }

func (p *interceptedPublish) Handle(ctx context.Context, req Request) (*Outcome, error) {
	i := p.i
	id := schema.PublishedID(req.ID)
	draft := i.snapshot(ctx, id)

	outcome, err := p.inner.Handle(ctx, req)
	if err != nil {
		return nil, err
	}

	typ := req.Type
	var written *schema.Document
	if outcome != nil && outcome.Document != nil {
		typ = outcome.Document.Type
		written = outcome.Document
	}

	task := func(ctx context.Context) {
		i.reconcileAfterPublish(ctx, typ, id, draft, written)
	}
	if i.executor == nil {
		task(context.WithoutCancel(ctx))
		return outcome, nil
	}
	if err := i.executor.Submit(id, task); err != nil {
		i.logger.Warn("failed to schedule reconciliation", "id", id, "error", err)
	}
	return outcome, nil
}

// snapshot reads the pre-publish draft, or nil when there is none.
func (i *Interceptor) snapshot(ctx context.Context, id string) *schema.Document {
	draft, err := i.repo.FetchOne(ctx, schema.DraftID(id))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			i.logger.Warn("failed to read draft snapshot", "id", id, "error", err)
		}
		return nil
	}
	return draft
}

// Reconcile fetches the published revision of id and dispatches it.
func (i *Interceptor) Reconcile(ctx context.Context, id string) (*reconcile.Report, error) {
	doc, err := i.repo.FetchOne(ctx, schema.PublishedID(id))
	if err != nil {
		return nil, err
	}
	report, err := i.dispatcher.Dispatch(ctx, doc, nil)
	i.notify(report, err)
	return report, err
}

func (i *Interceptor) reconcileAfterPublish(ctx context.Context, typ schema.Type, id string, draft, written *schema.Document) {
	start := time.Now()
	doc, err := i.awaitVisible(ctx, typ, id, draft, written)
	if err != nil {
		i.logger.Error("published document not readable; skipping reconciliation", "id", id, "error", err)
		i.notify(nil, err)
		return
	}

	report, err := i.dispatcher.Dispatch(ctx, doc, draft)
	if err != nil {
		i.logger.Warn("reconciliation incomplete", "id", id, "type", doc.Type, "error", err)
	} else {
		i.logger.Info("reconciled after publish",
			"id", id, "type", doc.Type, "updated", report.Updated(), "elapsed", time.Since(start))
	}
	i.notify(report, err)
}

func (i *Interceptor) notify(report *reconcile.Report, err error) {
	if i.observer != nil {
		i.observer(report, err)
	}
}
