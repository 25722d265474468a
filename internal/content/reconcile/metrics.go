package reconcile

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName scopes reconcile spans.
const tracerName = "refsync.reconcile"

var (
	// runDuration measures one reconciler run.
	// Labels: reconciler, status (ok, partial, aborted)
	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "refsync",
		Subsystem: "reconcile",
		Name:      "run_duration_seconds",
		Help:      "Duration of a single reconciler run in seconds",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"reconciler", "status"})

	// patchesTotal counts counterpart patches.
	// Labels: reconciler, outcome (updated, unchanged, failed)
	patchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "refsync",
		Subsystem: "reconcile",
		Name:      "patches_total",
		Help:      "Counterpart documents visited by reconcilers, by outcome",
	}, []string{"reconciler", "outcome"})

	// conflictsTotal counts commits rejected because the counterpart
	// changed after it was read.
	conflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "refsync",
		Subsystem: "reconcile",
		Name:      "conflicts_total",
		Help:      "Counterpart commits retried after a concurrent write",
	}, []string{"reconciler"})

	// dispatchTotal counts dispatches by source type.
	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "refsync",
		Subsystem: "reconcile",
		Name:      "dispatch_total",
		Help:      "Published documents dispatched to reconcilers",
	}, []string{"type"})
)

func startRunSpan(ctx context.Context, name, source string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "reconcile."+name,
		trace.WithAttributes(
			attribute.String("reconcile.reconciler", name),
			attribute.String("reconcile.source", source),
		),
	)
}

// finishRun records metrics and span attributes for a finished run.
func finishRun(span trace.Span, start time.Time, name string, res *Result, err error) {
	status := "ok"
	switch {
	case err != nil:
		status = "aborted"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case res != nil && len(res.Failed) > 0:
		status = "partial"
		span.SetStatus(codes.Error, "counterpart patches failed")
	}
	runDuration.WithLabelValues(name, status).Observe(time.Since(start).Seconds())

	if res != nil {
		patchesTotal.WithLabelValues(name, "updated").Add(float64(len(res.Updated)))
		patchesTotal.WithLabelValues(name, "unchanged").Add(float64(len(res.Unchanged)))
		patchesTotal.WithLabelValues(name, "failed").Add(float64(len(res.Failed)))
		span.SetAttributes(
			attribute.Int("reconcile.updated", len(res.Updated)),
			attribute.Int("reconcile.unchanged", len(res.Unchanged)),
			attribute.Int("reconcile.failed", len(res.Failed)),
		)
	}
	span.End()
}
