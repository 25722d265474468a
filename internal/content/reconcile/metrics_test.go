package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/alibi-studio/refsync/internal/content/schema"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	before := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(before) })
	return rec
}

func spanAttrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	return attrs
}

func TestReconcile_RecordsSpan(t *testing.T) {
	rec := recordSpans(t)
	db := setupStore(t)

	put(t, db, "s-1", schema.TypeService, nil)
	put(t, db, "s-2", schema.TypeService, nil)
	p1 := put(t, db, "p-1", schema.TypeProject, map[string]any{schema.FieldServices: refs("s-1", "s-2")})

	_, err := NewSymmetric(db, nil, 2).Reconcile(context.Background(), p1, nil)
	require.NoError(t, err)

	var found sdktrace.ReadOnlySpan
	for _, span := range rec.Ended() {
		if span.Name() == "reconcile.symmetric" && spanAttrs(span)["reconcile.source"].AsString() == "p-1" {
			found = span
		}
	}
	require.NotNil(t, found, "symmetric run must end a span")

	attrs := spanAttrs(found)
	assert.Equal(t, int64(2), attrs["reconcile.updated"].AsInt64())
	assert.Equal(t, int64(0), attrs["reconcile.failed"].AsInt64())
	assert.Equal(t, "symmetric", attrs["reconcile.reconciler"].AsString())
	assert.NotEqual(t, codes.Error, found.Status().Code)
}

func TestReconcile_SpanMarksPartialFailure(t *testing.T) {
	rec := recordSpans(t)
	db := setupStore(t)
	repo := newFaultyRepo(db)
	repo.failCommit["s-1"] = true

	put(t, db, "s-1", schema.TypeService, nil)
	p1 := put(t, db, "p-9", schema.TypeProject, map[string]any{schema.FieldServices: refs("s-1")})

	_, err := NewSymmetric(repo, nil, 1).Reconcile(context.Background(), p1, nil)
	require.NoError(t, err)

	var status codes.Code
	for _, span := range rec.Ended() {
		if spanAttrs(span)["reconcile.source"].AsString() == "p-9" {
			status = span.Status().Code
			assert.Equal(t, int64(1), spanAttrs(span)["reconcile.failed"].AsInt64())
		}
	}
	assert.Equal(t, codes.Error, status)
}
