// Package telemetry installs the OpenTelemetry tracer provider that carries
// reconcile spans to an exporter.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ServiceName identifies refsync in exported spans.
const ServiceName = "refsync"

// ErrUnknownExporter is returned for an exporter name Init does not know.
var ErrUnknownExporter = errors.New("unknown trace exporter")

// Config selects where spans go. Tracing is off unless Enabled is set.
type Config struct {
	Enabled bool `mapstructure:"enabled"`

	// Exporter is "otlp" (gRPC) or "stdout".
	Exporter string `mapstructure:"exporter" validate:"oneof=otlp stdout"`

	// Endpoint is the OTLP receiver, host:port.
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`

	// SampleRatio is the fraction of root spans kept.
	SampleRatio float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`

	// Output receives stdout-exporter spans (default: os.Stderr).
	Output io.Writer `mapstructure:"-"`
}

// DefaultConfig returns tracing disabled, pointed at a local collector.
func DefaultConfig() Config {
	return Config{
		Exporter:    "otlp",
		Endpoint:    "localhost:4317",
		Insecure:    true,
		SampleRatio: 1,
	}
}

// Shutdown flushes and stops the installed provider.
type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

// Init installs a global tracer provider for cfg and returns its shutdown.
// With tracing disabled it installs nothing and the shutdown is a no-op.
func Init(ctx context.Context, cfg Config, version string) (Shutdown, error) {
	if !cfg.Enabled {
		return noop, nil
	}

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch cfg.Exporter {
	case "otlp":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	case "stdout":
		out := cfg.Output
		if out == nil {
			out = os.Stderr
		}
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(out))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExporter, cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s exporter: %w", cfg.Exporter, err)
	}

	tp := newProvider(version,
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func newProvider(version string, opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	res := resource.NewWithAttributes("",
		attribute.String("service.name", ServiceName),
		attribute.String("service.version", version),
	)
	return sdktrace.NewTracerProvider(append(opts, sdktrace.WithResource(res))...)
}
