// Package observability provides distributed tracing for extraction runs.
// Metrics live in pkg/metrics and logging in pkg/logger; this package only
// owns the OTel tracer provider and span helpers around it.
//
// Tracing is opt-in. Until Init is called the helpers route through OTel's
// no-op tracer, so instrumented code pays nothing when tracing is off.
package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/ajitpratap0/hubble/pkg/errors"
)

const tracerName = "hubble"

var (
	mu       sync.Mutex
	provider *sdktrace.TracerProvider
)

// Config controls the tracer provider.
type Config struct {
	// ServiceName appears on every span's resource
	ServiceName string
	// ServiceVersion appears on every span's resource
	ServiceVersion string
	// Environment tags spans with the deployment environment
	Environment string
	// SampleRate is the trace sampling ratio, 0.0 to 1.0
	SampleRate float64
	// BatchTimeout bounds how long spans wait before export
	BatchTimeout time.Duration
}

// DefaultConfig returns tracing defaults suitable for development.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "hubble",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		SampleRate:     0.1,
		BatchTimeout:   5 * time.Second,
	}
}

// Init installs a tracer provider exporting pretty-printed spans to stdout.
// Calling Init twice replaces the previous provider.
func Init(cfg Config) error {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to build trace resource")
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to build trace exporter")
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate <= 0:
		sampler = sdktrace.NeverSample()
	case cfg.SampleRate >= 1:
		sampler = sdktrace.AlwaysSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(cfg.BatchTimeout)),
	)

	mu.Lock()
	provider = tp
	mu.Unlock()

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

// Shutdown flushes pending spans and stops the provider. Safe to call when
// Init never ran.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	tp := provider
	provider = nil
	mu.Unlock()

	if tp == nil {
		return nil
	}
	if err := tp.Shutdown(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to shut down tracer provider")
	}
	return nil
}

// Tracer returns the global tracer. It is a no-op tracer until Init runs.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// Span wraps an OTel span with the attribute shapes used in this codebase.
type Span struct {
	span trace.Span
}

// StartSpan opens a span for one operation.
func StartSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, *Span) {
	ctx, span := Tracer().Start(ctx, operation, trace.WithAttributes(attrs...))
	return ctx, &Span{span: span}
}

// SetAttribute records one attribute on the span.
func (s *Span) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, "unsupported"))
	}
}

// AddEvent records a point-in-time event on the span.
func (s *Span) AddEvent(name string, attrs ...attribute.KeyValue) {
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// End closes the span, recording err as the span status when non-nil.
func (s *Span) End(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}
