package tracing

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var setup struct {
	once sync.Once
	mu   sync.Mutex
	tp   *sdktrace.TracerProvider
	err  error
}

// InitOpenTelemetry installs the process-wide tracer provider. Later
// calls are no-ops that return the first outcome.
func InitOpenTelemetry(serviceName string) error {
	setup.once.Do(func() {
		res, err := resource.New(
			context.Background(),
			resource.WithAttributes(semconv.ServiceName(serviceName)),
		)
		if err != nil {
			setup.err = fmt.Errorf("otel resource: %w", err)
			return
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(1))),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)

		setup.mu.Lock()
		setup.tp = tp
		setup.mu.Unlock()
	})
	return setup.err
}

// ShutdownOpenTelemetry flushes pending spans. A nil provider, meaning
// Init never ran, is not an error.
func ShutdownOpenTelemetry(ctx context.Context) error {
	setup.mu.Lock()
	tp := setup.tp
	setup.mu.Unlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan opens a span under the named tracer and makes sure the
// returned context carries a trace ID for log correlation.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))

	if GetTraceID(ctx) == "" {
		if sc := span.SpanContext(); sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}
	return ctx, span
}
