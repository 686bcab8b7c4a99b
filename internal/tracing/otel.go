package tracing

import (
	"context"
	"os"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// EnvSampleRatio overrides the trace sampling ratio. The daemon traces every
// request when unset; a busy deployment can dial it down without a restartable
// config change.
const EnvSampleRatio = "SESSIOND_TRACE_SAMPLE"

var (
	initOnce sync.Once
	globalMu sync.RWMutex
	globalTP *sdktrace.TracerProvider
	initErr  error
)

func sampleRatio() float64 {
	raw := os.Getenv(EnvSampleRatio)
	if raw == "" {
		return 1
	}
	ratio, err := strconv.ParseFloat(raw, 64)
	if err != nil || ratio < 0 || ratio > 1 {
		return 1
	}
	return ratio
}

// InitOpenTelemetry installs the process-wide tracer provider. Each daemon
// process gets its own service.instance.id so traces from concurrently
// running daemons stay distinguishable. Safe to call more than once.
func InitOpenTelemetry(serviceName string) error {
	initOnce.Do(func() {
		res, err := resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(serviceName),
				semconv.ServiceInstanceID(NewTraceID()),
			),
		)
		if err != nil {
			initErr = err
			return
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio()))),
			sdktrace.WithResource(res),
		)

		globalMu.Lock()
		globalTP = tp
		globalMu.Unlock()

		otel.SetTracerProvider(tp)
	})

	return initErr
}

// ShutdownOpenTelemetry flushes and shuts down the tracer provider installed
// by InitOpenTelemetry. A no-op when tracing was never initialized.
func ShutdownOpenTelemetry(ctx context.Context) error {
	globalMu.RLock()
	tp := globalTP
	globalMu.RUnlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// identityAttrs collects the session, job, and client identity carried by the
// context so callers never repeat them per span.
func identityAttrs(ctx context.Context) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if id := GetSessionID(ctx); id != "" {
		attrs = append(attrs, attribute.String(string(SessionIDKey), id))
	}
	if id := GetJobID(ctx); id != "" {
		attrs = append(attrs, attribute.String(string(JobIDKey), id))
	}
	if id := GetClientID(ctx); id != "" {
		attrs = append(attrs, attribute.String(string(ClientIDKey), id))
	}
	return attrs
}

// StartSpan starts a span carrying the caller's attributes plus whatever
// identity the context already holds, and back-fills trace_id into the
// context for log correlation.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	attrs = append(attrs, identityAttrs(ctx)...)
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))

	if GetTraceID(ctx) == "" {
		sc := span.SpanContext()
		if sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}

	return ctx, span
}
