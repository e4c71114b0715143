package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/marketbytes-devops/kwa-console/internal/config"
	"github.com/marketbytes-devops/kwa-console/model"
)

const tracerName = "github.com/marketbytes-devops/kwa-console"

// Span names.
const (
	SpanPageOperation  = "page.operation"
	SpanBackendRequest = "backend.request"
)

// Attribute keys set on console spans.
var (
	AttrPageID        = attribute.Key("kwa.page_id")
	AttrOperation     = attribute.Key("kwa.operation")
	AttrBackendRoute  = attribute.Key("kwa.backend.route")
	AttrBackendMethod = attribute.Key("kwa.backend.method")
	AttrCircuitOpen   = attribute.Key("kwa.backend.circuit_open")
	AttrErrorCode     = attribute.Key("kwa.error_code")
	AttrCanceled      = attribute.Key("kwa.canceled")
)

// TracingShutdown flushes and stops the tracer provider.
type TracingShutdown func(context.Context) error

// InitTracing installs the global tracer provider and W3C propagators.
// A disabled config installs nothing and returns a no-op shutdown.
func InitTracing(ctx context.Context, cfg config.TracingConfig, serviceName, serviceVersion string) (TracingShutdown, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := spanExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	res, err := newResource(ctx, serviceName, serviceVersion)
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.SamplingRate)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

// newResource describes the process. The attributes carry no schema URL so
// they merge with whatever schema the SDK defaults use.
func newResource(ctx context.Context, serviceName, serviceVersion string) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
}

func spanExporter(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "stdout":
		return stdouttrace.New()
	case "otlp", "":
		var opts []otlptracegrpc.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		return otlptracegrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown exporter %q", cfg.Exporter)
	}
}

// samplerFor honours the caller's sampling decision and samples new traces
// at rate. A non-positive rate falls back to 10%.
func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate <= 0:
		rate = 0.1
	case rate >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartPageSpan starts the span covering one engine operation on a page.
func StartPageSpan(ctx context.Context, pageID, operation string) (context.Context, trace.Span) {
	return tracer().Start(ctx, SpanPageOperation, trace.WithAttributes(
		AttrPageID.String(pageID),
		AttrOperation.String(operation),
	))
}

// StartBackendSpan starts a client span for one call to the backend API.
func StartBackendSpan(ctx context.Context, method, route string) (context.Context, trace.Span) {
	return tracer().Start(ctx, SpanBackendRequest,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrBackendMethod.String(method),
			AttrBackendRoute.String(route),
		),
	)
}

// EndSpan ends span and records err on it. A canceled context is noted but
// does not mark the span as failed.
func EndSpan(span trace.Span, err error) {
	defer span.End()
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		span.SetAttributes(AttrCanceled.Bool(true))
		return
	}
	if env, ok := model.AsEnvelope(err); ok {
		span.SetAttributes(AttrErrorCode.String(env.Code))
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceContext returns the hex trace and span ids of the active span, or
// empty strings when there is none.
func TraceContext(ctx context.Context) (traceID, spanID string) {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	if sc.HasSpanID() {
		spanID = sc.SpanID().String()
	}
	return traceID, spanID
}

// InjectTraceHeaders writes the active trace context into outbound headers.
func InjectTraceHeaders(ctx context.Context, h http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(h))
}

// TraceRequests starts a server span per request, continuing any inbound
// W3C trace. The span is renamed to the chi route pattern once routing has
// run and carries the page id for page routes.
func TraceRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prop := otel.GetTextMapPropagator()
		ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer().Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.URLPath(r.URL.Path),
			),
		)
		defer span.End()

		prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		span.SetName(r.Method + " " + routePattern(r))
		if pageID := chi.URLParamFromCtx(r.Context(), "pageId"); pageID != "" {
			span.SetAttributes(AttrPageID.String(pageID))
		}
		span.SetAttributes(semconv.HTTPResponseStatusCode(rec.status))
		if rec.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}
	})
}
