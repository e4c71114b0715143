package observability

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/marketbytes-devops/kwa-console/internal/config"
	"github.com/marketbytes-devops/kwa-console/model"
)

// recordSpans installs an always-sampling provider backed by an in-memory
// exporter for the duration of the test.
func recordSpans(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
	return exporter
}

func onlySpan(t *testing.T, exporter *tracetest.InMemoryExporter) tracetest.SpanStub {
	t.Helper()
	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	return spans[0]
}

func attrs(s tracetest.SpanStub) map[string]string {
	m := make(map[string]string, len(s.Attributes))
	for _, a := range s.Attributes {
		m[string(a.Key)] = a.Value.Emit()
	}
	return m
}

func TestInitTracing(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.TracingConfig
		wantErr bool
	}{
		{"disabled", config.TracingConfig{}, false},
		{"stdout", config.TracingConfig{Enabled: true, Exporter: "stdout", SamplingRate: 1}, false},
		{"unknown exporter", config.TracingConfig{Enabled: true, Exporter: "zipkin"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := otel.GetTracerProvider()
			t.Cleanup(func() { otel.SetTracerProvider(prev) })

			shutdown, err := InitTracing(context.Background(), tt.cfg, "kwa-console", "test")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("InitTracing() error = %v", err)
			}
			if err := shutdown(context.Background()); err != nil {
				t.Errorf("shutdown() error = %v", err)
			}
		})
	}
}

func TestNewResource(t *testing.T) {
	res, err := newResource(context.Background(), "kwa-console", "1.4.0")
	if err != nil {
		t.Fatalf("newResource() error = %v", err)
	}
	got := map[string]string{}
	for _, kv := range res.Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	if got["service.name"] != "kwa-console" || got["service.version"] != "1.4.0" {
		t.Errorf("attributes = %v", got)
	}
	if got["telemetry.sdk.language"] != "go" {
		t.Errorf("telemetry.sdk.language = %q", got["telemetry.sdk.language"])
	}
}

func TestSamplerFor(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{0, "ParentBased{root:TraceIDRatioBased{0.1}"},
		{0.25, "ParentBased{root:TraceIDRatioBased{0.25}"},
		{1, "ParentBased{root:AlwaysOnSampler"},
		{3, "ParentBased{root:AlwaysOnSampler"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.rate), func(t *testing.T) {
			got := samplerFor(tt.rate).Description()
			if len(got) < len(tt.want) || got[:len(tt.want)] != tt.want {
				t.Errorf("samplerFor(%v) = %q, want prefix %q", tt.rate, got, tt.want)
			}
		})
	}
}

func TestStartPageSpan(t *testing.T) {
	exporter := recordSpans(t)

	ctx, span := StartPageSpan(context.Background(), "valves.add", "submit")
	if trace.SpanFromContext(ctx) != span {
		t.Error("context does not carry the page span")
	}
	EndSpan(span, nil)

	s := onlySpan(t, exporter)
	if s.Name != SpanPageOperation {
		t.Errorf("name = %q", s.Name)
	}
	a := attrs(s)
	if a["kwa.page_id"] != "valves.add" || a["kwa.operation"] != "submit" {
		t.Errorf("attributes = %v", a)
	}
	if s.Status.Code == codes.Error {
		t.Error("successful operation marked as error")
	}
}

func TestStartBackendSpan_nestsUnderPage(t *testing.T) {
	exporter := recordSpans(t)

	ctx, page := StartPageSpan(context.Background(), "complaints.add", "submit")
	_, backend := StartBackendSpan(ctx, http.MethodPost, "/complaint/complaints/")
	EndSpan(backend, nil)
	EndSpan(page, nil)

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	b, p := spans[0], spans[1]
	if b.Name != SpanBackendRequest || b.SpanKind != trace.SpanKindClient {
		t.Errorf("backend span = %q kind %v", b.Name, b.SpanKind)
	}
	if b.Parent.SpanID() != p.SpanContext.SpanID() {
		t.Error("backend span is not a child of the page span")
	}
	a := attrs(b)
	if a["kwa.backend.method"] != "POST" || a["kwa.backend.route"] != "/complaint/complaints/" {
		t.Errorf("attributes = %v", a)
	}
}

func TestEndSpan_envelopeError(t *testing.T) {
	exporter := recordSpans(t)

	_, span := StartBackendSpan(context.Background(), http.MethodGet, "/valve/valves/")
	EndSpan(span, fmt.Errorf("list valves: %w", model.NewBackendUnavailableError()))

	s := onlySpan(t, exporter)
	if s.Status.Code != codes.Error {
		t.Errorf("status = %v, want Error", s.Status.Code)
	}
	if got := attrs(s)["kwa.error_code"]; got != model.ErrBackendUnavailable {
		t.Errorf("kwa.error_code = %q", got)
	}
	if len(s.Events) == 0 {
		t.Error("error was not recorded as an event")
	}
}

func TestEndSpan_canceledIsNotAFailure(t *testing.T) {
	exporter := recordSpans(t)

	_, span := StartPageSpan(context.Background(), "valves.view", "fetch")
	EndSpan(span, fmt.Errorf("fetch: %w", context.Canceled))

	s := onlySpan(t, exporter)
	if s.Status.Code == codes.Error {
		t.Error("canceled operation marked as error")
	}
	if attrs(s)["kwa.canceled"] != "true" {
		t.Error("kwa.canceled not set")
	}
}

func TestTraceContext(t *testing.T) {
	recordSpans(t)

	if tid, sid := TraceContext(context.Background()); tid != "" || sid != "" {
		t.Errorf("TraceContext(empty) = %q, %q", tid, sid)
	}

	ctx, span := StartPageSpan(context.Background(), "areas.manage", "view")
	defer span.End()
	tid, sid := TraceContext(ctx)
	if tid != span.SpanContext().TraceID().String() || sid != span.SpanContext().SpanID().String() {
		t.Errorf("TraceContext() = %q, %q", tid, sid)
	}
}

func TestInjectTraceHeaders(t *testing.T) {
	recordSpans(t)

	ctx, span := StartBackendSpan(context.Background(), http.MethodGet, "/auth/profile/")
	defer span.End()

	h := http.Header{}
	InjectTraceHeaders(ctx, h)
	if h.Get("Traceparent") == "" {
		t.Error("Traceparent header not injected")
	}
}

func TestTraceRequests_namesSpanByRoute(t *testing.T) {
	exporter := recordSpans(t)

	r := chi.NewRouter()
	r.Use(TraceRequests)
	r.Post("/ui/pages/{pageId}/submit", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ui/pages/valves.add/submit", nil))

	s := onlySpan(t, exporter)
	if s.Name != "POST /ui/pages/{pageId}/submit" {
		t.Errorf("name = %q", s.Name)
	}
	if s.SpanKind != trace.SpanKindServer {
		t.Errorf("kind = %v", s.SpanKind)
	}
	a := attrs(s)
	if a["kwa.page_id"] != "valves.add" {
		t.Errorf("kwa.page_id = %q", a["kwa.page_id"])
	}
	if a["http.response.status_code"] != "200" {
		t.Errorf("status attribute = %q", a["http.response.status_code"])
	}
	if rec.Header().Get("Traceparent") == "" {
		t.Error("response carries no Traceparent")
	}
}

func TestTraceRequests_serverErrorMarksSpan(t *testing.T) {
	exporter := recordSpans(t)

	h := TraceRequests(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/ui/pages/valves.view/fetch", nil))

	s := onlySpan(t, exporter)
	if s.Status.Code != codes.Error {
		t.Errorf("status = %v, want Error for 502", s.Status.Code)
	}
	if s.Name != "POST /ui/pages/valves.view/fetch" {
		t.Errorf("name = %q, want the raw path outside a router", s.Name)
	}
}

func TestTraceRequests_continuesInboundTrace(t *testing.T) {
	exporter := recordSpans(t)

	const (
		traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
		parent  = "00f067aa0ba902b7"
	)
	h := TraceRequests(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tid, _ := TraceContext(r.Context()); tid != traceID {
			t.Errorf("handler trace id = %q", tid)
		}
	}))
	req := httptest.NewRequest(http.MethodGet, "/ui/navigation", nil)
	req.Header.Set("Traceparent", "00-"+traceID+"-"+parent+"-01")
	h.ServeHTTP(httptest.NewRecorder(), req)

	s := onlySpan(t, exporter)
	if s.SpanContext.TraceID().String() != traceID {
		t.Errorf("trace id = %s", s.SpanContext.TraceID())
	}
	if s.Parent.SpanID().String() != parent {
		t.Errorf("parent = %s", s.Parent.SpanID())
	}
}
