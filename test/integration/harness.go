// Package integration provides a reusable test harness for end-to-end
// testing of the console. It starts the full HTTP stack against a mock KWA
// backend, with sessions persisted in an in-process Redis.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/marketbytes-devops/kwa-console/internal/apiclient"
	"github.com/marketbytes-devops/kwa-console/internal/capability"
	"github.com/marketbytes-devops/kwa-console/internal/config"
	"github.com/marketbytes-devops/kwa-console/internal/definition"
	"github.com/marketbytes-devops/kwa-console/internal/form"
	"github.com/marketbytes-devops/kwa-console/internal/lookup"
	"github.com/marketbytes-devops/kwa-console/internal/metadata"
	"github.com/marketbytes-devops/kwa-console/internal/observability"
	"github.com/marketbytes-devops/kwa-console/internal/session"
	"github.com/marketbytes-devops/kwa-console/internal/transport"
	"github.com/marketbytes-devops/kwa-console/internal/workspace"
	"github.com/marketbytes-devops/kwa-console/model"
)

// TestHarness encapsulates a fully wired console with a mock backend.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	cfg    *config.Config

	Backend      *MockBackend
	Redis        *miniredis.Miniredis
	Client       *apiclient.Client
	Sessions     *session.Manager
	Capabilities *capability.Resolver
	Lookups      *lookup.Provider
	Engines      *workspace.Workspace
	Registry     *definition.Registry
	Gatherer     *prometheus.Registry
	Logs         *observer.ObservedLogs
}

// HarnessOption configures the test harness.
type HarnessOption func(*config.Config)

// WithBreaker sets the backend circuit breaker.
func WithBreaker(b config.BreakerConfig) HarnessOption {
	return func(c *config.Config) {
		c.Backend.Breaker = b
	}
}

// WithRowsPerPage sets the default list page size.
func WithRowsPerPage(n int) HarnessOption {
	return func(c *config.Config) {
		c.Engine.RowsPerPage = n
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *config.Config) {
		c.Server.HandlerTimeout = d
	}
}

// NewTestHarness creates and starts a full console instance wired the way
// cmd/console wires it. The server is closed when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	cfg := config.Defaults()
	cfg.Backend.Timeout = 5 * time.Second
	cfg.Server.HandlerTimeout = 10 * time.Second
	cfg.Session.Store.Driver = "redis"
	cfg.Definitions.Directories = []string{definitionsDir()}
	for _, opt := range opts {
		opt(cfg)
	}

	h := &TestHarness{t: t, cfg: cfg}

	h.Backend = newMockBackend(t, cfg.Backend)
	cfg.Backend.BaseURL = h.Backend.URL()

	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)
	h.Logs = logs

	defs, err := definition.NewLoader().LoadAll(cfg.Definitions.Directories)
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	if errs := definition.NewValidator().Validate(defs, nil); len(errs) > 0 {
		t.Fatalf("validate definitions: %v", errs)
	}
	h.Registry = definition.NewRegistry(defs)

	h.Gatherer = prometheus.NewRegistry()
	metrics := observability.InitMetrics(h.Gatherer)
	metrics.SetDefinitionsLoaded(h.Registry.PageCount())

	h.Redis = miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: h.Redis.Addr(), DB: cfg.Session.Store.DB})
	t.Cleanup(func() { rdb.Close() })
	h.Sessions = session.NewManager(
		session.NewRedisStore(rdb, cfg.Session.Store.KeyPrefix),
		session.NewMemoryStore(),
		cfg.Session.TTL, cfg.Session.RememberTTL,
	)

	h.Client = apiclient.New(cfg.Backend, h.Sessions,
		apiclient.WithRecorder(metrics),
		apiclient.WithLogger(logger),
	)

	evaluator := capability.NewProfileEvaluator(func(sid string) capability.Accounts {
		return h.Client.ForSession(sid)
	}, cfg.Capability.SuperuserRoles)
	h.Capabilities = capability.NewResolver(evaluator, cfg.Capability.Cache.TTL,
		capability.WithMaxEntries(cfg.Capability.Cache.MaxEntries),
		capability.WithRecorder(metrics),
	)

	h.Lookups = lookup.NewProvider(cfg.Lookup.Cache.TTL, cfg.Lookup.Cache.MaxEntries,
		lookup.WithRecorder(metrics),
	)

	pages := metadata.NewPageProvider(h.Registry)
	h.Engines = workspace.New(pages,
		func(sid string) form.Collaborator { return h.Client.ForSession(sid) },
		cfg.Engine, cfg.Workspace,
		workspace.WithLogger(logger),
		workspace.WithRecorder(metrics),
		workspace.WithLookups(h.Lookups),
	)

	router := transport.NewRouter(transport.Dependencies{
		Config:   cfg,
		Logger:   logger,
		Metrics:  metrics,
		Gatherer: h.Gatherer,
		Readiness: observability.ReadinessChecks{
			DefinitionsLoaded: func() bool { return h.Registry.PageCount() > 0 },
			SessionStore:      h.Sessions,
			Backend:           h.Client,
		},
		Backend:            h.Client,
		Accounts:           h.Client,
		Sessions:           h.Sessions,
		CapabilityResolver: h.Capabilities,
		Menu:               metadata.NewMenuProvider(h.Registry),
		Pages:              pages,
		Engines:            h.Engines,
		SessionClosers:     []transport.SessionCloser{h.Engines},
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)
	return h
}

// BaseURL returns the console's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// Config returns the configuration the harness was built with.
func (h *TestHarness) Config() *config.Config {
	return h.cfg
}

// --- HTTP client helpers ---

// Login signs in with the seeded password and returns the console session id.
func (h *TestHarness) Login(email string, remember bool) string {
	h.t.Helper()
	resp := h.POST("/ui/auth/login", map[string]any{
		"email": email, "password": TestPassword, "remember": remember,
	}, "")
	var body transport.LoginResponse
	h.AssertJSON(h.t, resp, http.StatusOK, &body)
	if body.SessionID == "" {
		h.t.Fatal("login returned no session id")
	}
	return body.SessionID
}

// GET performs a GET request in session sid.
func (h *TestHarness) GET(path, sid string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodGet, path, nil, sid)
}

// POST performs a POST request with a JSON body in session sid.
func (h *TestHarness) POST(path string, body any, sid string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPost, path, body, sid)
}

// PUT performs a PUT request with a JSON body in session sid.
func (h *TestHarness) PUT(path string, body any, sid string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPut, path, body, sid)
}

// DELETE performs a DELETE request in session sid.
func (h *TestHarness) DELETE(path, sid string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodDelete, path, nil, sid)
}

// Page loads the view of pageID.
func (h *TestHarness) Page(pageID, sid string) transport.PageResponse {
	h.t.Helper()
	var out transport.PageResponse
	h.AssertJSON(h.t, h.GET("/ui/pages/"+pageID+"/", sid), http.StatusOK, &out)
	return out
}

// Change sets a live field of pageID and returns the new view.
func (h *TestHarness) Change(pageID, fieldID string, value any, sid string) transport.PageResponse {
	h.t.Helper()
	var out transport.PageResponse
	resp := h.POST("/ui/pages/"+pageID+"/fields/"+fieldID, map[string]any{"value": value}, sid)
	h.AssertJSON(h.t, resp, http.StatusOK, &out)
	return out
}

// Upload posts data as the file of image field fieldID on pageID.
func (h *TestHarness) Upload(pageID, fieldID, filename string, data []byte, sid string) *http.Response {
	h.t.Helper()
	return h.UploadTo("/ui/pages/"+pageID+"/fields/"+fieldID+"/upload", filename, data, sid)
}

// UploadTo posts data as the "file" part of a multipart body to path.
func (h *TestHarness) UploadTo(path, filename string, data []byte, sid string) *http.Response {
	h.t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		h.t.Fatalf("create file part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		h.t.Fatalf("write file part: %v", err)
	}
	if err := mw.Close(); err != nil {
		h.t.Fatalf("close multipart: %v", err)
	}

	url := h.server.URL + path
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, &buf)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(h.cfg.Session.HeaderName, sid)

	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		h.t.Fatalf("upload %s failed: %v", url, err)
	}
	return resp
}

func (h *TestHarness) doRequest(method, path string, body any, sid string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if sid != "" {
		req.Header.Set(h.cfg.Session.HeaderName, sid)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// AssertError checks the status and error code of a failed response.
func (h *TestHarness) AssertError(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	var body struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	h.AssertJSON(t, resp, status, &body)
	if body.Error.Code != code {
		t.Errorf("error code = %q, want %q (%s)", body.Error.Code, code, body.Error.Message)
	}
}

// --- Helpers ---

// definitionsDir returns the absolute path of the shipped page definitions.
func definitionsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "definitions")
}

// FieldOf returns the live field with the given id.
func FieldOf(view model.PageView, id string) (model.FieldView, bool) {
	for _, s := range view.Sections {
		for _, f := range s.Fields {
			if f.ID == id {
				return f, true
			}
		}
	}
	return model.FieldView{}, false
}
