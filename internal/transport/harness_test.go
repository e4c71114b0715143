package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/marketbytes-devops/kwa-console/internal/config"
	"github.com/marketbytes-devops/kwa-console/internal/definition"
	"github.com/marketbytes-devops/kwa-console/internal/form"
	"github.com/marketbytes-devops/kwa-console/internal/metadata"
	"github.com/marketbytes-devops/kwa-console/internal/observability"
	"github.com/marketbytes-devops/kwa-console/internal/session"
	"github.com/marketbytes-devops/kwa-console/internal/workspace"
	"github.com/marketbytes-devops/kwa-console/model"
)

// --- fakes ---

type fakeAuth struct {
	mu       sync.Mutex
	roles    map[string]string
	logouts  []string
	loginErr error
}

func (f *fakeAuth) Login(_ context.Context, creds model.Credentials) (model.LoginResult, error) {
	if f.loginErr != nil {
		return model.LoginResult{}, f.loginErr
	}
	role, ok := f.roles[creds.Email]
	if !ok {
		return model.LoginResult{}, model.NewUnauthorizedError("Invalid email or password")
	}
	return model.LoginResult{Access: "access-" + creds.Email, Refresh: "refresh-" + creds.Email, Role: role, LoginPage: "/valves"}, nil
}

func (f *fakeAuth) Logout(_ context.Context, sid string) error {
	f.mu.Lock()
	f.logouts = append(f.logouts, sid)
	f.mu.Unlock()
	return nil
}

type fakeResolver struct {
	mu          sync.Mutex
	byRole      map[string]model.CapabilitySet
	invalidated []string
}

func (f *fakeResolver) Resolve(_ context.Context, rctx *model.RequestContext) (model.CapabilitySet, error) {
	return f.byRole[rctx.Role], nil
}

func (f *fakeResolver) Invalidate(sid string) {
	f.mu.Lock()
	f.invalidated = append(f.invalidated, sid)
	f.mu.Unlock()
}

// valveBackend is an in-memory valve collection.
type valveBackend struct {
	mu      sync.Mutex
	items   []model.Entity
	nextID  int
	creates []model.Payload
	deletes []string
	order   []model.OrderItem
}

func (b *valveBackend) List(context.Context, string) ([]model.Entity, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Entity, len(b.items))
	for i, it := range b.items {
		out[i] = it.Clone()
	}
	return out, nil
}

func (b *valveBackend) Create(_ context.Context, _ string, p model.Payload) (model.Entity, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.creates = append(b.creates, p)
	e := model.Entity{"id": json.Number(fmt.Sprint(b.nextID))}
	for _, f := range p {
		e[f.Key] = f.Value
	}
	b.items = append(b.items, e)
	return e.Clone(), nil
}

func (b *valveBackend) Replace(_ context.Context, _ string, id string, p model.Payload) (model.Entity, error) {
	e := model.Entity{"id": json.Number(id)}
	for _, f := range p {
		e[f.Key] = f.Value
	}
	return e, nil
}

func (b *valveBackend) Patch(_ context.Context, _ string, id string, p model.Payload) (model.Entity, error) {
	e := model.Entity{"id": json.Number(id)}
	for _, f := range p {
		e[f.Key] = f.Value
	}
	return e, nil
}

func (b *valveBackend) Delete(_ context.Context, _ string, id string) error {
	b.mu.Lock()
	b.deletes = append(b.deletes, id)
	b.mu.Unlock()
	return nil
}

func (b *valveBackend) Reorder(_ context.Context, _ string, order []model.OrderItem) error {
	b.mu.Lock()
	b.order = order
	b.mu.Unlock()
	return nil
}

// --- harness ---

func testDefinitions() []model.DomainDefinition {
	return []model.DomainDefinition{{
		Domain:  "valves",
		Version: "1.0.0",
		Navigation: model.NavigationDefinition{
			Label: "Valves",
			Children: []model.NavigationChildDefinition{
				{Label: "Valves", PageID: "valves.list"},
			},
		},
		Pages: []model.PageDefinition{
			{
				ID: "valves.list", Title: "Valves", Route: "/valves", Endpoint: "/valve/valves/",
				PermissionPage: "valves", ShowAddItems: true, ContentDisplay: true,
				DataSets: []model.DataSetDefinition{{
					Name: "valve",
					Fields: []model.FieldDescriptor{
						{ID: "name", Type: model.FieldText, Label: "Name", Warning: "Name is required", ShowWarning: true},
						{ID: "current_condition", Type: model.FieldNumber, Label: "Current Condition"},
						{ID: "image", Type: model.FieldImage, Label: "Image"},
					},
				}},
			},
			{
				ID: "valves.types", Title: "Valve types", Route: "/valves/types", Endpoint: "/valve/types/",
				PermissionPage: "valve_types",
				DataSets: []model.DataSetDefinition{{
					Name:   "type",
					Fields: []model.FieldDescriptor{{ID: "name", Type: model.FieldText, Label: "Name"}},
				}},
			},
		},
	}}
}

type harness struct {
	t        *testing.T
	srv      *httptest.Server
	auth     *fakeAuth
	backend  *valveBackend
	resolver *fakeResolver
	sessions *session.Manager
	ws       *workspace.Workspace
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Defaults()

	h := &harness{
		t: t,
		auth: &fakeAuth{roles: map[string]string{
			"admin@kwa.example":  "Superadmin",
			"tech@kwa.example":   "Technician",
			"viewer@kwa.example": "Viewer",
		}},
		backend: &valveBackend{
			nextID: 10,
			items: []model.Entity{
				{"id": json.Number("1"), "name": "Gate valve 1", "current_condition": "80"},
				{"id": json.Number("2"), "name": "Gate valve 2", "current_condition": "60"},
			},
		},
		resolver: &fakeResolver{byRole: map[string]model.CapabilitySet{
			"Superadmin": {"*": true},
			"Technician": {"valves:view": true, "valves:add": true, "valves:edit": true},
			"Viewer":     {"valves:view": true},
		}},
		sessions: session.NewManager(session.NewMemoryStore(), session.NewMemoryStore(), time.Hour, 24*time.Hour),
	}

	registry := definition.NewRegistry(testDefinitions())
	pages := metadata.NewPageProvider(registry)
	h.ws = workspace.New(pages, func(string) form.Collaborator { return h.backend },
		cfg.Engine, cfg.Workspace)

	router := NewRouter(Dependencies{
		Config:             cfg,
		Backend:            h.auth,
		Sessions:           h.sessions,
		CapabilityResolver: h.resolver,
		Menu:               metadata.NewMenuProvider(registry),
		Pages:              pages,
		Engines:            h.ws,
		SessionClosers:     []SessionCloser{h.ws},
		Readiness: observability.ReadinessChecks{
			DefinitionsLoaded: func() bool { return registry.PageCount() > 0 },
		},
	})
	h.srv = httptest.NewServer(router)
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) login(email string) string {
	h.t.Helper()
	resp := h.do(http.MethodPost, "/ui/auth/login", "", map[string]any{"email": email, "password": "secret"})
	if resp.StatusCode != http.StatusOK {
		h.t.Fatalf("login status = %d", resp.StatusCode)
	}
	var body LoginResponse
	decodeBody(h.t, resp, &body)
	return body.SessionID
}

func (h *harness) do(method, path, sid string, body any) *http.Response {
	h.t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			h.t.Fatal(err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rdr)
	if err != nil {
		h.t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sid != "" {
		req.Header.Set("X-Console-Session", sid)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		h.t.Fatal(err)
	}
	h.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (h *harness) upload(path, sid, filename string, size int) *http.Response {
	h.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		h.t.Fatal(err)
	}
	part.Write(bytes.Repeat([]byte{0xAB}, size))
	mw.Close()

	req, _ := http.NewRequest(http.MethodPost, h.srv.URL+path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Console-Session", sid)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		h.t.Fatal(err)
	}
	h.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	decodeBody(t, resp, &body)
	return body.Error.Code
}
