package apiclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketbytes-devops/kwa-console/internal/config"
	"github.com/marketbytes-devops/kwa-console/internal/session"
	"github.com/marketbytes-devops/kwa-console/model"
)

func testBackendConfig(baseURL string) config.BackendConfig {
	cfg := config.Defaults().Backend
	cfg.BaseURL = baseURL
	cfg.Timeout = 5 * time.Second
	return cfg
}

func newTestClient(t *testing.T, srv *httptest.Server, tokens session.Tokens) (*Client, *session.Manager, string) {
	t.Helper()
	mgr := session.NewManager(session.NewMemoryStore(), session.NewMemoryStore(), time.Hour, time.Hour)
	sid, err := mgr.Open(context.Background(), tokens)
	require.NoError(t, err)
	return New(testBackendConfig(srv.URL), mgr), mgr, sid
}

type fakeRecorder struct {
	mu        sync.Mutex
	requests  []string
	refreshes []string
}

func (r *fakeRecorder) RecordBackendRequest(method, route string, status int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, method+" "+route)
}

func (r *fakeRecorder) RecordTokenRefresh(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshes = append(r.refreshes, outcome)
}

func TestList_SendsBearerToken(t *testing.T) {
	var gotAuth, gotCorrelation string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCorrelation = r.Header.Get("X-Correlation-Id")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":1,"name":"V1","current_condition":"50"}]`))
	}))
	defer srv.Close()

	client, _, sid := newTestClient(t, srv, session.Tokens{Access: "access-1", Refresh: "refresh-1"})
	items, err := client.ForSession(sid).List(context.Background(), "/valve/valves/")
	require.NoError(t, err)

	assert.Equal(t, "Bearer access-1", gotAuth)
	assert.NotEmpty(t, gotCorrelation)
	require.Len(t, items, 1)
	assert.Equal(t, "1", items[0].ID("id"))
	assert.Equal(t, json.Number("1"), items[0]["id"])
	assert.Equal(t, "V1", items[0]["name"])
}

func TestList_AcceptsPaginatedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"count":2,"results":[{"id":1},{"id":2}]}`))
	}))
	defer srv.Close()

	client, _, sid := newTestClient(t, srv, session.Tokens{Access: "a", Refresh: "r"})
	items, err := client.ForSession(sid).List(context.Background(), "/area/add-area/")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "2", items[1].ID("id"))
}

func TestList_QueryStaysOutOfRouteLabel(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	rec := &fakeRecorder{}
	client, _, sid := newTestClient(t, srv, session.Tokens{Access: "a", Refresh: "r"})
	client.recorder = rec

	_, err := client.ForSession(sid).List(context.Background(), "/complaint/complaints/?ordering=-date&status=accepted")
	require.NoError(t, err)
	assert.Equal(t, "ordering=-date&status=accepted", gotQuery)
	assert.Equal(t, []string{"GET /complaint/complaints/"}, rec.requests)
}

func TestSend_RefreshesOnceOn401AndRetries(t *testing.T) {
	var resourceCalls, refreshCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token/refresh/":
			refreshCalls.Add(1)
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["refresh"] != "refresh-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte(`{"access":"access-2"}`))
		default:
			resourceCalls.Add(1)
			if r.Header.Get("Authorization") != "Bearer access-2" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()

	rec := &fakeRecorder{}
	client, mgr, sid := newTestClient(t, srv, session.Tokens{Access: "access-1", Refresh: "refresh-1"})
	client.recorder = rec

	_, err := client.ForSession(sid).List(context.Background(), "/valve/valves/")
	require.NoError(t, err)

	assert.Equal(t, int32(2), resourceCalls.Load())
	assert.Equal(t, int32(1), refreshCalls.Load())
	assert.Equal(t, []string{"success"}, rec.refreshes)

	tokens, err := mgr.Tokens(context.Background(), sid)
	require.NoError(t, err)
	assert.Equal(t, "access-2", tokens.Access)
	assert.Equal(t, "refresh-1", tokens.Refresh)
}

func TestSend_SecondUnauthorizedIsSurfaced(t *testing.T) {
	var resourceCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token/refresh/" {
			w.Write([]byte(`{"access":"access-2"}`))
			return
		}
		resourceCalls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, _, sid := newTestClient(t, srv, session.Tokens{Access: "access-1", Refresh: "refresh-1"})
	_, err := client.ForSession(sid).List(context.Background(), "/valve/valves/")

	assert.True(t, model.HasCode(err, model.ErrUnauthorized), "got %v", err)
	assert.Equal(t, int32(2), resourceCalls.Load())
}

func TestSend_RefreshFailureClearsSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token/refresh/" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"detail":"Token is invalid or expired"}`))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, mgr, sid := newTestClient(t, srv, session.Tokens{Access: "access-1", Refresh: "refresh-1"})
	_, err := client.ForSession(sid).List(context.Background(), "/valve/valves/")

	assert.True(t, model.HasCode(err, model.ErrSessionExpired), "got %v", err)
	_, err = mgr.Tokens(context.Background(), sid)
	assert.ErrorIs(t, err, session.ErrNoSession)
}

func TestSend_UnknownSessionIsExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected backend call to %s", r.URL.Path)
	}))
	defer srv.Close()

	client, _, _ := newTestClient(t, srv, session.Tokens{Access: "a", Refresh: "r"})
	_, err := client.ForSession("missing").List(context.Background(), "/valve/valves/")
	assert.True(t, model.HasCode(err, model.ErrSessionExpired), "got %v", err)
}

func TestSend_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	const callers = 5
	var refreshCalls atomic.Int32
	var arrived sync.WaitGroup
	arrived.Add(callers)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token/refresh/" {
			refreshCalls.Add(1)
			time.Sleep(200 * time.Millisecond)
			w.Write([]byte(`{"access":"access-2"}`))
			return
		}
		if r.Header.Get("Authorization") == "Bearer access-2" {
			w.Write([]byte(`[]`))
			return
		}
		arrived.Done()
		arrived.Wait()
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, _, sid := newTestClient(t, srv, session.Tokens{Access: "access-1", Refresh: "refresh-1"})
	api := client.ForSession(sid)

	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = api.List(context.Background(), "/valve/valves/")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "caller %d", i)
	}
	assert.Equal(t, int32(1), refreshCalls.Load())
}

func TestSend_RefreshesExpiredTokenBeforeRequest(t *testing.T) {
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": 7,
		"exp":     time.Now().Add(-time.Minute).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	var seen []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.URL.Path)
		mu.Unlock()
		if r.URL.Path == "/token/refresh/" {
			w.Write([]byte(`{"access":"fresh"}`))
			return
		}
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client, _, sid := newTestClient(t, srv, session.Tokens{Access: expired, Refresh: "refresh-1"})
	_, err = client.ForSession(sid).List(context.Background(), "/valve/valves/")
	require.NoError(t, err)
	assert.Equal(t, []string{"/token/refresh/", "/valve/valves/"}, seen)
}

func TestCreate_SendsMultipartForm(t *testing.T) {
	var got map[string][]string
	var fileName, fileBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/valve/valves/" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		got = r.MultipartForm.Value
		if fhs := r.MultipartForm.File["image"]; len(fhs) == 1 {
			fileName = fhs[0].Filename
			f, _ := fhs[0].Open()
			b, _ := io.ReadAll(f)
			f.Close()
			fileBody = string(b)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":9,"name":"V9"}`))
	}))
	defer srv.Close()

	client, _, sid := newTestClient(t, srv, session.Tokens{Access: "a", Refresh: "r"})
	payload := model.Payload{
		{Key: "name", Value: "V9"},
		{Key: "is_active", Value: true},
		{Key: "is_closed", Value: false},
		{Key: "notes", Value: nil},
		{Key: "image", Value: &model.Upload{Filename: "valve.png", ContentType: "image/png", Size: 3, Data: []byte("png")}},
	}
	entity, err := client.ForSession(sid).Create(context.Background(), "/valve/valves/", payload)
	require.NoError(t, err)

	assert.Equal(t, "9", entity.ID("id"))
	assert.Equal(t, []string{"V9"}, got["name"])
	assert.Equal(t, []string{"true"}, got["is_active"])
	assert.Equal(t, []string{""}, got["is_closed"])
	assert.Equal(t, []string{""}, got["notes"])
	assert.Equal(t, "valve.png", fileName)
	assert.Equal(t, "png", fileBody)
}

func TestReplacePatchDelete_UseItemPath(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Write([]byte(`{"id":1}`))
	}))
	defer srv.Close()

	client, _, sid := newTestClient(t, srv, session.Tokens{Access: "a", Refresh: "r"})
	api := client.ForSession(sid)
	ctx := context.Background()

	_, err := api.Replace(ctx, "/valve/valves/", "1", model.Payload{{Key: "name", Value: "V1"}})
	require.NoError(t, err)
	_, err = api.Patch(ctx, "/valve/valves/", "1", model.Payload{{Key: "name", Value: ""}})
	require.NoError(t, err)
	require.NoError(t, api.Delete(ctx, "/valve/valves/", "1"))

	assert.Equal(t, []string{
		"PUT /valve/valves/1/",
		"PATCH /valve/valves/1/",
		"DELETE /valve/valves/1/",
	}, calls)
}

func TestReorder_PostsJSONOrder(t *testing.T) {
	var body struct {
		Order []struct {
			ID    json.Number `json:"id"`
			Order int         `json:"order"`
		} `json:"order"`
	}
	var contentType, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		contentType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, _, sid := newTestClient(t, srv, session.Tokens{Access: "a", Refresh: "r"})
	err := client.ForSession(sid).Reorder(context.Background(), "/valve/valves/", []model.OrderItem{
		{ID: json.Number("3"), Order: 0},
		{ID: json.Number("1"), Order: 1},
	})
	require.NoError(t, err)

	assert.Equal(t, "/valve/valves/reorder/", path)
	assert.Equal(t, "application/json", contentType)
	require.Len(t, body.Order, 2)
	assert.Equal(t, json.Number("3"), body.Order[0].ID)
	assert.Equal(t, 1, body.Order[1].Order)
}

func TestSend_MapsBackendErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		code   string
	}{
		{"validation", http.StatusBadRequest, `{"name":["This field is required."]}`, model.ErrValidationError},
		{"forbidden", http.StatusForbidden, `{"detail":"Not allowed"}`, model.ErrForbidden},
		{"not found", http.StatusNotFound, `{"detail":"Not found."}`, model.ErrNotFound},
		{"server error", http.StatusInternalServerError, ``, model.ErrBackendUnavailable},
		{"conflict", http.StatusConflict, `{"detail":"Duplicate"}`, model.ErrBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client, _, sid := newTestClient(t, srv, session.Tokens{Access: "a", Refresh: "r"})
			_, err := client.ForSession(sid).List(context.Background(), "/valve/valves/")
			if !model.HasCode(err, tt.code) {
				t.Fatalf("error = %v, want code %s", err, tt.code)
			}
		})
	}
}

func TestParseValidationErrors(t *testing.T) {
	env := parseValidationErrors([]byte(`{"non_field_errors":["Bad combination."],"name":["Required.","Too short."]}`))
	require.Len(t, env.Details, 2)
	assert.Equal(t, model.FieldError{Field: "name", Code: "INVALID", Message: "Required. Too short."}, env.Details[0])
	assert.Equal(t, "", env.Details[1].Field)
	assert.Equal(t, "Bad combination.", env.Details[1].Message)
}

func TestLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"non_field_errors":["Invalid credentials"]}`))
			return
		}
		w.Write([]byte(`{"access":"a","refresh":"r","role":"Admin","login_page":"/dashboard"}`))
	}))
	defer srv.Close()

	client := New(testBackendConfig(srv.URL), session.NewManager(session.NewMemoryStore(), session.NewMemoryStore(), time.Hour, time.Hour))

	res, err := client.Login(context.Background(), model.Credentials{Email: "ops@kwa.in", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, model.LoginResult{Access: "a", Refresh: "r", Role: "Admin", LoginPage: "/dashboard"}, res)

	_, err = client.Login(context.Background(), model.Credentials{Email: "ops@kwa.in", Password: "wrong"})
	env, ok := model.AsEnvelope(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, model.ErrUnauthorized, env.Code)
	assert.Equal(t, "Invalid credentials", env.Message)
}

func TestLogout_SendsRefreshToken(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/logout/" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusResetContent)
	}))
	defer srv.Close()

	client, _, sid := newTestClient(t, srv, session.Tokens{Access: "a", Refresh: "refresh-9"})
	require.NoError(t, client.ForSession(sid).Logout(context.Background()))
	assert.Equal(t, "refresh-9", body["refresh"])
}
