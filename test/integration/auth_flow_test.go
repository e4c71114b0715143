package integration

import (
	"net/http"
	"testing"

	"github.com/marketbytes-devops/kwa-console/internal/transport"
	"github.com/marketbytes-devops/kwa-console/model"
)

func TestAuth_LoginReturnsRoleAndLandingPage(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.POST("/ui/auth/login", map[string]any{
		"email": TechnicianEmail, "password": TestPassword,
	}, "")
	var body transport.LoginResponse
	h.AssertJSON(t, resp, http.StatusOK, &body)

	if body.Role != "Technician" {
		t.Errorf("role = %q, want Technician", body.Role)
	}
	if body.LoginPage != "/valves" {
		t.Errorf("login_page = %q, want /valves", body.LoginPage)
	}
	if reqs := h.Backend.Requests(http.MethodPost, h.Config().Backend.LoginPath); len(reqs) != 1 {
		t.Errorf("backend login calls = %d, want 1", len(reqs))
	}
}

func TestAuth_RememberedSessionLivesInRedis(t *testing.T) {
	h := NewTestHarness(t)
	cfg := h.Config().Session

	remembered := h.Login(TechnicianEmail, true)
	key := cfg.Store.KeyPrefix + remembered
	if !h.Redis.Exists(key) {
		t.Fatalf("remembered session %s not stored in redis", key)
	}
	if ttl := h.Redis.TTL(key); ttl != cfg.RememberTTL {
		t.Errorf("redis TTL = %v, want %v", ttl, cfg.RememberTTL)
	}

	ephemeral := h.Login(TechnicianEmail, false)
	if h.Redis.Exists(cfg.Store.KeyPrefix + ephemeral) {
		t.Error("session without remember should not be persisted")
	}
	h.AssertStatus(t, h.GET("/ui/navigation", ephemeral), http.StatusOK)
}

func TestAuth_InvalidCredentials(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.POST("/ui/auth/login", map[string]any{
		"email": TechnicianEmail, "password": "wrong",
	}, "")
	var body struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	h.AssertJSON(t, resp, http.StatusUnauthorized, &body)
	if body.Error.Code != model.ErrUnauthorized {
		t.Errorf("code = %q, want %q", body.Error.Code, model.ErrUnauthorized)
	}
	if body.Error.Message != "Invalid email or password." {
		t.Errorf("message = %q", body.Error.Message)
	}
	if len(h.Redis.Keys()) != 0 {
		t.Errorf("failed login stored sessions: %v", h.Redis.Keys())
	}
}

func TestAuth_NavigationFollowsRolePermissions(t *testing.T) {
	h := NewTestHarness(t)

	tests := []struct {
		email   string
		domains []string
	}{
		{AdminEmail, []string{"complaints", "bluebrigade", "valves", "areas", "etapp", "users"}},
		{TechnicianEmail, []string{"complaints", "bluebrigade", "valves"}},
		{ClerkEmail, []string{"complaints", "bluebrigade", "areas", "users"}},
	}
	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			sid := h.Login(tt.email, false)

			var nav model.NavigationTree
			h.AssertJSON(t, h.GET("/ui/navigation", sid), http.StatusOK, &nav)

			if len(nav.Items) != len(tt.domains) {
				t.Fatalf("domains = %d, want %d: %+v", len(nav.Items), len(tt.domains), nav.Items)
			}
			for i, want := range tt.domains {
				if nav.Items[i].ID != want {
					t.Errorf("items[%d] = %q, want %q", i, nav.Items[i].ID, want)
				}
			}
		})
	}
}

func TestAuth_ClerkSeesOnlyUserManagementChild(t *testing.T) {
	h := NewTestHarness(t)
	sid := h.Login(ClerkEmail, false)

	var nav model.NavigationTree
	h.AssertJSON(t, h.GET("/ui/navigation", sid), http.StatusOK, &nav)

	users := nav.Items[len(nav.Items)-1]
	if len(users.Children) != 1 || users.Children[0].ID != "users.manage" {
		t.Errorf("user management children = %+v, want only users.manage", users.Children)
	}
	if users.Children[0].Route != "/user-roles" {
		t.Errorf("route = %q", users.Children[0].Route)
	}
}

func TestAuth_LogoutRevokesEverything(t *testing.T) {
	h := NewTestHarness(t)
	sid := h.Login(TechnicianEmail, true)
	h.Page("valves.view", sid)

	if h.Engines.Len() != 1 {
		t.Fatalf("engines = %d, want 1", h.Engines.Len())
	}
	refreshBefore := h.Backend.RefreshTokenCount()

	h.AssertStatus(t, h.POST("/ui/auth/logout", nil, sid), http.StatusOK)

	if h.Backend.RefreshTokenCount() != refreshBefore-1 {
		t.Error("backend refresh token was not blacklisted")
	}
	if h.Redis.Exists(h.Config().Session.Store.KeyPrefix + sid) {
		t.Error("session still stored in redis")
	}
	if h.Engines.Len() != 0 {
		t.Errorf("engines = %d after logout, want 0", h.Engines.Len())
	}
	h.AssertError(t, h.GET("/ui/pages/valves.view/", sid), http.StatusUnauthorized, "SESSION_EXPIRED")
}
