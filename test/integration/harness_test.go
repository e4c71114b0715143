package integration

import (
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestHarness_HealthEndpoints(t *testing.T) {
	h := NewTestHarness(t)

	t.Run("health", func(t *testing.T) {
		var body map[string]any
		h.AssertJSON(t, h.GET("/ui/health", ""), http.StatusOK, &body)
		if body["status"] != "ok" {
			t.Errorf("health status = %v, want ok", body["status"])
		}
	})

	t.Run("ready", func(t *testing.T) {
		h.AssertStatus(t, h.GET("/ui/ready", ""), http.StatusOK)
	})
}

func TestHarness_ReadyFailsWithoutSessionStore(t *testing.T) {
	h := NewTestHarness(t)
	h.Redis.SetError("LOADING Redis is loading the dataset in memory")

	resp := h.GET("/ui/ready", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("ready status = %d, want 503", resp.StatusCode)
	}
}

func TestHarness_MetricsExposeDefinitions(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.GET("/metrics", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "kwa_definitions_loaded 15") {
		t.Errorf("metrics do not report 13 loaded pages:\n%s", body)
	}
}

func TestHarness_AuthenticationRequired(t *testing.T) {
	h := NewTestHarness(t)

	paths := []string{
		"/ui/navigation",
		"/ui/pages/valves.view/",
		"/ui/pages/complaints.add/",
		"/ui/auth/profile",
	}
	for _, p := range paths {
		t.Run(p, func(t *testing.T) {
			h.AssertError(t, h.GET(p, ""), http.StatusUnauthorized, "UNAUTHORIZED")
		})
	}

	if got := len(h.Backend.Requests("", ValvesEndpoint)); got != 0 {
		t.Errorf("backend saw %d valve requests from anonymous clients", got)
	}
}

func TestHarness_UnknownSessionExpired(t *testing.T) {
	h := NewTestHarness(t)
	h.AssertError(t, h.GET("/ui/navigation", "no-such-session"), http.StatusUnauthorized, "SESSION_EXPIRED")
}
