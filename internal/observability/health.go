package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// Set through -ldflags at build time.
var (
	Version = "dev"
	Commit  = "unknown"
)

// HealthResponse is the body of /ui/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// ReadinessResponse is the body of /ui/ready.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is the outcome of one readiness check.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker is implemented by dependencies that can be pinged.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ReadinessChecks lists what /ui/ready checks. The definitions check always
// runs; the rest only when set.
type ReadinessChecks struct {
	DefinitionsLoaded func() bool
	OpenAPILoaded     func() bool
	SessionStore      HealthChecker
	Backend           HealthChecker
}

var (
	errNoDefinitions = errors.New("no page definitions loaded")
	errNoOpenAPI     = errors.New("backend OpenAPI document not indexed")
)

const checkTimeout = 2 * time.Second

type readyCheck struct {
	name string
	run  func(context.Context) error
}

func flagCheck(name string, ok func() bool, failure error) readyCheck {
	return readyCheck{name: name, run: func(context.Context) error {
		if ok == nil || !ok() {
			return failure
		}
		return nil
	}}
}

func (c ReadinessChecks) checks() []readyCheck {
	list := []readyCheck{flagCheck("definitions", c.DefinitionsLoaded, errNoDefinitions)}
	if c.OpenAPILoaded != nil {
		list = append(list, flagCheck("openapi_index", c.OpenAPILoaded, errNoOpenAPI))
	}
	if c.SessionStore != nil {
		list = append(list, readyCheck{"session_store", c.SessionStore.HealthCheck})
	}
	if c.Backend != nil {
		list = append(list, readyCheck{"backend", c.Backend.HealthCheck})
	}
	return list
}

// HandleHealth answers liveness with the build version.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeHealthJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: Version, Commit: Commit})
	}
}

// HandleReady runs every configured check concurrently, each bounded by its
// own timeout, and answers 503 when any of them fails.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list := checks.checks()
		results := make([]CheckResult, len(list))

		var g errgroup.Group
		for i, p := range list {
			g.Go(func() error {
				results[i] = runCheck(r.Context(), p)
				return nil
			})
		}
		_ = g.Wait()

		resp := ReadinessResponse{Status: "ready", Checks: make(map[string]CheckResult, len(list))}
		status := http.StatusOK
		for i, p := range list {
			resp.Checks[p.name] = results[i]
			if results[i].Status != "ok" {
				resp.Status = "not_ready"
				status = http.StatusServiceUnavailable
			}
		}
		writeHealthJSON(w, status, resp)
	}
}

func runCheck(parent context.Context, p readyCheck) CheckResult {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := p.run(ctx)
	res := CheckResult{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = "error"
		res.Error = err.Error()
	}
	return res
}

func writeHealthJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
