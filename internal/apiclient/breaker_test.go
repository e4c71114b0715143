package apiclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marketbytes-devops/kwa-console/internal/config"
	"github.com/marketbytes-devops/kwa-console/internal/session"
	"github.com/marketbytes-devops/kwa-console/model"
)

type manualClock struct{ t time.Time }

func (c *manualClock) now() time.Time          { return c.t }
func (c *manualClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testBreaker(failures, successes int) (*breaker, *manualClock) {
	clock := &manualClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	b := newBreaker(config.BreakerConfig{
		FailureThreshold: failures,
		SuccessThreshold: successes,
		OpenTimeout:      time.Minute,
	}, clock.now)
	return b, clock
}

func TestBreaker_startsClosed(t *testing.T) {
	b, _ := testBreaker(3, 2)
	if s := b.State(); s != BreakerClosed {
		t.Errorf("initial state = %v, want closed", s)
	}
	if err := b.allow(); err != nil {
		t.Errorf("allow() = %v, want nil", err)
	}
}

func TestBreaker_opensAfterConsecutiveFailures(t *testing.T) {
	b, _ := testBreaker(3, 2)
	b.failure()
	b.failure()
	if s := b.State(); s != BreakerClosed {
		t.Errorf("state after 2 failures = %v, want closed", s)
	}
	b.failure()
	if s := b.State(); s != BreakerOpen {
		t.Errorf("state after 3 failures = %v, want open", s)
	}
	if err := b.allow(); !model.HasCode(err, model.ErrBackendUnavailable) {
		t.Errorf("allow() = %v, want BACKEND_UNAVAILABLE", err)
	}
}

func TestBreaker_successResetsFailureCount(t *testing.T) {
	b, _ := testBreaker(3, 2)
	b.failure()
	b.failure()
	b.success()
	b.failure()
	b.failure()
	if s := b.State(); s != BreakerClosed {
		t.Errorf("state = %v, want closed after reset", s)
	}
}

func TestBreaker_halfOpenTrials(t *testing.T) {
	b, clock := testBreaker(1, 2)
	b.failure()

	clock.advance(59 * time.Second)
	if s := b.State(); s != BreakerOpen {
		t.Fatalf("state before timeout = %v, want open", s)
	}
	clock.advance(time.Second)
	if s := b.State(); s != BreakerHalfOpen {
		t.Fatalf("state after timeout = %v, want half-open", s)
	}

	b.success()
	if s := b.State(); s != BreakerHalfOpen {
		t.Errorf("state after one trial call = %v, want half-open", s)
	}
	b.success()
	if s := b.State(); s != BreakerClosed {
		t.Errorf("state after two trial calls = %v, want closed", s)
	}
}

func TestBreaker_halfOpenFailureReopens(t *testing.T) {
	b, clock := testBreaker(1, 2)
	var transitions []string
	b.onChange = func(from, to BreakerState) {
		transitions = append(transitions, from.String()+">"+to.String())
	}

	b.failure()
	clock.advance(time.Minute)
	b.allow()
	b.failure()

	if s := b.State(); s != BreakerOpen {
		t.Errorf("state = %v, want open", s)
	}
	want := []string{"closed>open", "open>half-open", "half-open>open"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transitions[%d] = %q, want %q", i, transitions[i], want[i])
		}
	}
}

func TestBreaker_disabled(t *testing.T) {
	b := newBreaker(config.BreakerConfig{}, time.Now)
	if b != nil {
		t.Fatal("zero failure threshold should disable the breaker")
	}
	b.failure()
	if err := b.allow(); err != nil {
		t.Errorf("disabled breaker allow() = %v", err)
	}
}

func TestClient_breakerStopsCallingFailingBackend(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := testBackendConfig(srv.URL)
	cfg.Breaker = config.BreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, OpenTimeout: time.Minute}
	mgr := session.NewManager(session.NewMemoryStore(), session.NewMemoryStore(), time.Hour, time.Hour)
	sid, err := mgr.Open(context.Background(), session.Tokens{Access: "a", Refresh: "r"})
	if err != nil {
		t.Fatal(err)
	}
	client := New(cfg, mgr).ForSession(sid)

	for i := 0; i < 4; i++ {
		_, err := client.List(context.Background(), "/valve/valves/")
		if !model.HasCode(err, model.ErrBackendUnavailable) {
			t.Fatalf("call %d error = %v, want BACKEND_UNAVAILABLE", i, err)
		}
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("backend calls = %d, want 2", got)
	}
}
