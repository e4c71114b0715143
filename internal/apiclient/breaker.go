package apiclient

import (
	"sync"
	"time"

	"github.com/marketbytes-devops/kwa-console/internal/config"
	"github.com/marketbytes-devops/kwa-console/model"
)

// BreakerState is the state of the backend circuit breaker.
type BreakerState int

const (
	// BreakerClosed lets every call through and counts failures.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls without contacting the backend.
	BreakerOpen
	// BreakerHalfOpen lets trial calls through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// breaker stops calling a backend that keeps failing. It trips after
// failureThreshold consecutive failures, stays open for openTimeout and
// closes again after successThreshold successful trial calls.
type breaker struct {
	mu               sync.Mutex
	state            BreakerState
	failures         int
	successes        int
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	openedAt         time.Time
	now              func() time.Time
	onChange         func(from, to BreakerState)
}

// newBreaker returns nil when the breaker is disabled.
func newBreaker(cfg config.BreakerConfig, now func() time.Time) *breaker {
	if cfg.FailureThreshold < 1 {
		return nil
	}
	b := &breaker{
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		openTimeout:      cfg.OpenTimeout,
		now:              now,
	}
	if b.successThreshold < 1 {
		b.successThreshold = 1
	}
	if b.openTimeout <= 0 {
		b.openTimeout = 30 * time.Second
	}
	return b
}

// allow returns BACKEND_UNAVAILABLE while the breaker is open.
func (b *breaker) allow() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expireLocked()
	if b.state == BreakerOpen {
		return model.NewBackendUnavailableError()
	}
	return nil
}

func (b *breaker) success() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.successThreshold {
			b.setLocked(BreakerClosed)
		}
	}
}

func (b *breaker) failure() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.setLocked(BreakerOpen)
		}
	case BreakerHalfOpen:
		b.setLocked(BreakerOpen)
	}
}

// State returns the current state.
func (b *breaker) State() BreakerState {
	if b == nil {
		return BreakerClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expireLocked()
	return b.state
}

func (b *breaker) expireLocked() {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.openTimeout {
		b.setLocked(BreakerHalfOpen)
	}
}

func (b *breaker) setLocked(to BreakerState) {
	from := b.state
	b.state = to
	b.failures = 0
	b.successes = 0
	if to == BreakerOpen {
		b.openedAt = b.now()
	}
	if b.onChange != nil && from != to {
		b.onChange(from, to)
	}
}
