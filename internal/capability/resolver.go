// Package capability resolves and caches the page permissions of console
// sessions.
package capability

import (
	"context"
	"sync"
	"time"

	"github.com/marketbytes-devops/kwa-console/model"
)

// Recorder receives cache hit and miss counts.
type Recorder interface {
	RecordCapabilityCacheHit()
	RecordCapabilityCacheMiss()
}

type cacheEntry struct {
	caps    model.CapabilitySet
	expires time.Time
}

// Resolver implements model.CapabilityResolver with an in-memory cache keyed
// by console session.
type Resolver struct {
	evaluator  model.PolicyEvaluator
	ttl        time.Duration
	maxEntries int
	recorder   Recorder
	now        func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMaxEntries bounds the number of cached sessions. Zero means unbounded.
func WithMaxEntries(n int) Option {
	return func(r *Resolver) { r.maxEntries = n }
}

// WithRecorder reports cache hits and misses.
func WithRecorder(rec Recorder) Option {
	return func(r *Resolver) { r.recorder = rec }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a new Resolver with the given evaluator and cache TTL.
func NewResolver(evaluator model.PolicyEvaluator, ttl time.Duration, opts ...Option) *Resolver {
	r := &Resolver{
		evaluator: evaluator,
		ttl:       ttl,
		now:       time.Now,
		cache:     make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the full capability set for the given context. Results are
// cached for the configured TTL.
func (r *Resolver) Resolve(ctx context.Context, rctx *model.RequestContext) (model.CapabilitySet, error) {
	key := rctx.SessionID

	r.mu.RLock()
	entry, ok := r.cache[key]
	r.mu.RUnlock()
	if ok && r.now().Before(entry.expires) {
		if r.recorder != nil {
			r.recorder.RecordCapabilityCacheHit()
		}
		return entry.caps, nil
	}
	if r.recorder != nil {
		r.recorder.RecordCapabilityCacheMiss()
	}

	caps, err := r.evaluator.ResolveCapabilities(ctx, rctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.maxEntries > 0 && len(r.cache) >= r.maxEntries {
		r.evictLocked()
	}
	r.cache[key] = cacheEntry{caps: caps, expires: r.now().Add(r.ttl)}
	r.mu.Unlock()

	return caps, nil
}

// Invalidate clears cached capabilities for the given session.
func (r *Resolver) Invalidate(sessionID string) {
	r.mu.Lock()
	delete(r.cache, sessionID)
	r.mu.Unlock()
}

// Len returns the number of cached sessions.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

// evictLocked drops expired entries, then the entry closest to expiry if the
// cache is still full.
func (r *Resolver) evictLocked() {
	now := r.now()
	var oldest string
	var oldestAt time.Time
	for key, e := range r.cache {
		if !now.Before(e.expires) {
			delete(r.cache, key)
			continue
		}
		if oldest == "" || e.expires.Before(oldestAt) {
			oldest, oldestAt = key, e.expires
		}
	}
	if len(r.cache) >= r.maxEntries && oldest != "" {
		delete(r.cache, oldest)
	}
}
