// Package lookup resolves select-field options from backend collections.
package lookup

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/marketbytes-devops/kwa-console/model"
)

// Lister reads a backend collection.
type Lister interface {
	List(ctx context.Context, endpoint string) ([]model.Entity, error)
}

// Recorder receives cache hit and miss counts per endpoint.
type Recorder interface {
	RecordLookupCacheHit(endpoint string)
	RecordLookupCacheMiss(endpoint string)
}

// Provider maps backend collections to option lists with caching. Options
// do not depend on the caller, so entries are shared across sessions.
type Provider struct {
	ttl        time.Duration
	maxEntries int
	recorder   Recorder
	now        func() time.Time
	group      singleflight.Group

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	options   []model.Option
	expiresAt time.Time
}

// Option configures a Provider.
type Option func(*Provider)

// WithRecorder reports cache hits and misses.
func WithRecorder(r Recorder) Option {
	return func(p *Provider) { p.recorder = r }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// NewProvider creates a new Provider.
func NewProvider(ttl time.Duration, maxEntries int, opts ...Option) *Provider {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	p := &Provider{
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		cache:      make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Options returns the options of source, loading them through api on a
// cache miss. Concurrent misses for one source share a single request.
func (p *Provider) Options(ctx context.Context, api Lister, source model.OptionsSource) ([]model.Option, error) {
	key := cacheKey(source)

	if options, hit := p.getFromCache(key); hit {
		if p.recorder != nil {
			p.recorder.RecordLookupCacheHit(source.Endpoint)
		}
		return options, nil
	}
	if p.recorder != nil {
		p.recorder.RecordLookupCacheMiss(source.Endpoint)
	}

	v, err, _ := p.group.Do(key, func() (any, error) {
		entities, err := api.List(ctx, source.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("lookup %s: %w", source.Endpoint, err)
		}
		options := MapOptions(entities, source)
		p.putInCache(key, options)
		return options, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneOptions(v.([]model.Option)), nil
}

// Invalidate drops every cached entry loaded from endpoint.
func (p *Provider) Invalidate(endpoint string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k := range p.cache {
		if ep, _, _ := strings.Cut(k, "\x00"); ep == endpoint {
			delete(p.cache, k)
		}
	}
}

// CacheLen returns the number of entries in the cache.
func (p *Provider) CacheLen() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.cache)
}

// MapOptions converts entities into options using the source's value and
// label fields. Entities missing both are skipped.
func MapOptions(entities []model.Entity, source model.OptionsSource) []model.Option {
	options := make([]model.Option, 0, len(entities))
	for _, e := range entities {
		value := model.Stringify(e[source.ValueField])
		label := model.Stringify(e[source.LabelField])
		if value == "" && label == "" {
			continue
		}
		options = append(options, model.Option{Value: value, Label: label})
	}
	return options
}

func (p *Provider) getFromCache(key string) ([]model.Option, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entry, exists := p.cache[key]
	if !exists || !p.now().Before(entry.expiresAt) {
		return nil, false
	}
	return cloneOptions(entry.options), true
}

func (p *Provider) putInCache(key string, options []model.Option) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.cache) >= p.maxEntries {
		p.evictLocked()
	}
	p.cache[key] = cacheEntry{options: options, expiresAt: p.now().Add(p.ttl)}
}

// evictLocked removes expired entries, then the soonest-expiring one if the
// cache is still full.
func (p *Provider) evictLocked() {
	now := p.now()
	var oldest string
	var oldestAt time.Time
	for k, v := range p.cache {
		if !now.Before(v.expiresAt) {
			delete(p.cache, k)
			continue
		}
		if oldest == "" || v.expiresAt.Before(oldestAt) {
			oldest, oldestAt = k, v.expiresAt
		}
	}
	if len(p.cache) >= p.maxEntries && oldest != "" {
		delete(p.cache, oldest)
	}
}

func cacheKey(s model.OptionsSource) string {
	return s.Endpoint + "\x00" + s.ValueField + "\x00" + s.LabelField
}

func cloneOptions(opts []model.Option) []model.Option {
	out := make([]model.Option, len(opts))
	copy(out, opts)
	return out
}
