package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketbytes-devops/kwa-console/model"
)

type fakeLister struct {
	calls    atomic.Int32
	err      error
	delay    time.Duration
	entities []model.Entity
}

func (f *fakeLister) List(_ context.Context, _ string) ([]model.Entity, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.entities, nil
}

type fakeRecorder struct {
	mu           sync.Mutex
	hits, misses map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{hits: map[string]int{}, misses: map[string]int{}}
}

func (r *fakeRecorder) RecordLookupCacheHit(ep string) {
	r.mu.Lock()
	r.hits[ep]++
	r.mu.Unlock()
}

func (r *fakeRecorder) RecordLookupCacheMiss(ep string) {
	r.mu.Lock()
	r.misses[ep]++
	r.mu.Unlock()
}

var areaSource = model.OptionsSource{Endpoint: "/area/add-area/", ValueField: "id", LabelField: "area_name"}

func areas() []model.Entity {
	return []model.Entity{
		{"id": json.Number("1"), "area_name": "Kochi North"},
		{"id": json.Number("2"), "area_name": "Kochi South"},
		{"id": nil, "area_name": nil},
	}
}

func TestProvider_Options_maps_entities(t *testing.T) {
	p := NewProvider(time.Minute, 10)
	opts, err := p.Options(context.Background(), &fakeLister{entities: areas()}, areaSource)
	require.NoError(t, err)
	assert.Equal(t, []model.Option{
		{Value: "1", Label: "Kochi North"},
		{Value: "2", Label: "Kochi South"},
	}, opts)
}

func TestProvider_Options_cached(t *testing.T) {
	rec := newFakeRecorder()
	api := &fakeLister{entities: areas()}
	p := NewProvider(time.Minute, 10, WithRecorder(rec))

	_, err := p.Options(context.Background(), api, areaSource)
	require.NoError(t, err)
	opts, err := p.Options(context.Background(), api, areaSource)
	require.NoError(t, err)

	assert.Len(t, opts, 2)
	assert.Equal(t, int32(1), api.calls.Load())
	assert.Equal(t, 1, rec.hits[areaSource.Endpoint])
	assert.Equal(t, 1, rec.misses[areaSource.Endpoint])
}

func TestProvider_Options_returns_copies(t *testing.T) {
	p := NewProvider(time.Minute, 10)
	api := &fakeLister{entities: areas()}
	first, _ := p.Options(context.Background(), api, areaSource)
	first[0].Label = "mutated"

	second, _ := p.Options(context.Background(), api, areaSource)
	assert.Equal(t, "Kochi North", second[0].Label)
}

func TestProvider_Options_ttl(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	api := &fakeLister{entities: areas()}
	p := NewProvider(time.Minute, 10, WithClock(func() time.Time { return now }))

	p.Options(context.Background(), api, areaSource)
	now = now.Add(2 * time.Minute)
	p.Options(context.Background(), api, areaSource)

	assert.Equal(t, int32(2), api.calls.Load())
}

func TestProvider_Options_error_not_cached(t *testing.T) {
	api := &fakeLister{err: errors.New("backend down")}
	p := NewProvider(time.Minute, 10)

	_, err := p.Options(context.Background(), api, areaSource)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/area/add-area/")
	assert.Equal(t, 0, p.CacheLen())
}

func TestProvider_Options_coalesces_concurrent_misses(t *testing.T) {
	api := &fakeLister{entities: areas(), delay: 100 * time.Millisecond}
	p := NewProvider(time.Minute, 10)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			opts, err := p.Options(context.Background(), api, areaSource)
			assert.NoError(t, err)
			assert.Len(t, opts, 2)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), api.calls.Load())
}

func TestProvider_Invalidate(t *testing.T) {
	api := &fakeLister{entities: areas()}
	p := NewProvider(time.Minute, 10)
	other := model.OptionsSource{Endpoint: "/connection/types/", ValueField: "id", LabelField: "name"}

	p.Options(context.Background(), api, areaSource)
	p.Options(context.Background(), api, other)
	require.Equal(t, 2, p.CacheLen())

	p.Invalidate(areaSource.Endpoint)
	assert.Equal(t, 1, p.CacheLen())
}

func TestProvider_evicts_at_capacity(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	api := &fakeLister{entities: areas()}
	p := NewProvider(time.Minute, 2, WithClock(func() time.Time { return now }))

	for _, ep := range []string{"/a/", "/b/", "/c/"} {
		now = now.Add(time.Second)
		p.Options(context.Background(), api, model.OptionsSource{Endpoint: ep, ValueField: "id", LabelField: "area_name"})
	}
	assert.Equal(t, 2, p.CacheLen())
}
