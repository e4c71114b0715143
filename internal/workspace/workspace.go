// Package workspace keeps the form engines of every console session. It is
// the owner of each engine's field storage.
package workspace

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/marketbytes-devops/kwa-console/internal/config"
	"github.com/marketbytes-devops/kwa-console/internal/form"
	"github.com/marketbytes-devops/kwa-console/internal/lookup"
	"github.com/marketbytes-devops/kwa-console/model"
)

// Pages resolves page definitions.
type Pages interface {
	Definition(pageID string) (model.PageDefinition, error)
}

// OptionSource resolves select options from a backend collection.
type OptionSource interface {
	Options(ctx context.Context, api lookup.Lister, source model.OptionsSource) ([]model.Option, error)
}

// Recorder receives workspace and engine measurements.
type Recorder interface {
	form.Recorder
	SetWorkspaceEngines(count int)
}

type key struct {
	sid    string
	pageID string
}

type entry struct {
	engine *form.Engine
	page   model.PageDefinition
	lists  []*model.FieldList
}

// Workspace holds one engine per (session, page).
type Workspace struct {
	pages    Pages
	backend  func(sid string) form.Collaborator
	lookups  OptionSource
	engine   config.EngineConfig
	idleTTL  time.Duration
	logger   *zap.Logger
	recorder Recorder
	now      func() time.Time
	group    singleflight.Group

	mu      sync.Mutex
	engines map[key]*entry
}

// Option configures a Workspace.
type Option func(*Workspace)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Workspace) { w.logger = l }
}

// WithRecorder sets the metrics recorder passed to every engine.
func WithRecorder(r Recorder) Option {
	return func(w *Workspace) { w.recorder = r }
}

// WithLookups resolves options_source select fields when an engine is built.
func WithLookups(l OptionSource) Option {
	return func(w *Workspace) { w.lookups = l }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(w *Workspace) { w.now = now }
}

// New creates a Workspace. backend returns the REST collaborator acting for
// a console session.
func New(pages Pages, backend func(sid string) form.Collaborator, engineCfg config.EngineConfig, cfg config.WorkspaceConfig, opts ...Option) *Workspace {
	w := &Workspace{
		pages:   pages,
		backend: backend,
		engine:  engineCfg,
		idleTTL: cfg.IdleTTL,
		logger:  zap.NewNop(),
		now:     time.Now,
		engines: make(map[key]*entry),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Engine returns the engine of pageID for session sid, building and
// fetching it on first use. Concurrent first calls share one build.
func (w *Workspace) Engine(ctx context.Context, sid, pageID string) (*form.Engine, error) {
	k := key{sid: sid, pageID: pageID}

	w.mu.Lock()
	e, ok := w.engines[k]
	w.mu.Unlock()
	if ok {
		return e.engine, nil
	}

	v, err, _ := w.group.Do(sid+"\x00"+pageID, func() (any, error) {
		w.mu.Lock()
		if e, ok := w.engines[k]; ok {
			w.mu.Unlock()
			return e, nil
		}
		w.mu.Unlock()

		// Joined callers share this build, so one of them going away must
		// not fail the others.
		e, err := w.build(context.WithoutCancel(ctx), sid, pageID)
		if err != nil {
			return nil, err
		}

		w.mu.Lock()
		w.engines[k] = e
		count := len(w.engines)
		w.mu.Unlock()
		w.reportCount(count)
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*entry).engine, nil
}

// Fields returns the current live fields of an engine's data sets, in
// declaration order.
func (w *Workspace) Fields(sid, pageID string) ([]model.FieldDescriptor, bool) {
	w.mu.Lock()
	e, ok := w.engines[key{sid: sid, pageID: pageID}]
	w.mu.Unlock()
	if !ok {
		return nil, false
	}
	var out []model.FieldDescriptor
	for _, l := range e.lists {
		out = append(out, l.Fields()...)
	}
	return out, true
}

// CloseSession drops every engine of sid.
func (w *Workspace) CloseSession(sid string) int {
	w.mu.Lock()
	removed := 0
	for k := range w.engines {
		if k.sid == sid {
			delete(w.engines, k)
			removed++
		}
	}
	count := len(w.engines)
	w.mu.Unlock()

	if removed > 0 {
		w.reportCount(count)
		w.logger.Debug("workspace: session closed", zap.String("session_id", sid), zap.Int("engines", removed))
	}
	return removed
}

// Sweep evicts engines idle for longer than the configured TTL.
func (w *Workspace) Sweep() int {
	if w.idleTTL <= 0 {
		return 0
	}
	cutoff := w.now().Add(-w.idleTTL)

	w.mu.Lock()
	removed := 0
	for k, e := range w.engines {
		if e.engine.LastUsed().Before(cutoff) {
			delete(w.engines, k)
			removed++
		}
	}
	count := len(w.engines)
	w.mu.Unlock()

	if removed > 0 {
		w.reportCount(count)
		w.logger.Info("workspace: idle engines evicted", zap.Int("evicted", removed), zap.Int("remaining", count))
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (w *Workspace) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep()
		}
	}
}

// Len returns the number of live engines.
func (w *Workspace) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.engines)
}

func (w *Workspace) build(ctx context.Context, sid, pageID string) (*entry, error) {
	page, err := w.pages.Definition(pageID)
	if err != nil {
		return nil, err
	}
	api := w.backend(sid)
	logger := w.logger.With(zap.String("page_id", pageID), zap.String("session_id", sid))

	e := &entry{page: page}
	dataSets := make([]model.DataSet, 0, len(page.DataSets))
	for _, ds := range page.DataSets {
		fields := w.initialFields(ctx, api, ds.Fields, logger)
		list := model.NewFieldList(fields)
		e.lists = append(e.lists, list)
		dataSets = append(dataSets, list.DataSet(ds.Name, fields))
	}

	rows := page.RowsPerPage
	if rows == 0 {
		rows = w.engine.RowsPerPage
	}
	opts := []form.Option{form.WithLogger(logger), form.WithClock(w.now)}
	if w.recorder != nil {
		opts = append(opts, form.WithRecorder(w.recorder))
	}
	e.engine = form.New(form.Config{
		Endpoint:             page.Endpoint,
		IdentifierField:      page.IdentifierField,
		RowsPerPage:          rows,
		CharLimit:            w.engine.CharLimit,
		ShowAddItems:         page.ShowAddItems,
		MaxConcurrentCreates: w.engine.MaxConcurrentCreates,
		List:                 page.List,
	}, api, dataSets, opts...)

	// A failed first load leaves an empty list; the client can fetch again.
	if err := e.engine.Fetch(ctx); err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return e, nil
}

// initialFields fills default values and resolves remote select options.
func (w *Workspace) initialFields(ctx context.Context, api form.Collaborator, defs []model.FieldDescriptor, logger *zap.Logger) []model.FieldDescriptor {
	fields := model.CloneFields(defs)
	for i := range fields {
		f := &fields[i]
		if f.Value == nil {
			f.Value = model.EmptyValue(f.Type)
		}
		if f.OptionsSource == nil || w.lookups == nil {
			continue
		}
		opts, err := w.lookups.Options(ctx, api, *f.OptionsSource)
		if err != nil {
			logger.Warn("workspace: select options unavailable",
				zap.String("field", f.ID),
				zap.String("source", f.OptionsSource.Endpoint),
				zap.Error(err),
			)
			continue
		}
		f.Options = opts
	}
	return fields
}

func (w *Workspace) reportCount(n int) {
	if w.recorder != nil {
		w.recorder.SetWorkspaceEngines(n)
	}
}
