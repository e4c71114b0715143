// Package form implements the generic form/list engine. An Engine owns one
// backend collection and the pending edits made against it: new entries,
// a bulk edit of one entity or a single-field edit.
package form

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marketbytes-devops/kwa-console/internal/field"
	"github.com/marketbytes-devops/kwa-console/model"
)

// Collaborator is the part of the REST client the engine consumes.
type Collaborator interface {
	List(ctx context.Context, endpoint string) ([]model.Entity, error)
	Create(ctx context.Context, endpoint string, payload model.Payload) (model.Entity, error)
	Replace(ctx context.Context, endpoint, id string, payload model.Payload) (model.Entity, error)
	Patch(ctx context.Context, endpoint, id string, payload model.Payload) (model.Entity, error)
	Delete(ctx context.Context, endpoint, id string) error
	Reorder(ctx context.Context, endpoint string, order []model.OrderItem) error
}

// Recorder receives engine measurements.
type Recorder interface {
	RecordEngineOperation(endpoint, operation, outcome string, duration time.Duration)
	RecordBatchEntries(endpoint string, succeeded, failed int)
}

// Config holds per-engine settings.
type Config struct {
	Endpoint             string
	IdentifierField      string
	RowsPerPage          int
	CharLimit            int
	ShowAddItems         bool
	MaxConcurrentCreates int
	// List filters and sorts the displayed collection; nil shows it as
	// fetched.
	List *model.ListDefinition
}

func (c Config) withDefaults() Config {
	if c.IdentifierField == "" {
		c.IdentifierField = "id"
	}
	if c.RowsPerPage < 1 {
		c.RowsPerPage = 4
	}
	if c.CharLimit < 1 {
		c.CharLimit = 50
	}
	if c.MaxConcurrentCreates < 1 {
		c.MaxConcurrentCreates = 8
	}
	return c
}

// Notice messages.
const (
	msgOrderUpdated   = "Order updated successfully."
	msgOrderFailed    = "Failed to update order."
	msgFieldUpdated   = "Field updated successfully."
	msgFieldFailed    = "Failed to update field."
	msgEntriesAdded   = "Multiple entries added successfully."
	msgEntriesFailed  = "Failed to add entries."
	msgEntryUpdated   = "Entry updated successfully."
	msgEntryUpdFailed = "Failed to update entry."
	msgEntryAdded     = "Entry added successfully."
	msgEntryAddFailed = "Failed to add entry."
	msgEntryDeleted   = "Entry deleted successfully."
	msgEntryDelFailed = "Failed to delete entry."
	msgFieldDelFailed = "Failed to delete field."
)

// Target selects which field collection a change applies to.
type Target struct {
	kind  targetKind
	index int
}

type targetKind int

const (
	targetLive targetKind = iota
	targetNewEntry
	targetEditField
)

// Live targets the engine's data sets.
func Live() Target { return Target{kind: targetLive} }

// NewEntry targets the pending entry at index i.
func NewEntry(i int) Target { return Target{kind: targetNewEntry, index: i} }

// EditField targets the field of the active single-field edit.
func EditField() Target { return Target{kind: targetEditField} }

// Engine is the form/list engine of one page. It is safe for concurrent use;
// backend calls are made without holding the engine lock.
type Engine struct {
	cfg      Config
	api      Collaborator
	dataSets []model.DataSet
	renderer *field.Renderer
	logger   *zap.Logger
	recorder Recorder
	now      func() time.Time

	mu         sync.Mutex
	data       []model.Entity
	newEntries [][]model.FieldDescriptor
	session    model.EditSession
	page       int
	submitted  bool
	notice     *model.Notice
	lastUsed   time.Time
	list       listState

	// version changes whenever data is replaced or reordered.
	version uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithRenderer replaces the field renderer.
func WithRenderer(r *field.Renderer) Option {
	return func(e *Engine) { e.renderer = r }
}

// WithClock overrides the time source used for idle tracking.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine over the collection at cfg.Endpoint. The data sets
// keep ownership of their fields; the engine reads them through Fields and
// replaces them only through Set.
func New(cfg Config, api Collaborator, dataSets []model.DataSet, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg.withDefaults(),
		api:      api,
		dataSets: dataSets,
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
		now:      time.Now,
		session:  model.IdleSession(),
		page:     1,
	}
	e.list = newListState(e.cfg.List)
	for _, opt := range opts {
		opt(e)
	}
	if e.renderer == nil {
		e.renderer = field.NewRenderer(e.logger)
	}
	e.lastUsed = e.now()
	e.logger = e.logger.With(zap.String("endpoint", e.cfg.Endpoint))
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Renderer returns the engine's field renderer.
func (e *Engine) Renderer() *field.Renderer { return e.renderer }

// Fetch loads the full collection. Failures are logged and returned; they
// do not raise a notice.
func (e *Engine) Fetch(ctx context.Context) error {
	e.mu.Lock()
	path := e.list.path(e.cfg.Endpoint)
	e.mu.Unlock()

	start := e.now()
	items, err := e.api.List(ctx, path)
	if err != nil {
		e.observe("fetch", start, err)
		e.logger.Error("form: fetch failed", zap.Error(err))
		return err
	}

	e.mu.Lock()
	e.data = items
	e.version++
	e.clampPageLocked()
	e.touchLocked()
	e.mu.Unlock()

	e.observe("fetch", start, nil)
	return nil
}

// AddEntry appends a pending entry seeded from the template of the first
// data set and returns its index.
func (e *Engine) AddEntry() (int, error) {
	if len(e.dataSets) == 0 {
		return 0, model.NewBadRequestError("This page has no fields to add")
	}
	entry := model.Cleared(e.dataSets[0].Template)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.newEntries = append(e.newEntries, entry)
	e.touchLocked()
	return len(e.newEntries) - 1, nil
}

// RemoveNewEntry drops the pending entry at index i.
func (e *Engine) RemoveNewEntry(i int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i < 0 || i >= len(e.newEntries) {
		return model.NewNotFoundError(fmt.Sprintf("No pending entry at index %d", i))
	}
	e.newEntries = append(e.newEntries[:i:i], e.newEntries[i+1:]...)
	if len(e.newEntries) == 0 {
		e.newEntries = nil
	}
	e.touchLocked()
	return nil
}

// Change sets the value of fieldID in the collection selected by target.
func (e *Engine) Change(target Target, fieldID string, value any) error {
	switch target.kind {
	case targetLive:
		ds, ok := e.dataSetOf(fieldID)
		if !ok {
			return model.NewNotFoundError(fmt.Sprintf("Unknown field %q", fieldID))
		}
		desc, _ := model.FindField(ds.Fields(), fieldID)
		var err error
		if desc.Type == model.FieldSelect {
			err = e.renderer.SelectOption(ds, fieldID, model.Stringify(value))
		} else {
			err = e.renderer.Change(ds, fieldID, value)
		}
		if err != nil {
			return err
		}
		e.mu.Lock()
		e.touchLocked()
		e.mu.Unlock()
		return nil

	case targetNewEntry:
		e.mu.Lock()
		defer e.mu.Unlock()
		if target.index < 0 || target.index >= len(e.newEntries) {
			return model.NewNotFoundError(fmt.Sprintf("No pending entry at index %d", target.index))
		}
		entry := e.newEntries[target.index]
		desc, ok := model.FindField(entry, fieldID)
		if !ok {
			return model.NewNotFoundError(fmt.Sprintf("Unknown field %q", fieldID))
		}
		v, err := field.Coerce(desc, value)
		if err != nil {
			return err
		}
		e.newEntries[target.index] = model.WithValue(entry, fieldID, v)
		e.touchLocked()
		return nil

	case targetEditField:
		e.mu.Lock()
		defer e.mu.Unlock()
		if !e.session.Single() {
			return model.NewBadRequestError("No field is being edited")
		}
		if fieldID != "" && fieldID != e.session.Field.ID {
			return model.NewBadRequestError(fmt.Sprintf("Field %q is not being edited", fieldID))
		}
		v, err := field.Coerce(*e.session.Field, value)
		if err != nil {
			return err
		}
		edited := *e.session.Field
		edited.Value = v
		e.session = model.FieldSession(e.session.EntityID, edited)
		e.touchLocked()
		return nil
	}
	return model.NewBadRequestError("Unknown change target")
}

// ChangeNewEntry sets a field of the pending entry at index i.
func (e *Engine) ChangeNewEntry(i int, fieldID string, value any) error {
	return e.Change(NewEntry(i), fieldID, value)
}

// ChangeEditField sets the value of the field being edited on its own.
func (e *Engine) ChangeEditField(value any) error {
	return e.Change(EditField(), "", value)
}

// Upload stores a chosen image in fieldID of target. Files larger than
// field.MaxUploadSize are rejected and the field keeps its value.
func (e *Engine) Upload(target Target, fieldID string, up *model.Upload) error {
	if err := field.CheckUpload(up); err != nil {
		if errors.Is(err, field.ErrUploadTooLarge) {
			e.logger.Info("form: upload rejected",
				zap.String("field_id", fieldID),
				zap.Int64("size", up.Size),
			)
		}
		return err
	}
	return e.Change(target, fieldID, up)
}

// ToggleDropdown opens or closes the dropdown of a select field.
func (e *Engine) ToggleDropdown(fieldID string) bool {
	return e.renderer.ToggleDropdown(fieldID)
}

// BeginEdit loads entity id into the data sets and starts a bulk edit.
// Any single-field edit in progress is abandoned.
func (e *Engine) BeginEdit(id string) error {
	entity, ok := e.entity(id)
	if !ok {
		return model.NewNotFoundError(fmt.Sprintf("Entry %s does not exist", id))
	}
	for _, ds := range e.dataSets {
		fields := ds.Fields()
		for i := range fields {
			fields[i].Value = valueFromEntity(fields[i], entity[fields[i].ID])
		}
		ds.Set(fields)
	}

	e.mu.Lock()
	e.session = model.BulkSession(id)
	e.submitted = false
	e.touchLocked()
	e.mu.Unlock()
	return nil
}

// BeginFieldEdit starts editing fieldID of entity id on its own. Any bulk
// edit in progress is abandoned.
func (e *Engine) BeginFieldEdit(id, fieldID string) error {
	entity, ok := e.entity(id)
	if !ok {
		return model.NewNotFoundError(fmt.Sprintf("Entry %s does not exist", id))
	}
	desc, ok := e.descriptor(fieldID)
	if !ok {
		return model.NewNotFoundError(fmt.Sprintf("Unknown field %q", fieldID))
	}
	desc.Value = valueFromEntity(desc, entity[fieldID])
	desc.Error = ""

	e.mu.Lock()
	e.session = model.FieldSession(id, desc)
	e.submitted = false
	e.touchLocked()
	e.mu.Unlock()
	return nil
}

// Cancel abandons every pending edit: live fields are cleared, pending
// entries dropped and the session returns to idle. It is idempotent.
func (e *Engine) Cancel() {
	e.resetLiveFields()
	e.renderer.CloseDropdowns()

	e.mu.Lock()
	e.newEntries = nil
	e.session = model.IdleSession()
	e.submitted = false
	e.touchLocked()
	e.mu.Unlock()
}

// Paginate moves one page "next" or "prev", staying within the pages the
// current data fills.
func (e *Engine) Paginate(direction string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch direction {
	case "next":
		if e.page < e.totalPagesLocked() {
			e.page++
		}
	case "prev":
		if e.page > 1 {
			e.page--
		}
	default:
		return model.NewBadRequestError(fmt.Sprintf("Unknown direction %q", direction))
	}
	e.touchLocked()
	return nil
}

// Page returns the current page number.
func (e *Engine) Page() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.page
}

// Entries returns a copy of the collection in display order.
func (e *Engine) Entries() []model.Entity {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.Entity, len(e.data))
	copy(out, e.data)
	return out
}

// NewEntries returns a copy of the pending entries.
func (e *Engine) NewEntries() [][]model.FieldDescriptor {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]model.FieldDescriptor, len(e.newEntries))
	for i, entry := range e.newEntries {
		out[i] = model.CloneFields(entry)
	}
	return out
}

// Session returns the current edit session.
func (e *Engine) Session() model.EditSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// Submitted reports whether a submit has been attempted since the last
// successful one.
func (e *Engine) Submitted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.submitted
}

// Notice returns the notice awaiting dismissal, if any.
func (e *Engine) Notice() *model.Notice {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.notice == nil {
		return nil
	}
	n := *e.notice
	return &n
}

// DismissNotice closes the current notice.
func (e *Engine) DismissNotice() {
	e.mu.Lock()
	e.notice = nil
	e.touchLocked()
	e.mu.Unlock()
}

// LastUsed returns when the engine was last operated on.
func (e *Engine) LastUsed() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastUsed
}

func (e *Engine) entity(id string) (model.Entity, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.indexLocked(id)
	if i < 0 {
		return nil, false
	}
	return e.data[i], true
}

func (e *Engine) indexLocked(id string) int {
	for i, item := range e.data {
		if item.ID(e.cfg.IdentifierField) == id {
			return i
		}
	}
	return -1
}

// replaceLocked swaps the entity with the given id for updated. Other
// entities are left untouched.
func (e *Engine) replaceLocked(id string, updated model.Entity) {
	if i := e.indexLocked(id); i >= 0 {
		e.data[i] = updated
	}
}

func (e *Engine) dataSetOf(fieldID string) (model.DataSet, bool) {
	for _, ds := range e.dataSets {
		if _, ok := model.FindField(ds.Fields(), fieldID); ok {
			return ds, true
		}
	}
	return model.DataSet{}, false
}

func (e *Engine) descriptor(fieldID string) (model.FieldDescriptor, bool) {
	for _, ds := range e.dataSets {
		if f, ok := model.FindField(ds.Fields(), fieldID); ok {
			return f, true
		}
	}
	return model.FieldDescriptor{}, false
}

func (e *Engine) liveFields() []model.FieldDescriptor {
	var out []model.FieldDescriptor
	for _, ds := range e.dataSets {
		out = append(out, ds.Fields()...)
	}
	return out
}

func (e *Engine) resetLiveFields() {
	for _, ds := range e.dataSets {
		ds.Set(model.Cleared(ds.Fields()))
	}
}

func (e *Engine) totalPagesLocked() int {
	return totalPages(len(e.list.apply(e.data)), e.cfg.RowsPerPage)
}

// clampPageLocked keeps the page pointer within [1, last page].
func (e *Engine) clampPageLocked() {
	last := e.totalPagesLocked()
	if e.page > last {
		e.page = last
	}
	if e.page < 1 {
		e.page = 1
	}
}

func (e *Engine) setNoticeLocked(n model.Notice) {
	e.notice = &n
}

func (e *Engine) touchLocked() {
	e.lastUsed = e.now()
}

func (e *Engine) observe(op string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	e.recorder.RecordEngineOperation(e.cfg.Endpoint, op, outcome, e.now().Sub(start))
}

func totalPages(n, rows int) int {
	if n == 0 {
		return 1
	}
	return (n + rows - 1) / rows
}

// valueFromEntity converts a stored property into the value a field of
// desc's type holds.
func valueFromEntity(desc model.FieldDescriptor, v any) any {
	switch {
	case desc.Type.Boolean():
		switch b := v.(type) {
		case bool:
			return b
		case string:
			return b == "true"
		}
		return false
	case desc.Type == model.FieldImage:
		if s, ok := v.(string); ok && s != "" {
			return s
		}
		return nil
	default:
		return model.Stringify(v)
	}
}

type nopRecorder struct{}

func (nopRecorder) RecordEngineOperation(string, string, string, time.Duration) {}
func (nopRecorder) RecordBatchEntries(string, int, int)                        {}
