package form

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/marketbytes-devops/kwa-console/internal/field"
	"github.com/marketbytes-devops/kwa-console/model"
)

// Submit sends the pending work of the engine. Pending new entries are
// created as a batch; otherwise an active bulk edit is saved with PUT, an
// active single-field edit with PATCH, and with nothing being edited the
// live fields are posted as one new entry.
//
// Backend failures are reported through the returned notice and logged.
// The error is non-nil only for problems the caller must act on, such as an
// expired session.
func (e *Engine) Submit(ctx context.Context) (model.Notice, *model.BatchReport, error) {
	e.mu.Lock()
	e.submitted = true
	pending := make([][]model.FieldDescriptor, len(e.newEntries))
	for i, entry := range e.newEntries {
		pending[i] = model.CloneFields(entry)
	}
	sess := e.session
	e.touchLocked()
	e.mu.Unlock()

	switch {
	case len(pending) > 0:
		return e.submitBatch(ctx, pending)
	case sess.Bulk():
		n, err := e.submitUpdate(ctx, sess.EntityID)
		return n, nil, err
	case sess.Single():
		n, err := e.SubmitField(ctx)
		return n, nil, err
	default:
		n, err := e.submitCreate(ctx)
		return n, nil, err
	}
}

// submitBatch creates every pending entry concurrently. The collection only
// grows when all of them were accepted; otherwise the pending entries stay
// as they were and the report names the entries that failed.
func (e *Engine) submitBatch(ctx context.Context, pending [][]model.FieldDescriptor) (model.Notice, *model.BatchReport, error) {
	start := e.now()
	results := make([]model.EntryResult, len(pending))

	var g errgroup.Group
	g.SetLimit(e.cfg.MaxConcurrentCreates)
	for i, entry := range pending {
		payload := buildPayload(entry, false)
		g.Go(func() error {
			created, err := e.api.Create(ctx, e.cfg.Endpoint, payload)
			results[i] = model.EntryResult{Index: i, Entity: created, Err: err}
			if err != nil {
				results[i].Entity = nil
				results[i].Error = publicMessage(err, msgEntryAddFailed)
			}
			return nil
		})
	}
	_ = g.Wait()

	report := &model.BatchReport{Results: results}
	succeeded := report.Succeeded()
	e.recorder.RecordBatchEntries(e.cfg.Endpoint, succeeded, len(results)-succeeded)

	if report.Failed() {
		var firstErr error
		for _, res := range results {
			if res.Err == nil {
				continue
			}
			if firstErr == nil {
				firstErr = res.Err
			}
			e.logger.Error("form: batch entry rejected",
				zap.Int("index", res.Index),
				zap.Error(res.Err),
			)
		}
		if succeeded > 0 {
			e.logger.Warn("form: batch partially created on the backend",
				zap.Int("created", succeeded),
				zap.Int("total", len(results)),
			)
		}
		notice := model.ErrorNotice(msgEntriesFailed)
		e.mu.Lock()
		e.setNoticeLocked(notice)
		e.mu.Unlock()
		e.observe("batch_create", start, firstErr)
		return notice, report, surfaced(firstErr)
	}

	notice := model.SuccessNotice(msgEntriesAdded)
	e.mu.Lock()
	for _, res := range results {
		e.data = append(e.data, res.Entity)
	}
	e.version++
	if len(e.newEntries) > len(pending) {
		e.newEntries = e.newEntries[len(pending):]
	} else {
		e.newEntries = nil
	}
	e.submitted = false
	e.clampPageLocked()
	e.setNoticeLocked(notice)
	e.mu.Unlock()

	e.observe("batch_create", start, nil)
	return notice, report, nil
}

func (e *Engine) submitCreate(ctx context.Context) (model.Notice, error) {
	start := e.now()
	payload := buildPayload(e.liveFields(), false)
	created, err := e.api.Create(ctx, e.cfg.Endpoint, payload)
	if err != nil {
		return e.fail("create", start, msgEntryAddFailed, err)
	}

	notice := model.SuccessNotice(msgEntryAdded)
	e.mu.Lock()
	e.data = append(e.data, created)
	e.version++
	e.submitted = false
	e.clampPageLocked()
	e.setNoticeLocked(notice)
	e.mu.Unlock()

	e.resetLiveFields()
	e.observe("create", start, nil)
	return notice, nil
}

func (e *Engine) submitUpdate(ctx context.Context, id string) (model.Notice, error) {
	start := e.now()
	payload := buildPayload(e.liveFields(), true)
	updated, err := e.api.Replace(ctx, e.cfg.Endpoint, id, payload)
	if err != nil {
		return e.fail("update", start, msgEntryUpdFailed, err)
	}

	notice := model.SuccessNotice(msgEntryUpdated)
	e.mu.Lock()
	e.replaceLocked(id, updated)
	e.version++
	stillEditing := e.session.Bulk() && e.session.EntityID == id
	if stillEditing {
		e.session = model.IdleSession()
	}
	e.submitted = false
	e.setNoticeLocked(notice)
	e.mu.Unlock()

	if stillEditing {
		e.resetLiveFields()
	}
	e.observe("update", start, nil)
	return notice, nil
}

// SubmitField saves the single field being edited with a PATCH carrying
// only that field.
func (e *Engine) SubmitField(ctx context.Context) (model.Notice, error) {
	e.mu.Lock()
	sess := e.session
	e.mu.Unlock()
	if !sess.Single() {
		return model.Notice{}, model.NewBadRequestError("No field is being edited")
	}

	v, ok := payloadValue(*sess.Field, true)
	if !ok {
		return model.Notice{}, model.NewBadRequestError("Choose a new image before saving")
	}
	start := e.now()
	payload := model.Payload{{Key: sess.Field.ID, Value: v}}
	updated, err := e.api.Patch(ctx, e.cfg.Endpoint, sess.EntityID, payload)
	if err != nil {
		return e.fail("update_field", start, msgFieldFailed, err)
	}

	notice := model.SuccessNotice(msgFieldUpdated)
	e.mu.Lock()
	e.replaceLocked(sess.EntityID, updated)
	e.version++
	if e.session.Single() && e.session.EntityID == sess.EntityID && e.session.Field.ID == sess.Field.ID {
		e.session = model.IdleSession()
	}
	e.submitted = false
	e.setNoticeLocked(notice)
	e.mu.Unlock()

	e.observe("update_field", start, nil)
	return notice, nil
}

// UpdateField saves value into fieldID of entity id at once with a PATCH,
// without going through an edit session. List cards use it for pickers such
// as a complaint's status.
func (e *Engine) UpdateField(ctx context.Context, id, fieldID string, value any) (model.Notice, error) {
	if _, ok := e.entity(id); !ok {
		return model.Notice{}, model.NewNotFoundError(fmt.Sprintf("Entry %s does not exist", id))
	}
	desc, ok := e.descriptor(fieldID)
	if !ok {
		return model.Notice{}, model.NewNotFoundError(fmt.Sprintf("Unknown field %q", fieldID))
	}
	v, err := field.Coerce(desc, value)
	if err != nil {
		return model.Notice{}, err
	}
	desc.Value = v
	pv, ok := payloadValue(desc, true)
	if !ok {
		return model.Notice{}, model.NewBadRequestError("Choose a new image before saving")
	}

	start := e.now()
	updated, err := e.api.Patch(ctx, e.cfg.Endpoint, id, model.Payload{{Key: fieldID, Value: pv}})
	if err != nil {
		return e.fail("update_field", start, msgFieldFailed, err)
	}

	notice := model.SuccessNotice(msgFieldUpdated)
	e.mu.Lock()
	e.replaceLocked(id, updated)
	e.version++
	e.clampPageLocked()
	e.setNoticeLocked(notice)
	e.mu.Unlock()

	e.observe("update_field", start, nil)
	return notice, nil
}

// Delete removes entity id from the backend and from the collection.
func (e *Engine) Delete(ctx context.Context, id string) (model.Notice, error) {
	start := e.now()
	if err := e.api.Delete(ctx, e.cfg.Endpoint, id); err != nil {
		return e.fail("delete", start, msgEntryDelFailed, err)
	}

	notice := model.SuccessNotice(msgEntryDeleted)
	e.mu.Lock()
	if i := e.indexLocked(id); i >= 0 {
		e.data = append(e.data[:i:i], e.data[i+1:]...)
		e.version++
	}
	wasBulk := e.session.Bulk() && e.session.EntityID == id
	if e.session.EntityID == id {
		e.session = model.IdleSession()
	}
	e.clampPageLocked()
	e.setNoticeLocked(notice)
	e.mu.Unlock()

	if wasBulk {
		e.resetLiveFields()
	}
	e.observe("delete", start, nil)
	return notice, nil
}

// DeleteField clears fieldID of entity id on the backend and adopts the
// entity the backend returns.
func (e *Engine) DeleteField(ctx context.Context, id, fieldID string) (model.Notice, error) {
	start := e.now()
	payload := model.Payload{{Key: fieldID, Value: ""}}
	updated, err := e.api.Patch(ctx, e.cfg.Endpoint, id, payload)
	if err != nil {
		return e.fail("delete_field", start, msgFieldDelFailed, err)
	}

	notice := model.SuccessNotice(fmt.Sprintf("Field %s deleted successfully.", fieldID))
	e.mu.Lock()
	e.replaceLocked(id, updated)
	e.version++
	e.setNoticeLocked(notice)
	e.mu.Unlock()

	e.observe("delete_field", start, nil)
	return notice, nil
}

// Reorder adopts ids as the new display order at once and then persists it.
// If persisting fails and nothing else changed the collection meanwhile,
// the previous order is restored.
func (e *Engine) Reorder(ctx context.Context, ids []string) (model.Notice, error) {
	e.mu.Lock()
	reordered, err := e.permuteLocked(ids)
	if err != nil {
		e.mu.Unlock()
		return model.Notice{}, err
	}
	snapshot := e.data
	e.data = reordered
	e.version++
	version := e.version
	order := make([]model.OrderItem, len(reordered))
	for i, item := range reordered {
		order[i] = model.OrderItem{ID: item[e.cfg.IdentifierField], Order: i}
	}
	e.touchLocked()
	e.mu.Unlock()

	start := e.now()
	if err := e.api.Reorder(ctx, e.cfg.Endpoint, order); err != nil {
		e.mu.Lock()
		if e.version == version {
			e.data = snapshot
			e.version++
		}
		e.mu.Unlock()
		return e.fail("reorder", start, msgOrderFailed, err)
	}

	notice := model.SuccessNotice(msgOrderUpdated)
	e.mu.Lock()
	e.setNoticeLocked(notice)
	e.mu.Unlock()
	e.observe("reorder", start, nil)
	return notice, nil
}

// permuteLocked returns the collection in the order of ids, which must name
// every entity exactly once.
func (e *Engine) permuteLocked(ids []string) ([]model.Entity, error) {
	if len(ids) != len(e.data) {
		return nil, model.NewBadRequestError(fmt.Sprintf("Order must list all %d entries", len(e.data)))
	}
	byID := make(map[string]model.Entity, len(e.data))
	for _, item := range e.data {
		byID[item.ID(e.cfg.IdentifierField)] = item
	}
	out := make([]model.Entity, 0, len(ids))
	for _, id := range ids {
		item, ok := byID[id]
		if !ok {
			return nil, model.NewBadRequestError(fmt.Sprintf("Order names unknown or repeated entry %q", id))
		}
		delete(byID, id)
		out = append(out, item)
	}
	return out, nil
}

// fail records a failed backend operation and raises its error notice. A
// validation rejection shows its first field message instead of message.
func (e *Engine) fail(op string, start time.Time, message string, err error) (model.Notice, error) {
	e.logger.Error("form: operation failed",
		zap.String("operation", op),
		zap.Error(err),
	)
	notice := model.ErrorNotice(publicMessage(err, message))
	e.mu.Lock()
	e.setNoticeLocked(notice)
	e.mu.Unlock()
	e.observe(op, start, err)
	return notice, surfaced(err)
}

// surfaced returns the errors a caller must see besides the notice.
func surfaced(err error) error {
	if err == nil {
		return nil
	}
	if model.HasCode(err, model.ErrSessionExpired) || errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func publicMessage(err error, fallback string) string {
	if env, ok := model.AsEnvelope(err); ok && env.Code == model.ErrValidationError {
		if len(env.Details) > 0 {
			return env.Details[0].Message
		}
	}
	return fallback
}
