package form

import (
	"cmp"
	"context"
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/marketbytes-devops/kwa-console/model"
)

// dateLayout is the calendar-day form of filter values and the prefix of
// backend date properties.
const dateLayout = "2006-01-02"

// listState is the filter and sort selection over an engine's collection.
// A zero listState (no definition) shows the collection unchanged.
type listState struct {
	def     *model.ListDefinition
	filters map[string]string
	order   model.SortOrder
}

func newListState(def *model.ListDefinition) listState {
	return listState{def: def, filters: map[string]string{}, order: def.DefaultOrder()}
}

func (l *listState) set(id, value string) error {
	f, ok := l.def.Filter(id)
	if !ok {
		return model.NewNotFoundError(fmt.Sprintf("Unknown filter %q", id))
	}
	if value == "" {
		delete(l.filters, id)
		return nil
	}
	switch f.Kind {
	case model.FilterDateFrom, model.FilterDateTo:
		if _, err := time.Parse(dateLayout, value); err != nil {
			return model.NewBadRequestError(fmt.Sprintf("%s must be a date like 2026-01-31", f.Label))
		}
	case model.FilterEquals:
		if len(f.Options) > 0 && !slices.ContainsFunc(f.Options, func(o model.Option) bool { return o.Value == value }) {
			return model.NewBadRequestError(fmt.Sprintf("%q is not a choice of %s", value, f.Label))
		}
	}
	l.filters[id] = value
	return nil
}

func (l *listState) setOrder(s string) error {
	if l.def == nil || l.def.Sort == nil {
		return model.NewBadRequestError("This list cannot be sorted")
	}
	order, err := model.ParseSortOrder(s)
	if err != nil {
		return model.NewBadRequestError(fmt.Sprintf("Unknown sort order %q", s))
	}
	l.order = order
	return nil
}

func (l *listState) reset() {
	clear(l.filters)
	l.order = l.def.DefaultOrder()
}

func (l listState) serverSide() bool {
	return l.def != nil && l.def.ServerSide
}

// query returns the parameters of a list request. The scope is always
// sent; filters and ordering only when the backend does the filtering.
func (l listState) query() url.Values {
	if l.def == nil {
		return nil
	}
	q := url.Values{}
	for k, v := range l.def.Scope {
		q.Set(k, v)
	}
	if !l.def.ServerSide {
		return q
	}
	for _, f := range l.def.Filters {
		v, ok := l.filters[f.ID]
		if !ok {
			continue
		}
		switch f.Kind {
		case model.FilterEquals:
			q.Set(f.Field, v)
		case model.FilterDateFrom:
			q.Set(f.Field+"__gte", v)
		case model.FilterDateTo:
			q.Set(f.Field+"__lte", v)
		}
	}
	if s := l.def.Sort; s != nil {
		if l.order == model.SortOldest {
			q.Set("ordering", s.Field)
		} else {
			q.Set("ordering", "-"+s.Field)
		}
	}
	return q
}

// path returns the list request path for endpoint.
func (l listState) path(endpoint string) string {
	q := l.query()
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

// apply returns the entities to display, in display order. The input is
// not modified.
func (l listState) apply(items []model.Entity) []model.Entity {
	if l.def == nil || l.def.ServerSide {
		return items
	}
	out := make([]model.Entity, 0, len(items))
	for _, item := range items {
		if l.matches(item) {
			out = append(out, item)
		}
	}
	if s := l.def.Sort; s != nil {
		desc := l.order != model.SortOldest
		slices.SortStableFunc(out, func(a, b model.Entity) int {
			return compareDates(a[s.Field], b[s.Field], desc)
		})
	}
	return out
}

func (l listState) matches(item model.Entity) bool {
	for k, v := range l.def.Scope {
		if model.Stringify(item[k]) != v {
			return false
		}
	}
	for _, f := range l.def.Filters {
		v, ok := l.filters[f.ID]
		if !ok {
			continue
		}
		switch f.Kind {
		case model.FilterEquals:
			if model.Stringify(item[f.Field]) != v {
				return false
			}
		case model.FilterDateFrom, model.FilterDateTo:
			day, ok := entityDay(item[f.Field])
			if !ok {
				return false
			}
			bound, _ := time.Parse(dateLayout, v)
			if f.Kind == model.FilterDateFrom && day.Before(bound) {
				return false
			}
			if f.Kind == model.FilterDateTo && day.After(bound) {
				return false
			}
		}
	}
	return true
}

func (l listState) view(loaded int) *model.ListView {
	if l.def == nil {
		return nil
	}
	v := &model.ListView{Sort: l.order, Loaded: loaded}
	for _, f := range l.def.Filters {
		v.Filters = append(v.Filters, model.FilterView{
			ID:      f.ID,
			Label:   f.Label,
			Kind:    f.Kind,
			Value:   l.filters[f.ID],
			Options: f.Options,
		})
	}
	return v
}

// entityDay reads the calendar day of a date or timestamp property.
func entityDay(v any) (time.Time, bool) {
	s := model.Stringify(v)
	if len(s) < len(dateLayout) {
		return time.Time{}, false
	}
	day, err := time.Parse(dateLayout, s[:len(dateLayout)])
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

// compareDates orders entities by a date property. Full timestamps break
// ties within a day; entities without a readable date go last either way.
func compareDates(a, b any, desc bool) int {
	_, aok := entityDay(a)
	_, bok := entityDay(b)
	switch {
	case !aok && !bok:
		return 0
	case !aok:
		return 1
	case !bok:
		return -1
	}
	c := cmp.Compare(model.Stringify(a), model.Stringify(b))
	if desc {
		return -c
	}
	return c
}

// SetFilter sets the filter id to value; an empty value clears it. The
// view returns to the first page. Lists filtered by the backend are fetched
// again.
func (e *Engine) SetFilter(ctx context.Context, id, value string) error {
	e.mu.Lock()
	if e.list.def == nil {
		e.mu.Unlock()
		return model.NewBadRequestError("This list has no filters")
	}
	if err := e.list.set(id, value); err != nil {
		e.mu.Unlock()
		return err
	}
	e.page = 1
	e.touchLocked()
	refetch := e.list.serverSide()
	e.mu.Unlock()

	if refetch {
		return e.Fetch(ctx)
	}
	return nil
}

// SetSort orders the list "newest" or "oldest" first.
func (e *Engine) SetSort(ctx context.Context, order string) error {
	e.mu.Lock()
	if err := e.list.setOrder(order); err != nil {
		e.mu.Unlock()
		return err
	}
	e.page = 1
	e.touchLocked()
	refetch := e.list.serverSide()
	e.mu.Unlock()

	if refetch {
		return e.Fetch(ctx)
	}
	return nil
}

// ClearFilters drops every filter and restores the default order.
func (e *Engine) ClearFilters(ctx context.Context) error {
	e.mu.Lock()
	if e.list.def == nil {
		e.mu.Unlock()
		return nil
	}
	e.list.reset()
	e.page = 1
	e.touchLocked()
	refetch := e.list.serverSide()
	e.mu.Unlock()

	if refetch {
		return e.Fetch(ctx)
	}
	return nil
}

// Visible returns the entities the list shows, filtered and sorted, before
// pagination.
func (e *Engine) Visible() []model.Entity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.list.apply(e.data))
}
