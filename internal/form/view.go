package form

import (
	"fmt"
	"regexp"
	"slices"
	"sort"

	"github.com/marketbytes-devops/kwa-console/internal/field"
	"github.com/marketbytes-devops/kwa-console/model"
)

var htmlTag = regexp.MustCompile(`</?[^>]*>`)

// imageKey is the entity property shown as the card image.
const imageKey = "image"

type snapshot struct {
	visible    []model.Entity
	list       *model.ListView
	newEntries [][]model.FieldDescriptor
	session    model.EditSession
	page       int
	submitted  bool
	notice     *model.Notice
}

func (e *Engine) snapshot() snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := snapshot{
		session:   e.session,
		page:      e.page,
		submitted: e.submitted,
	}
	s.visible = slices.Clone(e.list.apply(e.data))
	s.list = e.list.view(len(e.data))
	for _, entry := range e.newEntries {
		s.newEntries = append(s.newEntries, model.CloneFields(entry))
	}
	if e.notice != nil {
		n := *e.notice
		s.notice = &n
	}
	return s
}

// liveVisible reports whether the data sets' own fields are on screen: when
// nothing is pending or while bulk editing.
func liveVisible(s snapshot) bool {
	return (s.session.Idle() && len(s.newEntries) == 0) || s.session.Bulk()
}

// View renders the engine state. The page descriptor is left for the caller
// to fill in.
func (e *Engine) View() model.PageView {
	s := e.snapshot()

	view := model.PageView{
		Session: s.session,
		Notice:  s.notice,
	}

	if liveVisible(s) {
		for _, ds := range e.dataSets {
			view.Sections = append(view.Sections, model.SectionView{
				Name:   ds.Name,
				Fields: e.renderFields(ds.Fields(), s.submitted),
			})
		}
	}
	for i, entry := range s.newEntries {
		view.NewEntries = append(view.NewEntries, model.NewEntryView{
			Index:  i,
			Fields: e.renderFields(entry, s.submitted),
		})
	}
	if s.session.Single() {
		if fv, err := e.renderer.Render(*s.session.Field, s.submitted); err == nil && fv != nil {
			view.EditField = fv
		}
	}

	view.List = s.list
	rows := e.cfg.RowsPerPage
	total := len(s.visible)
	from := (s.page - 1) * rows
	to := from + rows
	if from > total {
		from = total
	}
	if to > total {
		to = total
	}
	view.Entries = make([]model.EntryView, 0, to-from)
	for _, item := range s.visible[from:to] {
		view.Entries = append(view.Entries, e.entryView(item))
	}
	view.Pagination = model.Pagination{
		Page:        s.page,
		TotalPages:  totalPages(total, rows),
		RowsPerPage: rows,
		Total:       total,
		HasPrev:     s.page > 1,
		HasNext:     s.page*rows < total,
	}
	view.Warnings = e.warnings(s)
	return view
}

// Warnings lists the advisory messages of empty fields that ask for a value.
// They never block a submit.
func (e *Engine) Warnings() []model.FieldWarning {
	return e.warnings(e.snapshot())
}

func (e *Engine) warnings(s snapshot) []model.FieldWarning {
	if !s.submitted {
		return nil
	}
	var out []model.FieldWarning
	add := func(prefix string, fields []model.FieldDescriptor) {
		for _, f := range fields {
			if !f.Hidden && field.NeedsWarning(f, true) {
				out = append(out, model.FieldWarning{Field: prefix + f.ID, Message: f.Warning})
			}
		}
	}
	if liveVisible(s) {
		add("", e.liveFields())
	}
	for i, entry := range s.newEntries {
		add(fmt.Sprintf("new_entries[%d].", i), entry)
	}
	if s.session.Single() {
		add("", []model.FieldDescriptor{*s.session.Field})
	}
	return out
}

func (e *Engine) renderFields(fields []model.FieldDescriptor, submitted bool) []model.FieldView {
	out := make([]model.FieldView, 0, len(fields))
	for _, f := range fields {
		fv, err := e.renderer.Render(f, submitted)
		if err != nil || fv == nil {
			continue
		}
		out = append(out, *fv)
	}
	return out
}

// entryView renders an entity as a card: every string property except the
// image, tags stripped and cut to the character limit, labelled from the
// data set fields.
func (e *Engine) entryView(item model.Entity) model.EntryView {
	v := model.EntryView{ID: item.ID(e.cfg.IdentifierField)}
	if img, ok := item[imageKey].(string); ok {
		v.Image = img
	}

	labels := make(map[string]string)
	var ordered []string
	for _, f := range e.liveFields() {
		if _, seen := labels[f.ID]; seen {
			continue
		}
		labels[f.ID] = f.Label
		if _, present := item[f.ID]; present {
			ordered = append(ordered, f.ID)
		}
	}
	var rest []string
	for k := range item {
		if _, known := labels[k]; !known {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)

	for _, key := range append(ordered, rest...) {
		if key == imageKey {
			continue
		}
		s, ok := item[key].(string)
		if !ok {
			continue
		}
		label := labels[key]
		if label == "" {
			label = key
		}
		v.Fields = append(v.Fields, model.EntryFieldView{
			Key:   key,
			Label: label,
			Text:  stripTags(truncate(s, e.cfg.CharLimit)),
		})
	}
	return v
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}

func stripTags(s string) string {
	return htmlTag.ReplaceAllString(s, "")
}
