package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/marketbytes-devops/kwa-console/internal/field"
	"github.com/marketbytes-devops/kwa-console/internal/form"
	"github.com/marketbytes-devops/kwa-console/internal/metadata"
	"github.com/marketbytes-devops/kwa-console/internal/observability"
	"github.com/marketbytes-devops/kwa-console/model"
)

// Engines hands out the form engine of a page for a console session.
type Engines interface {
	Engine(ctx context.Context, sid, pageID string) (*form.Engine, error)
}

// PageResponse is returned by every page call.
type PageResponse struct {
	Notice *model.Notice      `json:"notice,omitempty"`
	Report *model.BatchReport `json:"report,omitempty"`
	Index  *int               `json:"index,omitempty"`
	View   model.PageView     `json:"view"`
}

type pageCall struct {
	r      *http.Request
	def    model.PageDefinition
	caps   model.CapabilitySet
	engine *form.Engine
}

type pageResult struct {
	notice *model.Notice
	report *model.BatchReport
	index  *int
}

type pageHandlers struct {
	pages   *metadata.PageProvider
	engines Engines
	logger  *zap.Logger
}

// op wraps a page operation: it resolves the page, checks view permission
// plus action (when set), runs fn on the session's engine and responds with
// the resulting view.
func (h *pageHandlers) op(action string, fn func(pc pageCall) (pageResult, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())
		caps := CapabilitiesFrom(r.Context())

		def, err := h.pages.Definition(chi.URLParam(r, "pageId"))
		if err != nil {
			WriteRequestError(w, r, err)
			return
		}
		if err := metadata.Authorize(caps, def, model.ActionView); err != nil {
			WriteRequestError(w, r, err)
			return
		}
		if action != "" {
			if err := metadata.Authorize(caps, def, action); err != nil {
				WriteRequestError(w, r, err)
				return
			}
		}

		engine, err := h.engines.Engine(r.Context(), rctx.SessionID, def.ID)
		if err != nil {
			WriteRequestError(w, r, err)
			return
		}

		ctx, span := observability.StartPageSpan(r.Context(), def.ID, operationName(r))
		res, err := fn(pageCall{r: r.WithContext(ctx), def: def, caps: caps, engine: engine})
		observability.EndSpan(span, err)
		if err != nil {
			if errors.Is(err, field.ErrUnsupportedFieldType) {
				observability.RequestLogger(r.Context(), h.logger).Error("page definition uses an unsupported field type",
					zap.String("page_id", def.ID), zap.Error(err))
			}
			WriteRequestError(w, r, err)
			return
		}

		view := engine.View()
		view.Page = metadata.Describe(def, caps)
		WriteJSON(w, http.StatusOK, PageResponse{
			Notice: res.notice,
			Report: res.report,
			Index:  res.index,
			View:   view,
		})
	}
}

// operationName is the part of the matched route after the page id, such
// as "submit" or "entries/{entryId}/edit". The page view itself is "view".
func operationName(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.Method
	}
	pattern := rctx.RoutePattern()
	if i := strings.Index(pattern, "{pageId}/"); i >= 0 {
		pattern = pattern[i+len("{pageId}/"):]
	}
	if pattern == "" {
		return "view"
	}
	return pattern
}

func noticeResult(n model.Notice) pageResult {
	if n.Title == "" {
		return pageResult{}
	}
	return pageResult{notice: &n}
}

type valueBody struct {
	Value any `json:"value"`
}

func readValue(r *http.Request) (any, error) {
	var body valueBody
	if err := decodeJSON(r, &body); err != nil {
		return nil, err
	}
	return body.Value, nil
}

func indexParam(r *http.Request) (int, error) {
	i, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		return 0, model.NewBadRequestError("Entry index must be a number")
	}
	return i, nil
}

// readUpload parses a multipart body holding one "file" part. Bodies far
// beyond the upload limit are cut off before they are buffered.
func readUpload(w http.ResponseWriter, r *http.Request) (*model.Upload, error) {
	const slack = 1 << 20
	r.Body = http.MaxBytesReader(w, r.Body, field.MaxUploadSize+slack)
	if err := r.ParseMultipartForm(field.MaxUploadSize + slack); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return nil, model.NewUploadTooLargeError()
		}
		return nil, model.NewBadRequestError("Invalid multipart body")
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		return nil, model.NewBadRequestError("Missing file part")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, model.NewBadRequestError("Unreadable file part")
	}
	return &model.Upload{
		Filename:    hdr.Filename,
		ContentType: hdr.Header.Get("Content-Type"),
		Size:        hdr.Size,
		Data:        data,
	}, nil
}

func (h *pageHandlers) view() http.HandlerFunc {
	return h.op("", func(pageCall) (pageResult, error) {
		return pageResult{}, nil
	})
}

func (h *pageHandlers) fetch() http.HandlerFunc {
	return h.op("", func(pc pageCall) (pageResult, error) {
		return pageResult{}, pc.engine.Fetch(pc.r.Context())
	})
}

func (h *pageHandlers) changeField() http.HandlerFunc {
	return h.op("", func(pc pageCall) (pageResult, error) {
		v, err := readValue(pc.r)
		if err != nil {
			return pageResult{}, err
		}
		return pageResult{}, pc.engine.Change(form.Live(), chi.URLParam(pc.r, "fieldId"), v)
	})
}

func (h *pageHandlers) upload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.op("", func(pc pageCall) (pageResult, error) {
			up, err := readUpload(w, pc.r)
			if err != nil {
				return pageResult{}, err
			}
			return pageResult{}, pc.engine.Upload(form.Live(), chi.URLParam(pc.r, "fieldId"), up)
		})(w, r)
	}
}

func (h *pageHandlers) uploadNewEntry() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.op(model.ActionAdd, func(pc pageCall) (pageResult, error) {
			i, err := indexParam(pc.r)
			if err != nil {
				return pageResult{}, err
			}
			up, err := readUpload(w, pc.r)
			if err != nil {
				return pageResult{}, err
			}
			return pageResult{}, pc.engine.Upload(form.NewEntry(i), chi.URLParam(pc.r, "fieldId"), up)
		})(w, r)
	}
}

func (h *pageHandlers) toggleDropdown() http.HandlerFunc {
	return h.op("", func(pc pageCall) (pageResult, error) {
		pc.engine.ToggleDropdown(chi.URLParam(pc.r, "fieldId"))
		return pageResult{}, nil
	})
}

func (h *pageHandlers) addEntry() http.HandlerFunc {
	return h.op(model.ActionAdd, func(pc pageCall) (pageResult, error) {
		if !pc.def.ShowAddItems {
			return pageResult{}, model.NewBadRequestError("This page does not accept multiple entries")
		}
		i, err := pc.engine.AddEntry()
		if err != nil {
			return pageResult{}, err
		}
		return pageResult{index: &i}, nil
	})
}

func (h *pageHandlers) changeNewEntry() http.HandlerFunc {
	return h.op(model.ActionAdd, func(pc pageCall) (pageResult, error) {
		i, err := indexParam(pc.r)
		if err != nil {
			return pageResult{}, err
		}
		v, err := readValue(pc.r)
		if err != nil {
			return pageResult{}, err
		}
		return pageResult{}, pc.engine.ChangeNewEntry(i, chi.URLParam(pc.r, "fieldId"), v)
	})
}

func (h *pageHandlers) removeNewEntry() http.HandlerFunc {
	return h.op(model.ActionAdd, func(pc pageCall) (pageResult, error) {
		i, err := indexParam(pc.r)
		if err != nil {
			return pageResult{}, err
		}
		return pageResult{}, pc.engine.RemoveNewEntry(i)
	})
}

// submit needs add for creates and edit while an entity is being edited.
func (h *pageHandlers) submit() http.HandlerFunc {
	return h.op("", func(pc pageCall) (pageResult, error) {
		action := model.ActionAdd
		if s := pc.engine.Session(); !s.Idle() && len(pc.engine.NewEntries()) == 0 {
			action = model.ActionEdit
		}
		if err := metadata.Authorize(pc.caps, pc.def, action); err != nil {
			return pageResult{}, err
		}

		n, report, err := pc.engine.Submit(pc.r.Context())
		if err != nil {
			return pageResult{}, err
		}
		res := noticeResult(n)
		res.report = report
		return res, nil
	})
}

func (h *pageHandlers) cancel() http.HandlerFunc {
	return h.op("", func(pc pageCall) (pageResult, error) {
		pc.engine.Cancel()
		return pageResult{}, nil
	})
}

func (h *pageHandlers) beginEdit() http.HandlerFunc {
	return h.op(model.ActionEdit, func(pc pageCall) (pageResult, error) {
		return pageResult{}, pc.engine.BeginEdit(chi.URLParam(pc.r, "entryId"))
	})
}

func (h *pageHandlers) beginFieldEdit() http.HandlerFunc {
	return h.op(model.ActionEdit, func(pc pageCall) (pageResult, error) {
		return pageResult{}, pc.engine.BeginFieldEdit(chi.URLParam(pc.r, "entryId"), chi.URLParam(pc.r, "fieldId"))
	})
}

func (h *pageHandlers) changeEditField() http.HandlerFunc {
	return h.op(model.ActionEdit, func(pc pageCall) (pageResult, error) {
		v, err := readValue(pc.r)
		if err != nil {
			return pageResult{}, err
		}
		return pageResult{}, pc.engine.ChangeEditField(v)
	})
}

func (h *pageHandlers) submitField() http.HandlerFunc {
	return h.op(model.ActionEdit, func(pc pageCall) (pageResult, error) {
		n, err := pc.engine.SubmitField(pc.r.Context())
		if err != nil {
			return pageResult{}, err
		}
		return noticeResult(n), nil
	})
}

func (h *pageHandlers) deleteEntry() http.HandlerFunc {
	return h.op(model.ActionDelete, func(pc pageCall) (pageResult, error) {
		n, err := pc.engine.Delete(pc.r.Context(), chi.URLParam(pc.r, "entryId"))
		if err != nil {
			return pageResult{}, err
		}
		return noticeResult(n), nil
	})
}

func (h *pageHandlers) deleteField() http.HandlerFunc {
	return h.op(model.ActionDelete, func(pc pageCall) (pageResult, error) {
		n, err := pc.engine.DeleteField(pc.r.Context(), chi.URLParam(pc.r, "entryId"), chi.URLParam(pc.r, "fieldId"))
		if err != nil {
			return pageResult{}, err
		}
		return noticeResult(n), nil
	})
}

type reorderBody struct {
	Order []any `json:"order"`
}

func (h *pageHandlers) reorder() http.HandlerFunc {
	return h.op(model.ActionEdit, func(pc pageCall) (pageResult, error) {
		var body reorderBody
		if err := decodeJSON(pc.r, &body); err != nil {
			return pageResult{}, err
		}
		ids := make([]string, len(body.Order))
		for i, v := range body.Order {
			ids[i] = model.Stringify(v)
		}
		n, err := pc.engine.Reorder(pc.r.Context(), ids)
		if err != nil {
			return pageResult{}, err
		}
		return noticeResult(n), nil
	})
}

func (h *pageHandlers) paginate() http.HandlerFunc {
	return h.op("", func(pc pageCall) (pageResult, error) {
		return pageResult{}, pc.engine.Paginate(chi.URLParam(pc.r, "direction"))
	})
}

// updateField saves one field of an entry straight away, as a status
// picker on a list card does.
func (h *pageHandlers) updateField() http.HandlerFunc {
	return h.op(model.ActionEdit, func(pc pageCall) (pageResult, error) {
		v, err := readValue(pc.r)
		if err != nil {
			return pageResult{}, err
		}
		n, err := pc.engine.UpdateField(pc.r.Context(), chi.URLParam(pc.r, "entryId"), chi.URLParam(pc.r, "fieldId"), v)
		if err != nil {
			return pageResult{}, err
		}
		return noticeResult(n), nil
	})
}

func (h *pageHandlers) setFilter() http.HandlerFunc {
	return h.op("", func(pc pageCall) (pageResult, error) {
		v, err := readValue(pc.r)
		if err != nil {
			return pageResult{}, err
		}
		return pageResult{}, pc.engine.SetFilter(pc.r.Context(), chi.URLParam(pc.r, "filterId"), model.Stringify(v))
	})
}

func (h *pageHandlers) clearFilters() http.HandlerFunc {
	return h.op("", func(pc pageCall) (pageResult, error) {
		return pageResult{}, pc.engine.ClearFilters(pc.r.Context())
	})
}

func (h *pageHandlers) sort() http.HandlerFunc {
	return h.op("", func(pc pageCall) (pageResult, error) {
		return pageResult{}, pc.engine.SetSort(pc.r.Context(), chi.URLParam(pc.r, "order"))
	})
}

func (h *pageHandlers) dismissNotice() http.HandlerFunc {
	return h.op("", func(pc pageCall) (pageResult, error) {
		pc.engine.DismissNotice()
		return pageResult{}, nil
	})
}
