// Package field turns field descriptors into headless views and routes value
// changes back to the storage that owns them.
package field

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/marketbytes-devops/kwa-console/model"
)

// MaxUploadSize is the largest image a field accepts.
const MaxUploadSize = 5 * 1024 * 1024

var (
	// ErrUnsupportedFieldType is returned for descriptors whose type the
	// renderer cannot draw.
	ErrUnsupportedFieldType = errors.New("field: unsupported field type")

	// ErrInvalidFieldValue is returned when a value does not fit the field type.
	ErrInvalidFieldValue = errors.New("field: invalid value for field type")

	// ErrUploadTooLarge is returned for uploads larger than MaxUploadSize.
	ErrUploadTooLarge = errors.New("field: upload exceeds 5MB")

	// ErrUnknownField is returned when a data set has no field with the id.
	ErrUnknownField = errors.New("field: unknown field")
)

// Renderer renders field descriptors. Its only state is which select
// dropdowns are open.
type Renderer struct {
	logger *zap.Logger

	mu   sync.Mutex
	open map[string]bool
}

// NewRenderer creates a Renderer. A nil logger discards diagnostics.
func NewRenderer(logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{logger: logger, open: make(map[string]bool)}
}

// Render produces the view of desc. Hidden fields render as nil.
func (r *Renderer) Render(desc model.FieldDescriptor, submitted bool) (*model.FieldView, error) {
	if desc.Hidden {
		return nil, nil
	}

	view := &model.FieldView{
		ID:    desc.ID,
		Type:  desc.Type,
		Label: desc.Label,
		Value: desc.Value,
	}

	switch desc.Type {
	case model.FieldText, model.FieldNumber, model.FieldURL:
		view.Placeholder = Placeholder(desc)
		view.Value = model.Stringify(desc.Value)
	case model.FieldDate:
		view.Value = model.Stringify(desc.Value)
	case model.FieldCheckbox, model.FieldRadio:
		checked, _ := desc.Value.(bool)
		view.Checked = checked
		view.Value = checked
	case model.FieldSelect:
		value := model.Stringify(desc.Value)
		view.Value = value
		view.Options = desc.Options
		view.DisplayLabel = selectLabel(desc, value)
		view.DropdownOpen = r.isOpen(desc.ID)
	case model.FieldImage:
		switch v := desc.Value.(type) {
		case string:
			view.CurrentFile = lastSegment(v)
		case *model.Upload:
			if v != nil {
				view.Value = v
			}
		}
	default:
		r.logger.Warn("field: unsupported field type",
			zap.String("field_id", desc.ID),
			zap.String("type", string(desc.Type)),
		)
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFieldType, desc.Type)
	}

	switch {
	case desc.Error != "":
		view.Message = desc.Error
		view.MessageKind = model.MessageError
	case NeedsWarning(desc, submitted):
		view.Message = desc.Warning
		view.MessageKind = model.MessageWarning
	}
	return view, nil
}

// NeedsWarning reports whether the warning of desc is shown.
func NeedsWarning(desc model.FieldDescriptor, submitted bool) bool {
	return submitted && desc.ShowWarning && desc.Warning != "" && model.IsEmptyValue(desc.Value)
}

// Placeholder returns the input hint of a free-text field.
func Placeholder(desc model.FieldDescriptor) string {
	if desc.Placeholder != "" {
		return desc.Placeholder
	}
	return fmt.Sprintf("Write your %s here...", strings.ToLower(desc.Label))
}

func selectLabel(desc model.FieldDescriptor, value string) string {
	if value == "" {
		return "Select " + strings.ToLower(desc.Label)
	}
	for _, opt := range desc.Options {
		if opt.Value == value {
			return opt.Label
		}
	}
	return value
}

func lastSegment(path string) string {
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// Coerce checks value against the type of desc and returns it in the form
// the field stores.
func Coerce(desc model.FieldDescriptor, value any) (any, error) {
	switch desc.Type {
	case model.FieldText, model.FieldNumber, model.FieldDate, model.FieldURL, model.FieldSelect:
		switch v := value.(type) {
		case nil:
			return "", nil
		case string:
			return v, nil
		case json.Number:
			if desc.Type == model.FieldNumber {
				return v.String(), nil
			}
		}
	case model.FieldCheckbox, model.FieldRadio:
		switch v := value.(type) {
		case nil:
			return false, nil
		case bool:
			return v, nil
		}
	case model.FieldImage:
		switch v := value.(type) {
		case nil:
			return nil, nil
		case string:
			if v == "" {
				return nil, nil
			}
			return v, nil
		case *model.Upload:
			if v == nil {
				return nil, nil
			}
			if err := CheckUpload(v); err != nil {
				return nil, err
			}
			return v, nil
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFieldType, desc.Type)
	}
	return nil, fmt.Errorf("%w: field %q of type %s cannot hold %T", ErrInvalidFieldValue, desc.ID, desc.Type, value)
}

// CheckUpload rejects files larger than MaxUploadSize.
func CheckUpload(up *model.Upload) error {
	if up == nil {
		return fmt.Errorf("%w: no file", ErrInvalidFieldValue)
	}
	if up.Size > MaxUploadSize || int64(len(up.Data)) > MaxUploadSize {
		return ErrUploadTooLarge
	}
	return nil
}

// Change stores value in the field id of ds. The data set's OnFieldChange
// receives the change when set; otherwise the field list is replaced through
// ds.Set with only that value changed.
func (r *Renderer) Change(ds model.DataSet, id string, value any) error {
	desc, ok := model.FindField(ds.Fields(), id)
	if !ok {
		return fmt.Errorf("%w: %q in %s", ErrUnknownField, id, ds.Name)
	}
	v, err := Coerce(desc, value)
	if err != nil {
		return err
	}
	if ds.OnFieldChange != nil {
		ds.OnFieldChange(id, v)
		return nil
	}
	ds.Set(model.WithValue(ds.Fields(), id, v))
	return nil
}

// Upload stores a chosen file in the image field id of ds. Files over the
// size limit are discarded and the field keeps its value.
func (r *Renderer) Upload(ds model.DataSet, id string, up *model.Upload) error {
	desc, ok := model.FindField(ds.Fields(), id)
	if !ok {
		return fmt.Errorf("%w: %q in %s", ErrUnknownField, id, ds.Name)
	}
	if desc.Type != model.FieldImage {
		return fmt.Errorf("%w: field %q is not an image field", ErrInvalidFieldValue, id)
	}
	if err := CheckUpload(up); err != nil {
		if errors.Is(err, ErrUploadTooLarge) {
			r.logger.Info("field: upload rejected",
				zap.String("field_id", id),
				zap.String("filename", up.Filename),
				zap.Int64("size", up.Size),
			)
		}
		return err
	}
	return r.Change(ds, id, up)
}

// ToggleDropdown opens or closes the dropdown of a select field and returns
// the new state.
func (r *Renderer) ToggleDropdown(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open[id] = !r.open[id]
	if !r.open[id] {
		delete(r.open, id)
	}
	return r.open[id]
}

// SelectOption picks an option of a select field and closes its dropdown.
func (r *Renderer) SelectOption(ds model.DataSet, id, value string) error {
	if err := r.Change(ds, id, value); err != nil {
		return err
	}
	r.closeDropdown(id)
	return nil
}

// CloseDropdowns closes every open dropdown.
func (r *Renderer) CloseDropdowns() {
	r.mu.Lock()
	r.open = make(map[string]bool)
	r.mu.Unlock()
}

func (r *Renderer) closeDropdown(id string) {
	r.mu.Lock()
	delete(r.open, id)
	r.mu.Unlock()
}

func (r *Renderer) isOpen(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open[id]
}
