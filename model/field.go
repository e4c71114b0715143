package model

import (
	"encoding/json"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// FieldType is the closed set of input kinds a form field can take.
type FieldType string

// Supported field types.
const (
	FieldText     FieldType = "text"
	FieldNumber   FieldType = "number"
	FieldDate     FieldType = "date"
	FieldURL      FieldType = "url"
	FieldCheckbox FieldType = "checkbox"
	FieldRadio    FieldType = "radio"
	FieldSelect   FieldType = "select"
	FieldImage    FieldType = "image"
)

// ErrUnknownFieldType is returned when a field type string is not one of the
// supported kinds.
var ErrUnknownFieldType = errors.New("unknown field type")

// FieldTypes lists every supported field type in display order.
func FieldTypes() []FieldType {
	return []FieldType{
		FieldText, FieldNumber, FieldDate, FieldURL,
		FieldCheckbox, FieldRadio, FieldSelect, FieldImage,
	}
}

// ParseFieldType converts s into a FieldType, rejecting unknown kinds.
func ParseFieldType(s string) (FieldType, error) {
	t := FieldType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownFieldType, s)
	}
	return t, nil
}

// Valid reports whether t is a supported field type.
func (t FieldType) Valid() bool {
	switch t {
	case FieldText, FieldNumber, FieldDate, FieldURL,
		FieldCheckbox, FieldRadio, FieldSelect, FieldImage:
		return true
	}
	return false
}

// Boolean reports whether values of this type are booleans.
func (t FieldType) Boolean() bool {
	return t == FieldCheckbox || t == FieldRadio
}

// UnmarshalYAML rejects unknown field types at definition load time.
func (t *FieldType) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseFieldType(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*t = parsed
	return nil
}

// UnmarshalJSON rejects unknown field types.
func (t *FieldType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseFieldType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Option is a selectable value of a select field.
type Option struct {
	Value string `yaml:"value" json:"value"`
	Label string `yaml:"label" json:"label"`
}

// OptionsSource describes a backend collection that supplies select options.
type OptionsSource struct {
	Endpoint   string `yaml:"endpoint"    json:"endpoint"`
	ValueField string `yaml:"value_field" json:"value_field"`
	LabelField string `yaml:"label_field" json:"label_field"`
}

// FieldDescriptor describes one input and carries its current value.
//
// Value holds a string for text, number, date, url and select fields, a bool
// for checkbox and radio fields, and either a stored path (string), an
// *Upload or nil for image fields.
type FieldDescriptor struct {
	ID            string         `yaml:"id"             json:"id"`
	Type          FieldType      `yaml:"type"           json:"type"`
	Label         string         `yaml:"label"          json:"label"`
	Value         any            `yaml:"value"          json:"value"`
	Placeholder   string         `yaml:"placeholder"    json:"placeholder,omitempty"`
	Error         string         `yaml:"error"          json:"error,omitempty"`
	Warning       string         `yaml:"warning"        json:"warning,omitempty"`
	ShowWarning   bool           `yaml:"show_warning"   json:"show_warning,omitempty"`
	Hidden        bool           `yaml:"hidden"         json:"hidden,omitempty"`
	Options       []Option       `yaml:"options"        json:"options,omitempty"`
	OptionsSource *OptionsSource `yaml:"options_source" json:"options_source,omitempty"`
}

// Upload is an image file selected for an image field.
type Upload struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Data        []byte `json:"-"`
}

// EmptyValue returns the value a field of type t holds when cleared.
func EmptyValue(t FieldType) any {
	switch {
	case t == FieldImage:
		return nil
	case t.Boolean():
		return false
	default:
		return ""
	}
}

// IsEmptyValue reports whether v counts as "no value" for warning display
// and payload encoding.
func IsEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case bool:
		return !val
	case *Upload:
		return val == nil
	}
	return false
}

// Cleared returns a copy of fields with every value reset to its empty value.
func Cleared(fields []FieldDescriptor) []FieldDescriptor {
	out := make([]FieldDescriptor, len(fields))
	for i, f := range fields {
		f.Value = EmptyValue(f.Type)
		f.Options = cloneOptions(f.Options)
		out[i] = f
	}
	return out
}

// CloneFields returns a copy of fields that shares no option slices.
func CloneFields(fields []FieldDescriptor) []FieldDescriptor {
	if fields == nil {
		return nil
	}
	out := make([]FieldDescriptor, len(fields))
	for i, f := range fields {
		f.Options = cloneOptions(f.Options)
		out[i] = f
	}
	return out
}

// WithValue returns a copy of fields where only the field with the given id
// carries value.
func WithValue(fields []FieldDescriptor, id string, value any) []FieldDescriptor {
	out := CloneFields(fields)
	for i := range out {
		if out[i].ID == id {
			out[i].Value = value
		}
	}
	return out
}

// FindField returns the field with the given id.
func FindField(fields []FieldDescriptor, id string) (FieldDescriptor, bool) {
	for _, f := range fields {
		if f.ID == id {
			return f, true
		}
	}
	return FieldDescriptor{}, false
}

func cloneOptions(opts []Option) []Option {
	if opts == nil {
		return nil
	}
	out := make([]Option, len(opts))
	copy(out, opts)
	return out
}

// FieldView is the headless rendering of a field: everything a client needs
// to draw the input, with no markup.
type FieldView struct {
	ID           string    `json:"id"`
	Type         FieldType `json:"type"`
	Label        string    `json:"label"`
	Placeholder  string    `json:"placeholder,omitempty"`
	Value        any       `json:"value"`
	Checked      bool      `json:"checked,omitempty"`
	Options      []Option  `json:"options,omitempty"`
	DisplayLabel string    `json:"display_label,omitempty"`
	DropdownOpen bool      `json:"dropdown_open,omitempty"`
	CurrentFile  string    `json:"current_file,omitempty"`
	Message      string    `json:"message,omitempty"`
	MessageKind  string    `json:"message_kind,omitempty"`
}

// Message kinds of a FieldView.
const (
	MessageError   = "error"
	MessageWarning = "warning"
)
