package model

import (
	"encoding/json"
	"errors"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestParseFieldType(t *testing.T) {
	for _, ft := range FieldTypes() {
		got, err := ParseFieldType(string(ft))
		if err != nil {
			t.Fatalf("ParseFieldType(%q) error: %v", ft, err)
		}
		if got != ft {
			t.Errorf("ParseFieldType(%q) = %q", ft, got)
		}
	}
	if _, err := ParseFieldType("textarea"); !errors.Is(err, ErrUnknownFieldType) {
		t.Errorf("ParseFieldType(textarea) error = %v, want ErrUnknownFieldType", err)
	}
}

func TestFieldDescriptor_yamlRejectsUnknownType(t *testing.T) {
	var fd FieldDescriptor
	err := yaml.Unmarshal([]byte("id: notes\ntype: textarea\nlabel: Notes\n"), &fd)
	if !errors.Is(err, ErrUnknownFieldType) {
		t.Fatalf("yaml.Unmarshal error = %v, want ErrUnknownFieldType", err)
	}
}

func TestFieldDescriptor_jsonRejectsUnknownType(t *testing.T) {
	var fd FieldDescriptor
	if err := json.Unmarshal([]byte(`{"id":"x","type":"color"}`), &fd); err == nil {
		t.Fatal("json.Unmarshal should reject unknown field type")
	}
}

func TestEmptyValue(t *testing.T) {
	if EmptyValue(FieldImage) != nil {
		t.Error("EmptyValue(image) should be nil")
	}
	if EmptyValue(FieldCheckbox) != false {
		t.Error("EmptyValue(checkbox) should be false")
	}
	if EmptyValue(FieldText) != "" {
		t.Error(`EmptyValue(text) should be ""`)
	}
}

func TestWithValue_copies(t *testing.T) {
	fields := []FieldDescriptor{
		{ID: "a", Type: FieldText, Value: "1"},
		{ID: "b", Type: FieldText, Value: "2"},
	}
	out := WithValue(fields, "b", "3")
	if out[1].Value != "3" || out[0].Value != "1" {
		t.Errorf("WithValue() = %+v", out)
	}
	if fields[1].Value != "2" {
		t.Error("WithValue must not modify its input")
	}
}

func TestCleared(t *testing.T) {
	fields := []FieldDescriptor{
		{ID: "name", Type: FieldText, Value: "Valve 1"},
		{ID: "photo", Type: FieldImage, Value: "valves/a.png"},
		{ID: "active", Type: FieldCheckbox, Value: true},
	}
	out := Cleared(fields)
	if out[0].Value != "" || out[1].Value != nil || out[2].Value != false {
		t.Errorf("Cleared() = %+v", out)
	}
}

func TestEditSession_states(t *testing.T) {
	if !IdleSession().Idle() {
		t.Error("IdleSession().Idle() = false")
	}
	s := FieldSession("4", FieldDescriptor{ID: "remarks"})
	if !s.Single() || s.Bulk() || s.Field.ID != "remarks" {
		t.Errorf("FieldSession() = %+v", s)
	}
	if b := BulkSession("4"); !b.Bulk() || b.Field != nil {
		t.Errorf("BulkSession() = %+v", b)
	}
}
