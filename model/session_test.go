package model

import (
	"encoding/json"
	"testing"
)

func TestEditSession_jsonRoundTrip(t *testing.T) {
	for _, s := range []EditSession{
		IdleSession(),
		BulkSession("7"),
		FieldSession("7", FieldDescriptor{ID: "name", Type: FieldText}),
	} {
		data, err := json.Marshal(s)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		var got EditSession
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("Unmarshal(%s): %v", data, err)
		}
		if got.Kind != s.Kind || got.EntityID != s.EntityID {
			t.Errorf("round trip of %s = %+v", data, got)
		}
	}
}

func TestEditKind_rejectsUnknownName(t *testing.T) {
	var k EditKind
	if err := k.UnmarshalText([]byte("editing")); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestEditSession_exclusiveStates(t *testing.T) {
	s := FieldSession("3", FieldDescriptor{ID: "name"})
	if s.Bulk() || s.Idle() || !s.Single() {
		t.Errorf("field session state = %+v", s)
	}
	if s.Field.ID != "name" {
		t.Errorf("Field.ID = %q", s.Field.ID)
	}
}

func TestEditKind_wireNames(t *testing.T) {
	tests := []struct {
		kind EditKind
		want string
	}{
		{EditIdle, "idle"},
		{EditBulk, "bulk_editing"},
		{EditField, "field_editing"},
	}
	for _, tt := range tests {
		data, err := json.Marshal(EditSession{Kind: tt.kind})
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		want := `{"kind":"` + tt.want + `"}`
		if string(data) != want {
			t.Errorf("Marshal(%v) = %s, want %s", tt.kind, data, want)
		}
	}
}
