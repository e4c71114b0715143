package model

import "fmt"

// EditKind discriminates the states of an EditSession.
type EditKind int

// Edit session states.
const (
	EditIdle EditKind = iota
	EditBulk
	EditField
)

// String returns the wire name of the kind.
func (k EditKind) String() string {
	switch k {
	case EditBulk:
		return "bulk_editing"
	case EditField:
		return "field_editing"
	default:
		return "idle"
	}
}

// MarshalText encodes the kind by name.
func (k EditKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *EditKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*k = EditIdle
	case "bulk_editing":
		*k = EditBulk
	case "field_editing":
		*k = EditField
	default:
		return fmt.Errorf("unknown edit kind %q", b)
	}
	return nil
}

// EditSession is the single source of truth for what an engine is editing.
// Bulk editing and single-field editing cannot be active at the same time.
type EditSession struct {
	Kind     EditKind         `json:"kind"`
	EntityID string           `json:"entity_id,omitempty"`
	Field    *FieldDescriptor `json:"field,omitempty"`
}

// IdleSession returns the state where nothing is being edited.
func IdleSession() EditSession {
	return EditSession{Kind: EditIdle}
}

// BulkSession returns the state where every field of entity id is edited.
func BulkSession(id string) EditSession {
	return EditSession{Kind: EditBulk, EntityID: id}
}

// FieldSession returns the state where a single field of entity id is edited.
func FieldSession(id string, field FieldDescriptor) EditSession {
	f := field
	return EditSession{Kind: EditField, EntityID: id, Field: &f}
}

// Idle reports whether nothing is being edited.
func (s EditSession) Idle() bool { return s.Kind == EditIdle }

// Bulk reports whether a whole entity is being edited.
func (s EditSession) Bulk() bool { return s.Kind == EditBulk }

// Single reports whether one field of an entity is being edited.
func (s EditSession) Single() bool { return s.Kind == EditField }
