package model

import "sync"

// DataSet is a named group of fields whose storage belongs to the caller.
// The engine reads the current fields through Fields and only ever asks for
// a replacement through Set.
type DataSet struct {
	Name string

	// Fields returns the current field descriptors.
	Fields func() []FieldDescriptor

	// Set replaces the field descriptors.
	Set func([]FieldDescriptor)

	// Template is the field layout used to create new pending entries.
	Template []FieldDescriptor

	// OnFieldChange, when set, receives field changes instead of Set.
	OnFieldChange func(id string, value any)
}

// FieldList is a concurrency-safe field storage that can back a DataSet.
type FieldList struct {
	mu     sync.RWMutex
	fields []FieldDescriptor
}

// NewFieldList returns a FieldList holding a copy of fields.
func NewFieldList(fields []FieldDescriptor) *FieldList {
	return &FieldList{fields: CloneFields(fields)}
}

// Fields returns a copy of the stored fields.
func (l *FieldList) Fields() []FieldDescriptor {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return CloneFields(l.fields)
}

// Set replaces the stored fields.
func (l *FieldList) Set(fields []FieldDescriptor) {
	l.mu.Lock()
	l.fields = CloneFields(fields)
	l.mu.Unlock()
}

// DataSet returns a DataSet backed by this list.
func (l *FieldList) DataSet(name string, template []FieldDescriptor) DataSet {
	return DataSet{
		Name:     name,
		Fields:   l.Fields,
		Set:      l.Set,
		Template: CloneFields(template),
	}
}
