package model

import "fmt"

// FilterKind selects how a filter matches an entity property.
type FilterKind string

// Filter kinds. Date bounds are inclusive and compare calendar days.
const (
	FilterEquals   FilterKind = "equals"
	FilterDateFrom FilterKind = "date_from"
	FilterDateTo   FilterKind = "date_to"
)

// Valid reports whether k is a known filter kind.
func (k FilterKind) Valid() bool {
	switch k {
	case FilterEquals, FilterDateFrom, FilterDateTo:
		return true
	}
	return false
}

// SortOrder is the direction of a list sorted by a date property.
type SortOrder string

// Sort orders.
const (
	SortNewest SortOrder = "newest"
	SortOldest SortOrder = "oldest"
)

// ParseSortOrder returns the order named s.
func ParseSortOrder(s string) (SortOrder, error) {
	switch o := SortOrder(s); o {
	case SortNewest, SortOldest:
		return o, nil
	}
	return "", fmt.Errorf("unknown sort order %q", s)
}

// ListDefinition narrows and orders the collection a page shows.
//
// Scope pairs are always sent to the backend as query parameters and, when
// filtering happens locally, also matched against each entity. With
// ServerSide set, filters and ordering are sent as parameters as well
// (field, field__gte, field__lte, ordering) and the backend's answer is
// shown as is.
type ListDefinition struct {
	Scope      map[string]string  `yaml:"scope"       json:"scope,omitempty"`
	Filters    []FilterDefinition `yaml:"filters"     json:"filters,omitempty"`
	Sort       *SortDefinition    `yaml:"sort"        json:"sort,omitempty"`
	ServerSide bool               `yaml:"server_side" json:"server_side"`
}

// FilterDefinition is one user-settable filter of a list.
type FilterDefinition struct {
	ID      string     `yaml:"id"      json:"id"`
	Label   string     `yaml:"label"   json:"label"`
	Field   string     `yaml:"field"   json:"field"`
	Kind    FilterKind `yaml:"kind"    json:"kind"`
	Options []Option   `yaml:"options" json:"options,omitempty"`
}

// SortDefinition orders a list by a date property.
type SortDefinition struct {
	Field   string    `yaml:"field"   json:"field"`
	Default SortOrder `yaml:"default" json:"default,omitempty"`
}

// Filter returns the filter with the given id.
func (l *ListDefinition) Filter(id string) (FilterDefinition, bool) {
	if l == nil {
		return FilterDefinition{}, false
	}
	for _, f := range l.Filters {
		if f.ID == id {
			return f, true
		}
	}
	return FilterDefinition{}, false
}

// DefaultOrder is the order a list starts with.
func (l *ListDefinition) DefaultOrder() SortOrder {
	if l == nil || l.Sort == nil {
		return ""
	}
	if l.Sort.Default == "" {
		return SortNewest
	}
	return l.Sort.Default
}

// ListView is the filter and sort state sent with a page view.
type ListView struct {
	Filters []FilterView `json:"filters,omitempty"`
	Sort    SortOrder    `json:"sort,omitempty"`
	Loaded  int          `json:"loaded"`
}

// FilterView is a filter with its current value.
type FilterView struct {
	ID      string     `json:"id"`
	Label   string     `json:"label"`
	Kind    FilterKind `json:"kind"`
	Value   string     `json:"value"`
	Options []Option   `json:"options,omitempty"`
}
