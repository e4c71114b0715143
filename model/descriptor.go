package model

// NavigationTree is the sidebar returned to the client.
type NavigationTree struct {
	Items []NavigationNode `json:"items"`
}

// NavigationNode is a single node in the navigation tree.
type NavigationNode struct {
	ID       string           `json:"id"`
	Label    string           `json:"label"`
	Icon     string           `json:"icon,omitempty"`
	Route    string           `json:"route,omitempty"`
	Children []NavigationNode `json:"children,omitempty"`
}

// PageDescriptor is the resolved page metadata sent to the client.
type PageDescriptor struct {
	ID             string       `json:"id"`
	Title          string       `json:"title"`
	Route          string       `json:"route"`
	Endpoint       string       `json:"endpoint"`
	ContentDisplay bool         `json:"content_display"`
	ShowAddItems   bool         `json:"show_add_items"`
	Actions        PageActions  `json:"actions"`
	DataSets       []DataSetRef `json:"data_sets"`
}

// PageActions lists what the current user may do on a page.
type PageActions struct {
	View   bool `json:"view"`
	Add    bool `json:"add"`
	Edit   bool `json:"edit"`
	Delete bool `json:"delete"`
}

// DataSetRef names a data set and the ids of its fields.
type DataSetRef struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
}

// EntryFieldView is one displayed property of an entry card.
type EntryFieldView struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Text  string `json:"text"`
}

// EntryView is the card rendering of an entity.
type EntryView struct {
	ID     string           `json:"id"`
	Fields []EntryFieldView `json:"fields"`
	Image  string           `json:"image,omitempty"`
}

// SectionView is a rendered data set.
type SectionView struct {
	Name   string      `json:"name"`
	Fields []FieldView `json:"fields"`
}

// NewEntryView is a rendered pending entry.
type NewEntryView struct {
	Index  int         `json:"index"`
	Fields []FieldView `json:"fields"`
}

// Pagination describes the visible slice of entries.
type Pagination struct {
	Page        int  `json:"page"`
	TotalPages  int  `json:"total_pages"`
	RowsPerPage int  `json:"rows_per_page"`
	Total       int  `json:"total"`
	HasPrev     bool `json:"has_prev"`
	HasNext     bool `json:"has_next"`
}

// PageView is a complete snapshot of an engine for one client render.
type PageView struct {
	Page       PageDescriptor `json:"page"`
	Session    EditSession    `json:"session"`
	Sections   []SectionView  `json:"sections,omitempty"`
	NewEntries []NewEntryView `json:"new_entries,omitempty"`
	EditField  *FieldView     `json:"edit_field,omitempty"`
	Entries    []EntryView    `json:"entries"`
	List       *ListView      `json:"list,omitempty"`
	Pagination Pagination     `json:"pagination"`
	Notice     *Notice        `json:"notice,omitempty"`
	Warnings   []FieldWarning `json:"warnings,omitempty"`
}

// FieldWarning is an advisory message for an empty field that asks for one.
type FieldWarning struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}
