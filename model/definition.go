package model

// DomainDefinition is the root structure of a definition file. Each file
// declares one sidebar group and the pages behind it.
type DomainDefinition struct {
	Domain     string               `yaml:"domain"     json:"domain"`
	Version    string               `yaml:"version"    json:"version"`
	Navigation NavigationDefinition `yaml:"navigation" json:"navigation"`
	Pages      []PageDefinition     `yaml:"pages"      json:"pages,omitempty"`

	// Checksum is computed at load time and not part of the YAML.
	Checksum string `yaml:"-" json:"-"`
	// SourceFile records the originating file path.
	SourceFile string `yaml:"-" json:"-"`
}

// NavigationDefinition describes a domain's sidebar entry.
type NavigationDefinition struct {
	Label    string                      `yaml:"label"    json:"label"`
	Icon     string                      `yaml:"icon"     json:"icon"`
	Order    int                         `yaml:"order"    json:"order"`
	Children []NavigationChildDefinition `yaml:"children" json:"children"`
}

// NavigationChildDefinition links a sidebar item to a page.
type NavigationChildDefinition struct {
	Label  string `yaml:"label"   json:"label"`
	Icon   string `yaml:"icon"    json:"icon,omitempty"`
	PageID string `yaml:"page_id" json:"page_id"`
	Order  int    `yaml:"order"   json:"order"`
}

// PageDefinition describes one form/list page bound to a backend collection.
type PageDefinition struct {
	ID              string              `yaml:"id"               json:"id"`
	Title           string              `yaml:"title"            json:"title"`
	Route           string              `yaml:"route"            json:"route"`
	Endpoint        string              `yaml:"endpoint"         json:"endpoint"`
	IdentifierField string              `yaml:"identifier_field" json:"identifier_field,omitempty"`
	PermissionPage  string              `yaml:"permission_page"  json:"permission_page"`
	ShowAddItems    bool                `yaml:"show_add_items"   json:"show_add_items"`
	ContentDisplay  bool                `yaml:"content_display"  json:"content_display"`
	RowsPerPage     int                 `yaml:"rows_per_page"    json:"rows_per_page,omitempty"`
	List            *ListDefinition     `yaml:"list"             json:"list,omitempty"`
	DataSets        []DataSetDefinition `yaml:"data_sets"        json:"data_sets"`
}

// DataSetDefinition is the YAML form of a DataSet.
type DataSetDefinition struct {
	Name   string            `yaml:"name"   json:"name"`
	Fields []FieldDescriptor `yaml:"fields" json:"fields"`
}

// AllFields returns every field declared on the page, in order.
func (p PageDefinition) AllFields() []FieldDescriptor {
	var out []FieldDescriptor
	for _, ds := range p.DataSets {
		out = append(out, ds.Fields...)
	}
	return out
}
