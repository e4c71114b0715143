package definition

import (
	"fmt"
	"strings"

	"github.com/marketbytes-devops/kwa-console/internal/openapi"
	"github.com/marketbytes-devops/kwa-console/model"
)

// VError describes a single validation error in a definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator checks definitions structurally, across files, and against the
// backend OpenAPI index.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks all definitions. The index may be nil to skip OpenAPI checks.
func (v *Validator) Validate(defs []model.DomainDefinition, index *openapi.Index) []VError {
	var errs []VError
	pageIDs := make(map[string]string)
	domains := make(map[string]bool)

	for i, def := range defs {
		prefix := fmt.Sprintf("definitions[%d]", i)
		if def.Domain != "" {
			if domains[def.Domain] {
				errs = append(errs, VError{Path: prefix + ".domain", Code: "DUPLICATE", Message: fmt.Sprintf("domain %q is defined twice", def.Domain)})
			}
			domains[def.Domain] = true
		}
		for j, p := range def.Pages {
			if p.ID == "" {
				continue
			}
			if prev, ok := pageIDs[p.ID]; ok {
				errs = append(errs, VError{
					Path:    fmt.Sprintf("%s.pages[%d].id", prefix, j),
					Code:    "DUPLICATE",
					Message: fmt.Sprintf("page %q is already defined in %s", p.ID, prev),
				})
				continue
			}
			pageIDs[p.ID] = def.Domain
		}
		errs = append(errs, v.validateDomain(prefix, def, index)...)
	}
	return errs
}

func (v *Validator) validateDomain(prefix string, def model.DomainDefinition, index *openapi.Index) []VError {
	var errs []VError

	if def.Domain == "" {
		errs = append(errs, VError{Path: prefix + ".domain", Code: "REQUIRED", Message: "domain is required"})
	}
	if def.Version == "" {
		errs = append(errs, VError{Path: prefix + ".version", Code: "REQUIRED", Message: "version is required"})
	}
	if def.Navigation.Label == "" {
		errs = append(errs, VError{Path: prefix + ".navigation.label", Code: "REQUIRED", Message: "navigation.label is required"})
	}

	pages := make(map[string]bool, len(def.Pages))
	for i, p := range def.Pages {
		pages[p.ID] = true
		errs = append(errs, v.validatePage(fmt.Sprintf("%s.pages[%d]", prefix, i), p, index)...)
	}

	for i, child := range def.Navigation.Children {
		if !pages[child.PageID] {
			errs = append(errs, VError{
				Path:    fmt.Sprintf("%s.navigation.children[%d].page_id", prefix, i),
				Code:    "REF_NOT_FOUND",
				Message: fmt.Sprintf("page %q not found in domain", child.PageID),
			})
		}
	}
	return errs
}

func (v *Validator) validatePage(prefix string, p model.PageDefinition, index *openapi.Index) []VError {
	var errs []VError

	if p.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if p.Title == "" {
		errs = append(errs, VError{Path: prefix + ".title", Code: "REQUIRED", Message: "title is required"})
	}
	if p.PermissionPage == "" {
		errs = append(errs, VError{Path: prefix + ".permission_page", Code: "REQUIRED", Message: "permission_page is required"})
	}
	if p.RowsPerPage < 0 {
		errs = append(errs, VError{Path: prefix + ".rows_per_page", Code: "RANGE", Message: "rows_per_page must not be negative"})
	}

	switch {
	case p.Endpoint == "":
		errs = append(errs, VError{Path: prefix + ".endpoint", Code: "REQUIRED", Message: "endpoint is required"})
	case !strings.HasPrefix(p.Endpoint, "/") || !strings.HasSuffix(p.Endpoint, "/"):
		errs = append(errs, VError{Path: prefix + ".endpoint", Code: "INVALID_FORMAT", Message: fmt.Sprintf("endpoint %q must start and end with /", p.Endpoint)})
	case index != nil && !index.HasCollection(p.Endpoint):
		errs = append(errs, VError{Path: prefix + ".endpoint", Code: "ENDPOINT_NOT_FOUND", Message: fmt.Sprintf("backend does not list %s", p.Endpoint)})
	}

	if len(p.DataSets) == 0 {
		errs = append(errs, VError{Path: prefix + ".data_sets", Code: "REQUIRED", Message: "at least one data set is required"})
	}

	seen := make(map[string]bool)
	for i, ds := range p.DataSets {
		dp := fmt.Sprintf("%s.data_sets[%d]", prefix, i)
		if ds.Name == "" {
			errs = append(errs, VError{Path: dp + ".name", Code: "REQUIRED", Message: "name is required"})
		}
		if len(ds.Fields) == 0 {
			errs = append(errs, VError{Path: dp + ".fields", Code: "REQUIRED", Message: "at least one field is required"})
		}
		for j, f := range ds.Fields {
			fp := fmt.Sprintf("%s.fields[%d]", dp, j)
			if f.ID != "" && seen[f.ID] {
				errs = append(errs, VError{Path: fp + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("field %q is declared twice on the page", f.ID)})
			}
			seen[f.ID] = true
			errs = append(errs, v.validateField(fp, f, index)...)
		}
	}

	if p.List != nil {
		errs = append(errs, validateList(prefix+".list", p.List)...)
	}

	if index != nil && p.Endpoint != "" {
		for _, req := range index.RequiredFields(p.Endpoint) {
			if !seen[req] {
				errs = append(errs, VError{
					Path:    prefix + ".data_sets",
					Code:    "MISSING_REQUIRED_FIELD",
					Message: fmt.Sprintf("backend requires %q when creating at %s", req, p.Endpoint),
				})
			}
		}
	}
	return errs
}

func validateList(prefix string, l *model.ListDefinition) []VError {
	var errs []VError
	seen := make(map[string]bool)
	for i, f := range l.Filters {
		fp := fmt.Sprintf("%s.filters[%d]", prefix, i)
		switch {
		case f.ID == "":
			errs = append(errs, VError{Path: fp + ".id", Code: "REQUIRED", Message: "id is required"})
		case seen[f.ID]:
			errs = append(errs, VError{Path: fp + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("filter %q is declared twice", f.ID)})
		}
		seen[f.ID] = true
		if f.Field == "" {
			errs = append(errs, VError{Path: fp + ".field", Code: "REQUIRED", Message: "field is required"})
		}
		if !f.Kind.Valid() {
			errs = append(errs, VError{Path: fp + ".kind", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid filter kind %q", f.Kind)})
		}
		if len(f.Options) > 0 && f.Kind != model.FilterEquals {
			errs = append(errs, VError{Path: fp + ".options", Code: "NOT_ALLOWED", Message: fmt.Sprintf("options are only allowed on equals filters, not %s", f.Kind)})
		}
	}
	if s := l.Sort; s != nil {
		if s.Field == "" {
			errs = append(errs, VError{Path: prefix + ".sort.field", Code: "REQUIRED", Message: "field is required"})
		}
		if s.Default != "" {
			if _, err := model.ParseSortOrder(string(s.Default)); err != nil {
				errs = append(errs, VError{Path: prefix + ".sort.default", Code: "INVALID_ENUM", Message: err.Error()})
			}
		}
	}
	return errs
}

func (v *Validator) validateField(prefix string, f model.FieldDescriptor, index *openapi.Index) []VError {
	var errs []VError

	if f.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if !f.Type.Valid() {
		errs = append(errs, VError{Path: prefix + ".type", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid field type %q", f.Type)})
	}
	if f.ShowWarning && f.Warning == "" {
		errs = append(errs, VError{Path: prefix + ".warning", Code: "REQUIRED", Message: "warning is required when show_warning is set"})
	}

	if f.Type == model.FieldSelect {
		if len(f.Options) == 0 && f.OptionsSource == nil {
			errs = append(errs, VError{Path: prefix + ".options", Code: "REQUIRED", Message: "select fields need options or options_source"})
		}
	} else if len(f.Options) > 0 || f.OptionsSource != nil {
		errs = append(errs, VError{Path: prefix + ".options", Code: "NOT_ALLOWED", Message: fmt.Sprintf("options are only allowed on select fields, not %s", f.Type)})
	}

	if src := f.OptionsSource; src != nil {
		if src.Endpoint == "" || src.ValueField == "" || src.LabelField == "" {
			errs = append(errs, VError{Path: prefix + ".options_source", Code: "REQUIRED", Message: "options_source needs endpoint, value_field and label_field"})
		} else if index != nil && !index.HasCollection(src.Endpoint) {
			errs = append(errs, VError{Path: prefix + ".options_source.endpoint", Code: "ENDPOINT_NOT_FOUND", Message: fmt.Sprintf("backend does not list %s", src.Endpoint)})
		}
	}

	if f.Value != nil {
		if _, err := coerceDefault(f); err != nil {
			errs = append(errs, VError{Path: prefix + ".value", Code: "INVALID_VALUE", Message: err.Error()})
		}
	}
	return errs
}

// coerceDefault checks that a default value declared in YAML fits the field.
func coerceDefault(f model.FieldDescriptor) (any, error) {
	switch {
	case f.Type.Boolean():
		if _, ok := f.Value.(bool); !ok {
			return nil, fmt.Errorf("default of %s field must be true or false", f.Type)
		}
	case f.Type == model.FieldImage:
		return nil, fmt.Errorf("image fields cannot declare a default")
	default:
		if _, ok := f.Value.(string); !ok {
			return nil, fmt.Errorf("default of %s field must be a string", f.Type)
		}
	}
	return f.Value, nil
}
