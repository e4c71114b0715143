// Package openapi indexes the backend's OpenAPI document by path so page
// definitions can be checked against the endpoints the backend serves.
package openapi

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// Route is an indexed backend path with the methods it accepts.
type Route struct {
	Template string
	Methods  map[string]*openapi3.Operation
}

// Index is an in-memory index of backend paths.
type Index struct {
	prefix string
	routes []Route
	byPath map[string]int
}

// NewIndex creates an empty index. pathPrefix is stripped from document
// paths, for backends that publish their document under a versioned root.
func NewIndex(pathPrefix string) *Index {
	return &Index{
		prefix: strings.TrimRight(pathPrefix, "/"),
		byPath: make(map[string]int),
	}
}

// LoadFile parses and indexes the OpenAPI document at path.
func (idx *Index) LoadFile(path string) error {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false
	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return fmt.Errorf("openapi: loading %s: %w", path, err)
	}
	return idx.add(doc, path)
}

// LoadData parses and indexes an OpenAPI document held in memory.
func (idx *Index) LoadData(data []byte) error {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return fmt.Errorf("openapi: parsing document: %w", err)
	}
	return idx.add(doc, "document")
}

func (idx *Index) add(doc *openapi3.T, name string) error {
	if err := doc.Validate(context.Background()); err != nil {
		return fmt.Errorf("openapi: validating %s: %w", name, err)
	}

	templates := make([]string, 0, doc.Paths.Len())
	for path := range doc.Paths.Map() {
		templates = append(templates, path)
	}
	sort.Strings(templates)

	for _, path := range templates {
		item := doc.Paths.Value(path)
		tmpl := idx.strip(path)
		methods := make(map[string]*openapi3.Operation)
		for method, op := range item.Operations() {
			methods[strings.ToUpper(method)] = op
		}
		if i, ok := idx.byPath[tmpl]; ok {
			for m, op := range methods {
				idx.routes[i].Methods[m] = op
			}
			continue
		}
		idx.byPath[tmpl] = len(idx.routes)
		idx.routes = append(idx.routes, Route{Template: tmpl, Methods: methods})
	}
	return nil
}

func (idx *Index) strip(path string) string {
	if idx.prefix != "" && strings.HasPrefix(path, idx.prefix+"/") {
		return path[len(idx.prefix):]
	}
	return path
}

// Len returns the number of indexed paths.
func (idx *Index) Len() int {
	return len(idx.routes)
}

// Match finds the route serving method on a concrete path. Template
// parameters such as {id} match any single non-empty segment.
func (idx *Index) Match(method, path string) (Route, bool) {
	method = strings.ToUpper(method)
	if i, ok := idx.byPath[path]; ok {
		r := idx.routes[i]
		if _, ok := r.Methods[method]; ok {
			return r, true
		}
	}
	for _, r := range idx.routes {
		if _, ok := r.Methods[method]; !ok {
			continue
		}
		if matchTemplate(r.Template, path) {
			return r, true
		}
	}
	return Route{}, false
}

// HasCollection reports whether the backend lists entities at endpoint.
func (idx *Index) HasCollection(endpoint string) bool {
	_, ok := idx.Match("GET", endpoint)
	return ok
}

// RequiredFields returns the properties the create operation at endpoint
// requires, read from its multipart or JSON request schema.
func (idx *Index) RequiredFields(endpoint string) []string {
	r, ok := idx.Match("POST", endpoint)
	if !ok {
		return nil
	}
	op := r.Methods["POST"]
	if op.RequestBody == nil || op.RequestBody.Value == nil {
		return nil
	}
	for _, ct := range []string{"multipart/form-data", "application/json"} {
		mt := op.RequestBody.Value.Content.Get(ct)
		if mt == nil || mt.Schema == nil || mt.Schema.Value == nil {
			continue
		}
		out := make([]string, len(mt.Schema.Value.Required))
		copy(out, mt.Schema.Value.Required)
		sort.Strings(out)
		return out
	}
	return nil
}

func matchTemplate(tmpl, path string) bool {
	ts := strings.Split(tmpl, "/")
	ps := strings.Split(path, "/")
	if len(ts) != len(ps) {
		return false
	}
	for i := range ts {
		if strings.HasPrefix(ts[i], "{") && strings.HasSuffix(ts[i], "}") {
			if ps[i] == "" {
				return false
			}
			continue
		}
		if ts[i] != ps[i] {
			return false
		}
	}
	return true
}
