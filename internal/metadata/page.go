package metadata

import (
	"fmt"

	"github.com/marketbytes-devops/kwa-console/internal/definition"
	"github.com/marketbytes-devops/kwa-console/model"
)

// PageProvider resolves PageDefinitions into PageDescriptors.
type PageProvider struct {
	registry *definition.Registry
}

// NewPageProvider creates a PageProvider backed by the given registry.
func NewPageProvider(registry *definition.Registry) *PageProvider {
	return &PageProvider{registry: registry}
}

// Definition returns the page definition with the given id, or a NOT_FOUND
// error.
func (p *PageProvider) Definition(pageID string) (model.PageDefinition, error) {
	def, ok := p.registry.GetPage(pageID)
	if !ok {
		return model.PageDefinition{}, model.NewNotFoundError(fmt.Sprintf("page %q not found", pageID))
	}
	return def, nil
}

// GetPage resolves a PageDescriptor from the definition. Returns an error
// with code NOT_FOUND or FORBIDDEN.
func (p *PageProvider) GetPage(caps model.CapabilitySet, pageID string) (model.PageDescriptor, error) {
	def, err := p.Definition(pageID)
	if err != nil {
		return model.PageDescriptor{}, err
	}
	if err := Authorize(caps, def, model.ActionView); err != nil {
		return model.PageDescriptor{}, err
	}
	return Describe(def, caps), nil
}

// Describe builds the descriptor of def as seen by caps.
func Describe(def model.PageDefinition, caps model.CapabilitySet) model.PageDescriptor {
	actions := ResolveActions(caps, def.PermissionPage)

	desc := model.PageDescriptor{
		ID:             def.ID,
		Title:          def.Title,
		Route:          def.Route,
		Endpoint:       def.Endpoint,
		ContentDisplay: def.ContentDisplay,
		ShowAddItems:   def.ShowAddItems && actions.Add,
		Actions:        actions,
		DataSets:       make([]model.DataSetRef, 0, len(def.DataSets)),
	}
	for _, ds := range def.DataSets {
		ref := model.DataSetRef{Name: ds.Name, Fields: make([]string, 0, len(ds.Fields))}
		for _, f := range ds.Fields {
			ref.Fields = append(ref.Fields, f.ID)
		}
		desc.DataSets = append(desc.DataSets, ref)
	}
	return desc
}
