package metadata

import (
	"sort"

	"github.com/marketbytes-devops/kwa-console/internal/definition"
	"github.com/marketbytes-devops/kwa-console/model"
)

// MenuProvider builds a NavigationTree from definitions filtered by capabilities.
type MenuProvider struct {
	registry *definition.Registry
}

// NewMenuProvider creates a MenuProvider backed by the given definition registry.
func NewMenuProvider(registry *definition.Registry) *MenuProvider {
	return &MenuProvider{registry: registry}
}

// GetMenu builds the sidebar. A child is listed when its page exists and the
// user may view it; a domain is listed when at least one child is.
func (p *MenuProvider) GetMenu(caps model.CapabilitySet) model.NavigationTree {
	domains := p.registry.AllDomains()

	nodes := make([]orderedNode, 0, len(domains))
	for _, domain := range domains {
		nav := domain.Navigation

		var children []orderedNode
		for _, child := range nav.Children {
			page, ok := p.registry.GetPage(child.PageID)
			if !ok || !caps.Can(page.PermissionPage, model.ActionView) {
				continue
			}
			children = append(children, orderedNode{
				order: child.Order,
				node: model.NavigationNode{
					ID:    child.PageID,
					Label: child.Label,
					Icon:  child.Icon,
					Route: page.Route,
				},
			})
		}
		if len(children) == 0 {
			continue
		}

		sort.SliceStable(children, func(i, j int) bool {
			return children[i].order < children[j].order
		})

		node := model.NavigationNode{
			ID:       domain.Domain,
			Label:    nav.Label,
			Icon:     nav.Icon,
			Children: make([]model.NavigationNode, len(children)),
		}
		for i, c := range children {
			node.Children[i] = c.node
		}
		nodes = append(nodes, orderedNode{order: nav.Order, node: node})
	}

	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].order < nodes[j].order
	})

	items := make([]model.NavigationNode, len(nodes))
	for i, n := range nodes {
		items[i] = n.node
	}
	return model.NavigationTree{Items: items}
}

type orderedNode struct {
	order int
	node  model.NavigationNode
}
