package capability

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/marketbytes-devops/kwa-console/model"
)

// roleFile mirrors the backend's role permission rows so the same page
// names work offline. Grants adds raw capability strings such as
// "valves:*".
type roleFile struct {
	Roles []struct {
		Name        string               `yaml:"name"`
		Permissions []rolePermissionYAML `yaml:"permissions"`
		Grants      []string             `yaml:"grants"`
	} `yaml:"roles"`
}

type rolePermissionYAML struct {
	Page      string `yaml:"page"`
	CanView   bool   `yaml:"can_view"`
	CanAdd    bool   `yaml:"can_add"`
	CanEdit   bool   `yaml:"can_edit"`
	CanDelete bool   `yaml:"can_delete"`
}

// RoleFileEvaluator resolves capabilities from a YAML file keyed by role
// name, for deployments whose backend exposes no role endpoint.
type RoleFileEvaluator struct {
	path string

	mu    sync.RWMutex
	roles map[string]model.CapabilitySet
}

// NewRoleFileEvaluator loads the role file at path.
func NewRoleFileEvaluator(path string) (*RoleFileEvaluator, error) {
	e := &RoleFileEvaluator{path: path}
	if err := e.Reload(); err != nil {
		return nil, err
	}
	return e, nil
}

// ResolveCapabilities returns a copy of the capabilities of the session's
// role. Superusers get every capability; unknown roles get none.
func (e *RoleFileEvaluator) ResolveCapabilities(_ context.Context, rctx *model.RequestContext) (model.CapabilitySet, error) {
	if rctx.Superuser {
		return model.CapabilitySet{"*": true}, nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	caps := make(model.CapabilitySet, len(e.roles[rctx.Role]))
	for c := range e.roles[rctx.Role] {
		caps[c] = true
	}
	return caps, nil
}

// Reload rereads the role file. On error the previous roles stay in effect.
func (e *RoleFileEvaluator) Reload() error {
	data, err := os.ReadFile(e.path)
	if err != nil {
		return fmt.Errorf("capability: read role file: %w", err)
	}
	var f roleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("capability: parse role file %s: %w", e.path, err)
	}

	roles := make(map[string]model.CapabilitySet, len(f.Roles))
	for i, r := range f.Roles {
		if r.Name == "" {
			return fmt.Errorf("capability: %s: roles[%d] has no name", e.path, i)
		}
		if _, dup := roles[r.Name]; dup {
			return fmt.Errorf("capability: %s: role %q defined twice", e.path, r.Name)
		}
		perms := make([]model.PagePermission, 0, len(r.Permissions))
		for _, p := range r.Permissions {
			if p.Page == "" {
				return fmt.Errorf("capability: %s: role %q has a permission without page", e.path, r.Name)
			}
			perms = append(perms, model.PagePermission{
				Page: p.Page, CanView: p.CanView, CanAdd: p.CanAdd,
				CanEdit: p.CanEdit, CanDelete: p.CanDelete,
			})
		}
		caps := FromPermissions(perms)
		for _, g := range r.Grants {
			caps[g] = true
		}
		roles[r.Name] = caps
	}

	e.mu.Lock()
	e.roles = roles
	e.mu.Unlock()
	return nil
}
