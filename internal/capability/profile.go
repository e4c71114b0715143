package capability

import (
	"context"
	"fmt"
	"slices"

	"github.com/marketbytes-devops/kwa-console/model"
)

// Accounts reads the signed-in user's profile and role from the backend.
type Accounts interface {
	Profile(ctx context.Context) (model.Profile, error)
	Role(ctx context.Context, roleID string) (model.Role, error)
}

// ProfileEvaluator turns the backend's per-page role permissions into
// capabilities.
type ProfileEvaluator struct {
	accounts       func(sessionID string) Accounts
	superuserRoles []string
}

// NewProfileEvaluator returns an evaluator that asks accounts(sessionID) for
// the profile of each session. Members of superuserRoles get every
// capability.
func NewProfileEvaluator(accounts func(sessionID string) Accounts, superuserRoles []string) *ProfileEvaluator {
	return &ProfileEvaluator{accounts: accounts, superuserRoles: superuserRoles}
}

// ResolveCapabilities fetches the profile and, unless the user is a
// superuser, the permissions of their role.
func (e *ProfileEvaluator) ResolveCapabilities(ctx context.Context, rctx *model.RequestContext) (model.CapabilitySet, error) {
	acc := e.accounts(rctx.SessionID)

	profile, err := acc.Profile(ctx)
	if err != nil {
		return nil, fmt.Errorf("capability: loading profile: %w", err)
	}
	if profile.IsSuperuser {
		return model.CapabilitySet{"*": true}, nil
	}
	if profile.Role == nil {
		return model.CapabilitySet{}, nil
	}
	if slices.Contains(e.superuserRoles, profile.Role.Name) {
		return model.CapabilitySet{"*": true}, nil
	}

	role, err := acc.Role(ctx, profile.Role.ID.String())
	if err != nil {
		return nil, fmt.Errorf("capability: loading role %s: %w", profile.Role.ID, err)
	}
	return FromPermissions(role.Permissions), nil
}

// FromPermissions converts backend page permissions into a capability set.
func FromPermissions(perms []model.PagePermission) model.CapabilitySet {
	caps := make(model.CapabilitySet)
	for _, p := range perms {
		if p.Page == "" {
			continue
		}
		grant := func(action string, ok bool) {
			if ok {
				caps[model.PageCapability(p.Page, action)] = true
			}
		}
		grant(model.ActionView, p.CanView)
		grant(model.ActionAdd, p.CanAdd)
		grant(model.ActionEdit, p.CanEdit)
		grant(model.ActionDelete, p.CanDelete)
	}
	return caps
}
