package metadata

import (
	"fmt"

	"github.com/marketbytes-devops/kwa-console/model"
)

// ResolveActions reports which page actions caps grants on permissionPage.
func ResolveActions(caps model.CapabilitySet, permissionPage string) model.PageActions {
	return model.PageActions{
		View:   caps.Can(permissionPage, model.ActionView),
		Add:    caps.Can(permissionPage, model.ActionAdd),
		Edit:   caps.Can(permissionPage, model.ActionEdit),
		Delete: caps.Can(permissionPage, model.ActionDelete),
	}
}

// Authorize returns a FORBIDDEN error unless caps grants action on the page.
func Authorize(caps model.CapabilitySet, page model.PageDefinition, action string) error {
	if caps.Can(page.PermissionPage, action) {
		return nil
	}
	return model.NewForbiddenError(fmt.Sprintf("you do not have %s permission on %s", action, page.Title))
}
