package transport

import (
	"net/http"

	"github.com/marketbytes-devops/kwa-console/internal/metadata"
)

func handleNavigation(menu *metadata.MenuProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, menu.GetMenu(CapabilitiesFrom(r.Context())))
	}
}
