package definition

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/marketbytes-devops/kwa-console/model"
)

// snapshot is an immutable collection of definitions indexed by id.
type snapshot struct {
	domains  []model.DomainDefinition
	pages    map[string]model.PageDefinition
	byRoute  map[string]string
	checksum string
}

// Registry is a read-optimized, thread-safe store of loaded definitions.
// Reads never lock; Replace swaps the whole snapshot.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given definitions.
func NewRegistry(defs []model.DomainDefinition) *Registry {
	r := &Registry{}
	r.Replace(defs)
	return r
}

// Replace atomically swaps the registry contents.
func (r *Registry) Replace(defs []model.DomainDefinition) {
	s := &snapshot{
		domains: make([]model.DomainDefinition, len(defs)),
		pages:   make(map[string]model.PageDefinition),
		byRoute: make(map[string]string),
	}
	copy(s.domains, defs)

	parts := make([]string, 0, len(defs))
	for _, def := range defs {
		parts = append(parts, def.Checksum)
		for _, p := range def.Pages {
			s.pages[p.ID] = p
			if p.Route != "" {
				s.byRoute[p.Route] = p.ID
			}
		}
	}

	sort.Strings(parts)
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(strings.Join(parts, ":"))))
	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// GetPage returns the page definition with the given id.
func (r *Registry) GetPage(pageID string) (model.PageDefinition, bool) {
	p, ok := r.current().pages[pageID]
	return p, ok
}

// PageByRoute returns the page served at a client route.
func (r *Registry) PageByRoute(route string) (model.PageDefinition, bool) {
	s := r.current()
	id, ok := s.byRoute[route]
	if !ok {
		return model.PageDefinition{}, false
	}
	return s.pages[id], true
}

// AllDomains returns the domain definitions in navigation order.
func (r *Registry) AllDomains() []model.DomainDefinition {
	s := r.current()
	out := make([]model.DomainDefinition, len(s.domains))
	copy(out, s.domains)
	return out
}

// PageCount returns the number of loaded pages.
func (r *Registry) PageCount() int {
	return len(r.current().pages)
}

// Checksum returns the combined checksum of all loaded definitions.
func (r *Registry) Checksum() string {
	return r.current().checksum
}
