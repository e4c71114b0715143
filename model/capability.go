package model

import (
	"context"
	"strings"
)

// CapabilitySet is a set of capabilities granted to a user. Each key is a
// capability string of the form "page:action" (e.g. "valves:edit") and may
// include wildcards (e.g. "valves:*" or "*").
type CapabilitySet map[string]bool

// Page actions a role permission can grant.
const (
	ActionView   = "view"
	ActionAdd    = "add"
	ActionEdit   = "edit"
	ActionDelete = "delete"
)

// PageCapability returns the capability string for action on page.
func PageCapability(page, action string) string {
	return page + ":" + action
}

// Has returns true if the set contains the exact capability or a wildcard
// that matches it.
func (cs CapabilitySet) Has(cap string) bool {
	if cs[cap] {
		return true
	}
	for pattern := range cs {
		if matchWildcard(pattern, cap) {
			return true
		}
	}
	return false
}

// HasAll returns true if the set matches all given capabilities.
func (cs CapabilitySet) HasAll(caps ...string) bool {
	for _, cap := range caps {
		if !cs.Has(cap) {
			return false
		}
	}
	return true
}

// HasAny returns true if the set matches at least one of the given
// capabilities.
func (cs CapabilitySet) HasAny(caps ...string) bool {
	for _, cap := range caps {
		if cs.Has(cap) {
			return true
		}
	}
	return false
}

// Can reports whether action is granted on page.
func (cs CapabilitySet) Can(page, action string) bool {
	return cs.Has(PageCapability(page, action))
}

// matchWildcard returns true if pattern (which may end in "*") matches cap.
//
//	"*"        matches anything
//	"valves:*" matches "valves:edit"
//	"valves"   does NOT match "valves:edit"
func matchWildcard(pattern, cap string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.HasSuffix(pattern, ":*") {
		return false
	}
	prefix := pattern[:len(pattern)-1]
	return strings.HasPrefix(cap, prefix)
}

// CapabilityResolver resolves the capability set for a console session.
type CapabilityResolver interface {
	Resolve(ctx context.Context, rctx *RequestContext) (CapabilitySet, error)

	// Invalidate clears cached capabilities for the given session.
	Invalidate(sessionID string)
}

// PolicyEvaluator computes capabilities from an authoritative source.
type PolicyEvaluator interface {
	ResolveCapabilities(ctx context.Context, rctx *RequestContext) (CapabilitySet, error)
}
