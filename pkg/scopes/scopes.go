// Package scopes partitions flat OAuth2 scope lists into per-resource groups.
//
// Azure AD style identity providers mint one access token per resource
// (audience), so a request like
//
//	["openid", "User.Read", "api://billing/invoices.read"]
//
// really spans two tokens: one for Microsoft Graph and one for the billing
// API. Analyze splits the requested scopes accordingly so each resource can
// be refreshed and cached independently.
package scopes

import "strings"

// Classification is a coarse sensitivity grade for a scope. The heuristic
// here is a simple string check; callers needing stronger policy semantics
// should reclassify after Analyze.
type Classification int

const (
	Default Classification = iota
	Sensitive
	Elevated
)

// String returns the classification name.
func (c Classification) String() string {
	switch c {
	case Sensitive:
		return "sensitive"
	case Elevated:
		return "elevated"
	default:
		return "default"
	}
}

const (
	// GraphResource is the well-known alias for Microsoft Graph, used as
	// the resource for any scope without an explicit resource prefix.
	GraphResource = "graph"

	// elevatedSuffix marks Graph scopes that grant tenant-wide access,
	// e.g. "Directory.Read.All".
	elevatedSuffix = ".All"
)

// Scope is a single scope string with its classification.
type Scope struct {
	Value string
	Class Classification
}

// Group is the ordered set of scopes belonging to one resource.
type Group struct {
	Resource string
	Scopes   []Scope
}

// Values returns the scope strings of the group in order.
func (g Group) Values() []string {
	out := make([]string, len(g.Scopes))
	for i, s := range g.Scopes {
		out[i] = s.Value
	}
	return out
}

// Groups is the result of partitioning a scope list, ordered by first
// appearance of each resource so output is deterministic.
type Groups []Group

// Get returns the group for a resource, if present.
func (gs Groups) Get(resource string) (Group, bool) {
	for _, g := range gs {
		if g.Resource == resource {
			return g, true
		}
	}
	return Group{}, false
}

// Resources returns the resource ids in group order.
func (gs Groups) Resources() []string {
	out := make([]string, len(gs))
	for i, g := range gs {
		out[i] = g.Resource
	}
	return out
}

// Analyze partitions scopes by resource. A scope containing "/" belongs to
// the resource named by everything before the last "/" and keeps its full
// string; anything else belongs to GraphResource and is graded Elevated
// when it carries the ".All" suffix. Scopes keep first-seen order within
// their group and duplicates are preserved.
func Analyze(scopeList []string) Groups {
	var groups Groups
	index := make(map[string]int)

	for _, raw := range scopeList {
		if raw == "" {
			continue
		}

		resource := GraphResource
		class := Default

		if i := strings.LastIndex(raw, "/"); i >= 0 {
			resource = raw[:i]
		} else if strings.HasSuffix(raw, elevatedSuffix) {
			class = Elevated
		}

		pos, ok := index[resource]
		if !ok {
			pos = len(groups)
			index[resource] = pos
			groups = append(groups, Group{Resource: resource})
		}
		groups[pos].Scopes = append(groups[pos].Scopes, Scope{Value: raw, Class: class})
	}

	return groups
}

// Split breaks a space-delimited scope string into a list, dropping empty
// entries. It is the inverse of Join for well-formed input.
func Split(s string) []string {
	return strings.Fields(s)
}

// Join renders a scope list as the space-delimited wire form, dropping
// duplicates while preserving first-seen order.
func Join(scopeList []string) string {
	seen := make(map[string]bool, len(scopeList))
	out := make([]string, 0, len(scopeList))
	for _, s := range scopeList {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return strings.Join(out, " ")
}
