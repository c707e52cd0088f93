package rbac

import (
	"sort"
	"strings"
)

// Gate answers permission checks from a fixed role to permission-set map.
// It is immutable after construction and safe for concurrent use.
type Gate struct {
	grants map[string]map[string]struct{}
}

// NewGate builds a gate from role code to permission codes.
func NewGate(assignments map[string][]string) *Gate {
	grants := make(map[string]map[string]struct{}, len(assignments))
	for role, perms := range assignments {
		set := make(map[string]struct{}, len(perms))
		for _, p := range normalizePermissions(perms) {
			set[p] = struct{}{}
		}
		grants[normalizeRole(role)] = set
	}
	return &Gate{grants: grants}
}

// DefaultGate builds a gate from the built-in catalog.
func DefaultGate() *Gate {
	return NewGate(DefaultAssignments())
}

// Authorize reports whether role holds permission.
func (g *Gate) Authorize(role, permission string) bool {
	if g == nil {
		return false
	}
	set, ok := g.grants[normalizeRole(role)]
	if !ok {
		return false
	}
	_, ok = set[strings.ToLower(strings.TrimSpace(permission))]
	return ok
}

// Permissions returns the sorted permission codes of role.
func (g *Gate) Permissions(role string) []string {
	if g == nil {
		return nil
	}
	set := g.grants[normalizeRole(role)]
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func normalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
