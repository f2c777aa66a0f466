package rbac

import (
	"context"
	"slices"
	"strings"
)

// Policy maps a role to the permission patterns it holds. A pattern is an
// exact permission, "*", or a prefix ending in "*" ("entitlement:*").
type Policy map[string][]string

// Grants reports whether role holds at least one of perms.
func (p Policy) Grants(role string, perms ...string) bool {
	if role == "" {
		return false
	}
	return slices.ContainsFunc(p[role], func(pattern string) bool {
		return slices.ContainsFunc(perms, func(perm string) bool { return matchPerm(pattern, perm) })
	})
}

func matchPerm(pattern, perm string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(perm, prefix)
	}
	return pattern == perm
}

type roleKey struct{}

// WithRole records the caller's role for Require.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey{}, role)
}

func RoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(roleKey{}).(string)
	return role
}
