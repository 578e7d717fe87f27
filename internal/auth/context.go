package auth

import "context"

// Principal is the authenticated subject attached to a request context.
type Principal struct {
	UserID string
	Email  string
	Roles  []string
}

// IsAdmin reports whether the principal's normalized role set contains the
// admin role.
func (p Principal) IsAdmin() bool {
	return containsAdmin(p.Roles)
}

type principalContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	principal.Roles = NormalizeRoles(principal.Roles)
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil || v.UserID == "" {
		return Principal{}, false
	}
	return *v, true
}
