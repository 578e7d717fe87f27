package httpapi

import (
	"net/http"

	"uniplex.org/internal/auth"
)

// routePolicy is the authorization rule attached to a handler. The kinds
// are explicit: a route with no rule is deliberately unchecked and passes
// every request through, which keeps the default visible instead of buried
// in middleware fallthrough.
type policyKind int

const (
	policyUnchecked policyKind = iota
	policyRequires
	policySelf
	policyAdmin
)

type routePolicy struct {
	kind      policyKind
	resource  string
	operation string
	// owner extracts the id of the user a request operates on; used by
	// policySelf for the identity-equality bypass.
	owner func(r *http.Request) string
}

func unchecked() routePolicy {
	return routePolicy{kind: policyUnchecked}
}

func requires(resource, operation string) routePolicy {
	return routePolicy{kind: policyRequires, resource: resource, operation: operation}
}

func selfOr(resource, operation string, owner func(*http.Request) string) routePolicy {
	return routePolicy{kind: policySelf, resource: resource, operation: operation, owner: owner}
}

func adminOnly() routePolicy {
	return routePolicy{kind: policyAdmin}
}

// guard enforces pol and reports whether the handler may proceed. Missing
// subject is 401, a failed check is 403. The principal is returned for
// handlers that need the caller's identity; for unchecked routes it may be
// the zero value.
func (a *API) guard(w http.ResponseWriter, r *http.Request, pol routePolicy) (auth.Principal, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if pol.kind == policyUnchecked {
		return principal, true
	}
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return auth.Principal{}, false
	}

	switch pol.kind {
	case policyAdmin:
		if !principal.IsAdmin() {
			writeError(w, r, http.StatusForbidden, "admin role required")
			return auth.Principal{}, false
		}
		return principal, true
	case policySelf:
		if pol.owner != nil && pol.owner(r) == principal.UserID {
			return principal, true
		}
		fallthrough
	case policyRequires:
		allowed, err := a.svc.Allowed(r.Context(), principal, pol.resource, pol.operation)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "authorization check failed")
			return auth.Principal{}, false
		}
		if !allowed {
			writeError(w, r, http.StatusForbidden, "permission denied")
			return auth.Principal{}, false
		}
		return principal, true
	}
	return principal, true
}
