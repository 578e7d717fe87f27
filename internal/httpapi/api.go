// Package httpapi is the HTTP surface of the security service.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"

	"uniplex.org/internal/auth"
	"uniplex.org/internal/obs"
)

// ReadyProbe reports whether the service's backends answer.
type ReadyProbe struct {
	DB  *sql.DB
	Bus interface{ Ping(context.Context) error }
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Bus != nil {
		if err := rp.Bus.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// API routes the security service's endpoints.
type API struct {
	mux         *http.ServeMux
	svc         *auth.Service
	readyProbe  ReadyProbe
	version     string
	frontendURL string
}

type Option func(*API)

// WithFrontendURL sets the redirect target of the external login callback.
func WithFrontendURL(u string) Option {
	return func(a *API) { a.frontendURL = u }
}

func New(svc *auth.Service, rp ReadyProbe, version string, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		readyProbe: rp,
		version:    version,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// identity
	a.mux.HandleFunc("/auth/register", a.handleRegister)
	a.mux.HandleFunc("/auth/login", a.handleLogin)
	a.mux.HandleFunc("/auth/external/login", a.handleExternalLogin)
	a.mux.HandleFunc("/auth/external/callback", a.handleExternalCallback)
	a.mux.HandleFunc("/auth/me", a.handleMe)
	a.mux.HandleFunc("/auth/users", a.handleUsers)
	a.mux.HandleFunc("/auth/users/", a.handleUserResource)
	a.mux.HandleFunc("/auth/mfa/setup", a.handleMFASetup)
	a.mux.HandleFunc("/auth/mfa/setup/pending", a.handleMFASetupPending)
	a.mux.HandleFunc("/auth/mfa/verify", a.handleMFAVerify)
	a.mux.HandleFunc("/auth/mfa/toggle", a.handleMFAToggle)
	a.mux.HandleFunc("/auth/has-permission", a.handleHasPermission)
	a.mux.HandleFunc("/auth/permissions", a.handlePermissions)

	// authorization vocabulary
	a.mux.HandleFunc("/rbac/roles", a.handleRoles)
	a.mux.HandleFunc("/rbac/roles/", a.handleRoleScoped)
	a.mux.HandleFunc("/rbac/resources", a.handleResources)
	a.mux.HandleFunc("/rbac/operations", a.handleOperations)
	a.mux.HandleFunc("/rbac/assign/user-role", a.handleAssignUserRole)
	a.mux.HandleFunc("/rbac/assign/permission", a.handleAssignPermission)
	a.mux.HandleFunc("/rbac/permissions/", a.handlePermissionResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler assembles the middleware chain around the mux. The auditor sits
// outside authentication so denied requests are still recorded; the
// authenticator reports the subject back to it once known.
func (a *API) Handler(auditor interface{ Wrap(http.Handler) http.Handler }) http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	if auditor != nil {
		h = auditor.Wrap(h)
	}
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, 50, 25)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "security-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}
