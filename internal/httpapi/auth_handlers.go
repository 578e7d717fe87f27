package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"uniplex.org/internal/auth"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type externalLoginRequest struct {
	Provider   string `json:"provider"`
	ExternalID string `json:"externalId"`
	Email      string `json:"email"`
}

type loginResponse struct {
	Token        string    `json:"token,omitempty"`
	PendingToken string    `json:"pendingToken,omitempty"`
	MFARequired  bool      `json:"mfaRequired"`
	Roles        []string  `json:"roles"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type pendingTokenRequest struct {
	PendingToken string `json:"pendingToken"`
}

type mfaVerifyRequest struct {
	PendingToken string `json:"pendingToken"`
	Code         string `json:"code"`
}

type mfaToggleRequest struct {
	UserID string `json:"userId"`
	Enable bool   `json:"enable"`
}

type updateUserRequest struct {
	Email    *string `json:"email"`
	Password *string `json:"password"`
}

type hasPermissionRequest struct {
	Resource  string `json:"resource"`
	Operation string `json:"operation"`
}

func loginPayload(res auth.LoginResult) loginResponse {
	return loginResponse{
		Token:        res.Token,
		PendingToken: res.PendingToken,
		MFARequired:  res.MFARequired,
		Roles:        res.Roles,
		ExpiresAt:    res.ExpiresAt,
	}
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.svc.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginPayload(res))
}

func (a *API) handleExternalLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req externalLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.svc.ExternalLogin(r.Context(), req.Provider, req.ExternalID, req.Email)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginPayload(res))
}

// handleExternalCallback completes a gateway-verified external sign-in and
// hands the token to the frontend via a redirect query parameter.
func (a *API) handleExternalCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	q := r.URL.Query()
	provider := strings.TrimSpace(q.Get("provider"))
	externalID := strings.TrimSpace(q.Get("external_id"))
	email := strings.TrimSpace(q.Get("email"))
	if provider == "" || externalID == "" {
		writeError(w, r, http.StatusBadRequest, "provider and external_id are required")
		return
	}
	res, err := a.svc.ExternalLogin(r.Context(), provider, externalID, email)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	if a.frontendURL == "" {
		writeJSON(w, http.StatusOK, loginPayload(res))
		return
	}
	target := a.frontendURL + "?token=" + url.QueryEscape(res.Token)
	if res.MFARequired {
		target = a.frontendURL + "?pending_token=" + url.QueryEscape(res.PendingToken)
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, ok := a.guard(w, r, unchecked())
	if !ok || p.UserID == "" {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	user, err := a.svc.Me(r.Context(), p)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.guard(w, r, requires("users", "read")); !ok {
		return
	}
	users, err := a.svc.Store().ListUsers(r.Context())
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/auth/users/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodPut:
		a.updateUser(w, r, id)
	case http.MethodDelete:
		a.deleteUser(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) updateUser(w http.ResponseWriter, r *http.Request, id string) {
	p, ok := a.guard(w, r, selfOr("users", "update", func(r *http.Request) string { return id }))
	if !ok {
		return
	}
	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	upd := auth.UserUpdate{Email: req.Email, Password: req.Password}
	if err := a.svc.UpdateUser(r.Context(), p, id, upd); err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request, id string) {
	// Deliberately no self bypass: deleting an account requires the
	// explicit grant even for one's own.
	p, ok := a.guard(w, r, requires("users", "delete"))
	if !ok {
		return
	}
	if err := a.svc.DeleteUser(r.Context(), p, id); err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMFASetup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := a.guard(w, r, unchecked())
	if !ok || p.UserID == "" {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	enrollment, err := a.svc.SetupMFA(r.Context(), p.UserID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, enrollment)
}

func (a *API) handleMFASetupPending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req pendingTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	enrollment, err := a.svc.SetupMFAPending(r.Context(), req.PendingToken)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, enrollment)
}

func (a *API) handleMFAVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req mfaVerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.svc.VerifyMFA(r.Context(), req.PendingToken, req.Code)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginPayload(res))
}

func (a *API) handleMFAToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req mfaToggleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	// An omitted id means the caller's own account, so resolve the target
	// before the self check runs.
	target := req.UserID
	if target == "" {
		if caller, ok := auth.PrincipalFromContext(r.Context()); ok {
			target = caller.UserID
		}
	}
	p, ok := a.guard(w, r, selfOr("users", "update", func(*http.Request) string { return target }))
	if !ok {
		return
	}
	user, err := a.svc.ToggleMFA(r.Context(), p, target, req.Enable)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleHasPermission(w http.ResponseWriter, r *http.Request) {
	p, ok := a.guard(w, r, unchecked())
	if !ok || p.UserID == "" {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var resource, operation string
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		resource, operation = q.Get("resource"), q.Get("operation")
	case http.MethodPost:
		var req hasPermissionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		resource, operation = req.Resource, req.Operation
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		return
	}
	if strings.TrimSpace(resource) == "" || strings.TrimSpace(operation) == "" {
		writeError(w, r, http.StatusBadRequest, "resource and operation are required")
		return
	}
	allowed, err := a.svc.Allowed(r.Context(), p, resource, operation)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, ok := a.guard(w, r, unchecked())
	if !ok || p.UserID == "" {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	perms, err := a.svc.Permissions(r.Context(), p)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, perms)
}

func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, auth.ErrDuplicateIdentity):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrInvalidPendingToken),
		errors.Is(err, auth.ErrMFACodeRejected):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrDenied):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, auth.ErrNoMFASecret):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
