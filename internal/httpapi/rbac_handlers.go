package httpapi

import (
	"net/http"
	"strings"

	"uniplex.org/internal/auth"
)

type createNamedRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type assignUserRoleRequest struct {
	UserID string `json:"user_id"`
	RoleID string `json:"role_id"`
}

type assignPermissionRequest struct {
	RoleID      string `json:"role_id"`
	ResourceID  string `json:"resource_id"`
	OperationID string `json:"operation_id"`
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		roles, err := a.svc.Store().ListRoles(r.Context())
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, roles)
	case http.MethodPost:
		if _, ok := a.guard(w, r, adminOnly()); !ok {
			return
		}
		req, ok := decodeNamed(w, r)
		if !ok {
			return
		}
		role := &auth.Role{Name: req.Name, Description: req.Description}
		if err := a.svc.Store().CreateRole(r.Context(), role); err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleResources(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		resources, err := a.svc.Store().ListResources(r.Context())
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resources)
	case http.MethodPost:
		if _, ok := a.guard(w, r, adminOnly()); !ok {
			return
		}
		req, ok := decodeNamed(w, r)
		if !ok {
			return
		}
		res := &auth.Resource{Name: req.Name, Description: req.Description}
		if err := a.svc.Store().CreateResource(r.Context(), res); err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleOperations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		operations, err := a.svc.Store().ListOperations(r.Context())
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, operations)
	case http.MethodPost:
		if _, ok := a.guard(w, r, adminOnly()); !ok {
			return
		}
		req, ok := decodeNamed(w, r)
		if !ok {
			return
		}
		op := &auth.Operation{Name: req.Name, Description: req.Description}
		if err := a.svc.Store().CreateOperation(r.Context(), op); err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, op)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleAssignUserRole(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := a.guard(w, r, adminOnly()); !ok {
		return
	}
	var req assignUserRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.RoleID) == "" {
		writeError(w, r, http.StatusBadRequest, "user_id and role_id are required")
		return
	}
	if err := a.svc.Store().AssignRole(r.Context(), req.UserID, req.RoleID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, auth.UserRole{UserID: req.UserID, RoleID: req.RoleID})
}

func (a *API) handleAssignPermission(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := a.guard(w, r, adminOnly()); !ok {
		return
	}
	var req assignPermissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RoleID) == "" ||
		strings.TrimSpace(req.ResourceID) == "" ||
		strings.TrimSpace(req.OperationID) == "" {
		writeError(w, r, http.StatusBadRequest, "role_id, resource_id and operation_id are required")
		return
	}
	grant := &auth.RolePermission{
		RoleID:      req.RoleID,
		ResourceID:  req.ResourceID,
		OperationID: req.OperationID,
	}
	if err := a.svc.Store().GrantPermission(r.Context(), grant); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, grant)
}

// handleRoleScoped serves /rbac/roles/{id}/permissions.
func (a *API) handleRoleScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/rbac/roles/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "permissions" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	grants, err := a.svc.Store().PermissionsForRole(r.Context(), parts[0])
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grants)
}

// handlePermissionResource serves DELETE /rbac/permissions/{id}.
func (a *API) handlePermissionResource(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/rbac/permissions/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if _, ok := a.guard(w, r, adminOnly()); !ok {
		return
	}
	if err := a.svc.Store().RemovePermission(r.Context(), id); err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeNamed(w http.ResponseWriter, r *http.Request) (createNamedRequest, bool) {
	var req createNamedRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return req, false
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, r, http.StatusBadRequest, "name is required")
		return req, false
	}
	return req, true
}
