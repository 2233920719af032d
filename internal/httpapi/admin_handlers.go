package httpapi

import (
	"net/http"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/config"
)

type assignRoleRequest struct {
	Role string `json:"role"`
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := currentUser(w, r); !ok {
		return
	}
	roles, err := a.admin.Roles(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, roles, "")
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := currentUser(w, r); !ok {
		return
	}
	writeData(w, http.StatusOK, auth.BuiltinPermissions, "")
}

func (a *API) handleUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	viewer, ok := currentUser(w, r)
	if !ok {
		return
	}
	u, err := a.admin.User(r.Context(), viewer, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, u, "")
}

func (a *API) handleUserRole(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	assigner, ok := a.requirePolicy(w, r, config.PolicyAssignRole, "role-assignment")
	if !ok {
		return
	}
	var req assignRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	u, err := a.admin.AssignRole(r.Context(), assigner, r.PathValue("id"), req.Role)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, u, "role assigned")
}
