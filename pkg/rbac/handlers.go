package rbac

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantry/pkg/apperrors"
	"github.com/platinummonkey/tenantry/pkg/auth"
	"github.com/platinummonkey/tenantry/pkg/httputil"
)

// Handlers provides HTTP handlers for RBAC operations
type Handlers struct {
	resolver *Resolver
	audit    *auth.AuditLogger
}

// NewHandlers creates new RBAC handlers
func NewHandlers(resolver *Resolver, audit *auth.AuditLogger) *Handlers {
	return &Handlers{resolver: resolver, audit: audit}
}

// RegisterRoutes registers RBAC routes on an authenticated router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/me", h.Me).Methods(http.MethodGet)

	router.HandleFunc("/rbac/menus", h.UserMenus).Methods(http.MethodGet)

	router.HandleFunc("/rbac/roles", h.ListRoles).Methods(http.MethodGet)
	router.HandleFunc("/rbac/roles", h.CreateRole).Methods(http.MethodPost)
	router.HandleFunc("/rbac/roles/{id}", h.GetRole).Methods(http.MethodGet)
	router.HandleFunc("/rbac/roles/{id}", h.UpdateRole).Methods(http.MethodPatch)
	router.HandleFunc("/rbac/roles/{id}/permissions", h.GetRolePermissions).Methods(http.MethodGet)
	router.HandleFunc("/rbac/roles/{id}/permissions", h.ReplaceRolePermissions).Methods(http.MethodPut)
}

// Me returns the authenticated principal and its menus
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := httputil.PrincipalOrError(w, r)
	if !ok {
		return
	}

	menus := []Menu{}
	if orgID := p.OrganizationID(); orgID != 0 {
		var err error
		menus, err = h.resolver.UserMenus(r.Context(), p.UserID(), orgID)
		if err != nil {
			httputil.WriteAppError(w, r, err)
			return
		}
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"principal": p,
		"menus":     menus,
	})
}

// UserMenus lists the caller's readable menus in its organization
func (h *Handlers) UserMenus(w http.ResponseWriter, r *http.Request) {
	p, ok := httputil.PrincipalOrError(w, r)
	if !ok {
		return
	}

	menus, err := h.resolver.UserMenus(r.Context(), p.UserID(), p.OrganizationID())
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, menus)
}

// ListRoles lists roles visible to the caller
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	p, ok := httputil.PrincipalOrError(w, r)
	if !ok || !httputil.RequirePermission(w, p, auth.MenuRoles, auth.ActionRead) {
		return
	}

	roles, err := h.resolver.ListRoles(r.Context(), p)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, roles)
}

// GetRole returns one role
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	p, ok := httputil.PrincipalOrError(w, r)
	if !ok || !httputil.RequirePermission(w, p, auth.MenuRoles, auth.ActionRead) {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	role, err := h.resolver.Role(r.Context(), p, id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// CreateRole creates a custom role
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	p, ok := httputil.PrincipalOrError(w, r)
	if !ok || !httputil.RequirePermission(w, p, auth.MenuRoles, auth.ActionCreate) {
		return
	}

	var input CreateRoleInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	role, err := h.resolver.CreateRole(r.Context(), p, input)
	if err != nil {
		h.logDenied(r, p, auth.ActionRoleCreate, "", err)
		httputil.WriteAppError(w, r, err)
		return
	}

	h.logSuccess(r, p, auth.ActionRoleCreate, role.ID)
	httputil.WriteCreated(w, role)
}

// UpdateRole changes a role's name, description or level
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	p, ok := httputil.PrincipalOrError(w, r)
	if !ok || !httputil.RequirePermission(w, p, auth.MenuRoles, auth.ActionUpdate) {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var input UpdateRoleInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	role, err := h.resolver.UpdateRole(r.Context(), p, id, input)
	if err != nil {
		h.logDenied(r, p, auth.ActionRoleUpdate, strconv.FormatInt(id, 10), err)
		httputil.WriteAppError(w, r, err)
		return
	}

	h.logSuccess(r, p, auth.ActionRoleUpdate, role.ID)
	httputil.WriteSuccess(w, role)
}

// GetRolePermissions returns the role's full permission matrix
func (h *Handlers) GetRolePermissions(w http.ResponseWriter, r *http.Request) {
	p, ok := httputil.PrincipalOrError(w, r)
	if !ok || !httputil.RequirePermission(w, p, auth.MenuRoles, auth.ActionRead) {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	matrix, err := h.resolver.RolePermissions(r.Context(), p, id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, matrix)
}

// ReplaceRolePermissions replaces the role's whole permission matrix
func (h *Handlers) ReplaceRolePermissions(w http.ResponseWriter, r *http.Request) {
	p, ok := httputil.PrincipalOrError(w, r)
	if !ok || !httputil.RequirePermission(w, p, auth.MenuRoles, auth.ActionUpdate) {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Permissions []PermissionInput `json:"permissions"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.resolver.ReplaceRolePermissions(r.Context(), p, id, req.Permissions); err != nil {
		h.logDenied(r, p, auth.ActionPermissionReplace, strconv.FormatInt(id, 10), err)
		httputil.WriteAppError(w, r, err)
		return
	}

	h.logSuccess(r, p, auth.ActionPermissionReplace, id)

	matrix, err := h.resolver.RolePermissions(r.Context(), p, id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, matrix)
}

func (h *Handlers) logSuccess(r *http.Request, p *auth.Principal, action string, roleID int64) {
	h.audit.Log(r.Context(), auth.AuditEvent{
		Action:         action,
		Status:         auth.StatusSuccess,
		UserID:         p.UserID(),
		OrganizationID: p.OrganizationID(),
		ResourceType:   "role",
		ResourceID:     strconv.FormatInt(roleID, 10),
		IPAddress:      httputil.ClientIP(r),
	})
}

// logDenied records authorization refusals only
func (h *Handlers) logDenied(r *http.Request, p *auth.Principal, action, roleID string, err error) {
	if !apperrors.IsKind(err, apperrors.KindForbidden) {
		return
	}
	h.audit.Log(r.Context(), auth.AuditEvent{
		Action:         action,
		Status:         auth.StatusDenied,
		UserID:         p.UserID(),
		OrganizationID: p.OrganizationID(),
		ResourceType:   "role",
		ResourceID:     roleID,
		IPAddress:      httputil.ClientIP(r),
		Reason:         err.Error(),
	})
}
