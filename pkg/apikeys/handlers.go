package apikeys

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantry/pkg/auth"
	"github.com/platinummonkey/tenantry/pkg/httputil"
)

// Handlers serves the API key endpoints
type Handlers struct {
	service *Service
	audit   *auth.AuditLogger
}

// NewHandlers creates API key handlers
func NewHandlers(service *Service, audit *auth.AuditLogger) *Handlers {
	return &Handlers{service: service, audit: audit}
}

// RegisterRoutes registers the routes on an authenticated router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/orgs/{orgId}/api-keys", h.list).Methods(http.MethodGet)
	router.HandleFunc("/orgs/{orgId}/api-keys", h.create).Methods(http.MethodPost)
	router.HandleFunc("/orgs/{orgId}/api-keys/{keyId}", h.revoke).Methods(http.MethodDelete)
}

func (h *Handlers) list(w http.ResponseWriter, r *http.Request) {
	p, orgID, ok := httputil.OrgScopeOrError(w, r, "orgId")
	if !ok || !httputil.RequirePermission(w, p, auth.MenuAPIKeys, auth.ActionRead) {
		return
	}

	keys, err := h.service.List(r.Context(), orgID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, keys)
}

func (h *Handlers) create(w http.ResponseWriter, r *http.Request) {
	p, orgID, ok := httputil.OrgScopeOrError(w, r, "orgId")
	if !ok || !httputil.RequirePermission(w, p, auth.MenuAPIKeys, auth.ActionCreate) {
		return
	}

	var req CreateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	created, err := h.service.Create(r.Context(), orgID, p.UserID(), req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.audit.Log(r.Context(), auth.AuditEvent{
		Action:         auth.ActionAPIKeyCreate,
		Status:         auth.StatusSuccess,
		UserID:         p.UserID(),
		OrganizationID: orgID,
		ResourceType:   "api_key",
		ResourceID:     created.ID,
		IPAddress:      httputil.ClientIP(r),
	})
	httputil.WriteCreated(w, created)
}

func (h *Handlers) revoke(w http.ResponseWriter, r *http.Request) {
	p, orgID, ok := httputil.OrgScopeOrError(w, r, "orgId")
	if !ok || !httputil.RequirePermission(w, p, auth.MenuAPIKeys, auth.ActionDelete) {
		return
	}
	keyID, ok := httputil.ParsePathStringOrError(w, r, "keyId")
	if !ok {
		return
	}

	if err := h.service.Revoke(r.Context(), orgID, keyID); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.audit.Log(r.Context(), auth.AuditEvent{
		Action:         auth.ActionAPIKeyRevoke,
		Status:         auth.StatusSuccess,
		UserID:         p.UserID(),
		OrganizationID: orgID,
		ResourceType:   "api_key",
		ResourceID:     keyID,
		IPAddress:      httputil.ClientIP(r),
	})
	httputil.WriteSuccess(w, map[string]interface{}{"revoked": true, "id": keyID})
}
