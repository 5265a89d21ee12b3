package flags

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantry/pkg/apperrors"
	"github.com/platinummonkey/tenantry/pkg/auth"
	"github.com/platinummonkey/tenantry/pkg/httputil"
)

// Handlers serves the feature flag endpoints
type Handlers struct {
	service *Service
	audit   *auth.AuditLogger
}

// NewHandlers creates flag handlers
func NewHandlers(service *Service, audit *auth.AuditLogger) *Handlers {
	return &Handlers{service: service, audit: audit}
}

// RegisterRoutes registers the routes on an authenticated router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/orgs/{orgId}/flags", h.listOrgFlags).Methods(http.MethodGet)
	router.HandleFunc("/orgs/{orgId}/flags/{flagId}", h.updateOrgFlag).Methods(http.MethodPatch)

	router.HandleFunc("/platform/flags", h.listFlags).Methods(http.MethodGet)
	router.HandleFunc("/platform/flags", h.createFlag).Methods(http.MethodPost)
}

func (h *Handlers) listOrgFlags(w http.ResponseWriter, r *http.Request) {
	p, orgID, ok := httputil.OrgScopeOrError(w, r, "orgId")
	if !ok || !httputil.RequirePermission(w, p, auth.MenuFeatureFlags, auth.ActionRead) {
		return
	}

	flags, err := h.service.EffectiveOrgFlags(r.Context(), orgID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, flags)
}

func (h *Handlers) updateOrgFlag(w http.ResponseWriter, r *http.Request) {
	p, orgID, ok := httputil.OrgScopeOrError(w, r, "orgId")
	if !ok || !httputil.RequirePermission(w, p, auth.MenuFeatureFlags, auth.ActionUpdate) {
		return
	}
	flagID, ok := httputil.ParsePathInt64OrError(w, r, "flagId")
	if !ok {
		return
	}

	var input UpdateInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	event := auth.AuditEvent{
		Action:         auth.ActionFlagUpdate,
		Status:         auth.StatusSuccess,
		UserID:         p.UserID(),
		OrganizationID: orgID,
		ResourceType:   "feature_flag",
		ResourceID:     strconv.FormatInt(flagID, 10),
		IPAddress:      httputil.ClientIP(r),
	}

	flag, err := h.service.UpdateOrgFlag(r.Context(), orgID, flagID, input, p.IsPlatformAdmin())
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindForbidden) {
			event.Status = auth.StatusDenied
			event.Reason = err.Error()
			h.audit.Log(r.Context(), event)
		}
		httputil.WriteAppError(w, r, err)
		return
	}

	h.audit.Log(r.Context(), event)
	httputil.WriteSuccess(w, flag)
}

func (h *Handlers) listFlags(w http.ResponseWriter, r *http.Request) {
	p, ok := httputil.PrincipalOrError(w, r)
	if !ok || !httputil.RequirePlatformAdmin(w, p) {
		return
	}

	flags, err := h.service.ListFlags(r.Context())
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, flags)
}

func (h *Handlers) createFlag(w http.ResponseWriter, r *http.Request) {
	p, ok := httputil.PrincipalOrError(w, r)
	if !ok || !httputil.RequirePlatformAdmin(w, p) {
		return
	}

	var input Flag
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	flag, err := h.service.CreateFlag(r.Context(), input)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteCreated(w, flag)
}
