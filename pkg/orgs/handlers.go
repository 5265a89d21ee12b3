package orgs

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantry/pkg/apperrors"
	"github.com/platinummonkey/tenantry/pkg/auth"
	"github.com/platinummonkey/tenantry/pkg/httputil"
)

// Handlers serves organization, member and invitation endpoints
type Handlers struct {
	service     *Service
	invitations *InvitationService
	audit       *auth.AuditLogger
}

// NewHandlers creates organization handlers
func NewHandlers(service *Service, invitations *InvitationService, audit *auth.AuditLogger) *Handlers {
	return &Handlers{service: service, invitations: invitations, audit: audit}
}

// RegisterRoutes registers the routes that need an authenticated principal
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/orgs/{orgId}", h.getOrganization).Methods(http.MethodGet)

	router.HandleFunc("/orgs/{orgId}/members", h.listMembers).Methods(http.MethodGet)
	router.HandleFunc("/orgs/{orgId}/members/{userId}", h.updateMember).Methods(http.MethodPatch)
	router.HandleFunc("/orgs/{orgId}/members/{userId}", h.removeMember).Methods(http.MethodDelete)

	router.HandleFunc("/orgs/{orgId}/invitations", h.listInvitations).Methods(http.MethodGet)
	router.HandleFunc("/orgs/{orgId}/invitations", h.createInvitation).Methods(http.MethodPost)
	router.HandleFunc("/orgs/{orgId}/invitations/{id}/cancel", h.cancelInvitation).Methods(http.MethodPost)
	router.HandleFunc("/orgs/{orgId}/invitations/{id}/resend", h.resendInvitation).Methods(http.MethodPost)
	router.HandleFunc("/invitations/accept", h.acceptInvitation).Methods(http.MethodPost)

	router.HandleFunc("/platform/organizations", h.listOrganizations).Methods(http.MethodGet)
	router.HandleFunc("/platform/organizations", h.createOrganization).Methods(http.MethodPost)
}

// RegisterPublicRoutes registers the routes reachable without credentials
func (h *Handlers) RegisterPublicRoutes(router *mux.Router) {
	router.HandleFunc("/invitations/validate", h.validateInvitation).Methods(http.MethodGet)
}

func (h *Handlers) getOrganization(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := httputil.OrgScopeOrError(w, r, "orgId")
	if !ok {
		return
	}

	org, err := h.service.Organization(r.Context(), orgID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, org)
}

func (h *Handlers) listMembers(w http.ResponseWriter, r *http.Request) {
	p, orgID, ok := httputil.OrgScopeOrError(w, r, "orgId")
	if !ok || !httputil.RequirePermission(w, p, auth.MenuMembers, auth.ActionRead) {
		return
	}

	members, err := h.service.ListMembers(r.Context(), orgID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, members)
}

func (h *Handlers) updateMember(w http.ResponseWriter, r *http.Request) {
	p, orgID, ok := httputil.OrgScopeOrError(w, r, "orgId")
	if !ok || !httputil.RequirePermission(w, p, auth.MenuMembers, auth.ActionUpdate) {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userId")
	if !ok {
		return
	}

	var req UpdateMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	event := h.event(r, p, auth.ActionMemberUpdate, orgID, "membership", userID)
	membership, err := h.service.UpdateMemberRole(r.Context(), p, orgID, userID, req)
	if err != nil {
		h.logDenied(r, event, err)
		httputil.WriteAppError(w, r, err)
		return
	}

	h.audit.Log(r.Context(), event)
	httputil.WriteSuccess(w, membership)
}

func (h *Handlers) removeMember(w http.ResponseWriter, r *http.Request) {
	p, orgID, ok := httputil.OrgScopeOrError(w, r, "orgId")
	if !ok || !httputil.RequirePermission(w, p, auth.MenuMembers, auth.ActionDelete) {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userId")
	if !ok {
		return
	}

	event := h.event(r, p, auth.ActionMemberRemove, orgID, "membership", userID)
	if err := h.service.RemoveMember(r.Context(), p, orgID, userID); err != nil {
		h.logDenied(r, event, err)
		httputil.WriteAppError(w, r, err)
		return
	}

	h.audit.Log(r.Context(), event)
	httputil.WriteSuccess(w, map[string]bool{"removed": true})
}

func (h *Handlers) listInvitations(w http.ResponseWriter, r *http.Request) {
	p, orgID, ok := httputil.OrgScopeOrError(w, r, "orgId")
	if !ok || !httputil.RequirePermission(w, p, auth.MenuInvitations, auth.ActionRead) {
		return
	}

	invitations, err := h.invitations.List(r.Context(), orgID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, invitations)
}

func (h *Handlers) createInvitation(w http.ResponseWriter, r *http.Request) {
	p, orgID, ok := httputil.OrgScopeOrError(w, r, "orgId")
	if !ok || !httputil.RequirePermission(w, p, auth.MenuInvitations, auth.ActionCreate) {
		return
	}

	var req CreateInvitationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	event := h.event(r, p, auth.ActionInviteCreate, orgID, "invitation", 0)
	issued, err := h.invitations.Create(r.Context(), p, orgID, req)
	if err != nil {
		h.logDenied(r, event, err)
		httputil.WriteAppError(w, r, err)
		return
	}

	event.ResourceID = issued.ExternalID
	h.audit.Log(r.Context(), event)
	httputil.WriteCreated(w, issued)
}

func (h *Handlers) cancelInvitation(w http.ResponseWriter, r *http.Request) {
	p, orgID, ok := httputil.OrgScopeOrError(w, r, "orgId")
	if !ok || !httputil.RequirePermission(w, p, auth.MenuInvitations, auth.ActionDelete) {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.invitations.Cancel(r.Context(), orgID, id); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.audit.Log(r.Context(), h.event(r, p, auth.ActionInviteCancel, orgID, "invitation", id))
	httputil.WriteSuccess(w, map[string]interface{}{"id": id, "status": StatusCancelled})
}

func (h *Handlers) resendInvitation(w http.ResponseWriter, r *http.Request) {
	p, orgID, ok := httputil.OrgScopeOrError(w, r, "orgId")
	if !ok || !httputil.RequirePermission(w, p, auth.MenuInvitations, auth.ActionUpdate) {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	issued, err := h.invitations.Resend(r.Context(), orgID, id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.audit.Log(r.Context(), h.event(r, p, auth.ActionInviteResend, orgID, "invitation", id))
	httputil.WriteSuccess(w, issued)
}

func (h *Handlers) validateInvitation(w http.ResponseWriter, r *http.Request) {
	token, ok := httputil.RequireQueryOrError(w, r, "token")
	if !ok {
		return
	}

	details, err := h.invitations.Validate(r.Context(), token)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, details)
}

func (h *Handlers) acceptInvitation(w http.ResponseWriter, r *http.Request) {
	p, ok := httputil.PrincipalOrError(w, r)
	if !ok {
		return
	}
	if p.Method != auth.MethodBearer || p.User == nil {
		httputil.WriteForbidden(w, "invitations must be accepted by a signed-in user")
		return
	}
	token, ok := httputil.RequireQueryOrError(w, r, "token")
	if !ok {
		return
	}

	event := auth.AuditEvent{
		Action:       auth.ActionInviteAccept,
		Status:       auth.StatusSuccess,
		UserID:       p.UserID(),
		ResourceType: "invitation",
		IPAddress:    httputil.ClientIP(r),
	}
	membership, err := h.invitations.Accept(r.Context(), token, p.User)
	if err != nil {
		event.Status = auth.StatusFailure
		event.Reason = err.Error()
		h.audit.Log(r.Context(), event)
		httputil.WriteAppError(w, r, err)
		return
	}

	event.OrganizationID = membership.OrganizationID
	h.audit.Log(r.Context(), event)
	httputil.WriteSuccess(w, membership)
}

func (h *Handlers) listOrganizations(w http.ResponseWriter, r *http.Request) {
	p, ok := httputil.PrincipalOrError(w, r)
	if !ok || !httputil.RequirePlatformAdmin(w, p) {
		return
	}

	orgs, err := h.service.ListOrganizations(r.Context())
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, orgs)
}

func (h *Handlers) createOrganization(w http.ResponseWriter, r *http.Request) {
	p, ok := httputil.PrincipalOrError(w, r)
	if !ok || !httputil.RequirePlatformAdmin(w, p) {
		return
	}

	var req CreateOrgRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	org, err := h.service.CreateOrganization(r.Context(), req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.audit.Log(r.Context(), h.event(r, p, auth.ActionOrgCreate, org.ID, "organization", org.ID))
	httputil.WriteCreated(w, org)
}

func (h *Handlers) event(r *http.Request, p *auth.Principal, action string, orgID int64, resource string, id int64) auth.AuditEvent {
	event := auth.AuditEvent{
		Action:         action,
		Status:         auth.StatusSuccess,
		UserID:         p.UserID(),
		OrganizationID: orgID,
		ResourceType:   resource,
		IPAddress:      httputil.ClientIP(r),
	}
	if id != 0 {
		event.ResourceID = strconv.FormatInt(id, 10)
	}
	return event
}

func (h *Handlers) logDenied(r *http.Request, event auth.AuditEvent, err error) {
	if !apperrors.IsKind(err, apperrors.KindForbidden) {
		return
	}
	event.Status = auth.StatusDenied
	event.Reason = err.Error()
	h.audit.Log(r.Context(), event)
}
