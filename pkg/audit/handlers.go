package audit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantry/pkg/auth"
	"github.com/platinummonkey/tenantry/pkg/httputil"
	"github.com/platinummonkey/tenantry/pkg/observability"
)

// Handlers serves the audit trail endpoints
type Handlers struct {
	store *Store
}

// NewHandlers creates audit handlers
func NewHandlers(store *Store) *Handlers {
	return &Handlers{store: store}
}

// RegisterRoutes registers the routes on an authenticated router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/orgs/{orgId}/audit-events", h.listOrgEvents).Methods(http.MethodGet)
	router.HandleFunc("/orgs/{orgId}/audit-events/export", h.exportOrgEvents).Methods(http.MethodGet)
	router.HandleFunc("/platform/audit-events", h.listEvents).Methods(http.MethodGet)
}

func (h *Handlers) listOrgEvents(w http.ResponseWriter, r *http.Request) {
	p, orgID, ok := httputil.OrgScopeOrError(w, r, "orgId")
	if !ok || !httputil.RequirePermission(w, p, auth.MenuSettings, auth.ActionRead) {
		return
	}

	filter, ok := parseFilter(w, r)
	if !ok {
		return
	}
	filter.OrganizationID = &orgID
	h.writeEvents(w, r, filter)
}

func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	p, ok := httputil.PrincipalOrError(w, r)
	if !ok || !httputil.RequirePlatformAdmin(w, p) {
		return
	}

	filter, ok := parseFilter(w, r)
	if !ok {
		return
	}
	if raw := r.URL.Query().Get("organization_id"); raw != "" {
		orgID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httputil.WriteValidationError(w, "invalid organization_id")
			return
		}
		filter.OrganizationID = &orgID
	}
	h.writeEvents(w, r, filter)
}

func (h *Handlers) writeEvents(w http.ResponseWriter, r *http.Request, filter Filter) {
	events, err := h.store.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	filter = filter.normalized()
	httputil.WriteSuccess(w, map[string]interface{}{
		"events": events,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func (h *Handlers) exportOrgEvents(w http.ResponseWriter, r *http.Request) {
	p, orgID, ok := httputil.OrgScopeOrError(w, r, "orgId")
	if !ok || !httputil.RequirePermission(w, p, auth.MenuSettings, auth.ActionRead) {
		return
	}

	format := ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = ExportFormatCSV
	}
	if format != ExportFormatCSV && format != ExportFormatNDJSON {
		httputil.WriteValidationError(w, "format must be csv or ndjson")
		return
	}

	filter, ok := parseFilter(w, r)
	if !ok {
		return
	}
	filter.OrganizationID = &orgID
	if r.URL.Query().Get("limit") == "" {
		filter.Limit = MaxLimit
	}

	events, err := h.store.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", "attachment; filename=audit-events."+string(format))
	w.WriteHeader(http.StatusOK)
	if err := Export(w, events, format); err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("audit export interrupted")
	}
}

// parseFilter reads the shared query parameters. It writes a 400 envelope
// and returns false when one is malformed.
func parseFilter(w http.ResponseWriter, r *http.Request) (Filter, bool) {
	q := r.URL.Query()
	filter := Filter{
		Action: q.Get("action"),
		Status: q.Get("status"),
	}

	if raw := q.Get("user_id"); raw != "" {
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httputil.WriteValidationError(w, "invalid user_id")
			return Filter{}, false
		}
		filter.UserID = &userID
	}

	for key, dest := range map[string]**time.Time{"since": &filter.Since, "until": &filter.Until} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteValidationError(w, "invalid "+key+": expected RFC3339 timestamp")
			return Filter{}, false
		}
		*dest = &t
	}

	for key, dest := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httputil.WriteValidationError(w, "invalid "+key)
			return Filter{}, false
		}
		*dest = n
	}

	return filter, true
}
