package sso

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantry/pkg/auth"
	"github.com/platinummonkey/tenantry/pkg/httputil"
)

// Handlers serves the platform SSO endpoints. Both are unauthenticated.
type Handlers struct {
	bridge *Bridge
	audit  *auth.AuditLogger
}

// NewHandlers creates SSO handlers
func NewHandlers(bridge *Bridge, audit *auth.AuditLogger) *Handlers {
	return &Handlers{bridge: bridge, audit: audit}
}

// RegisterRoutes registers the SSO routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/sso/platform", h.platformSignIn).Methods(http.MethodGet)
	router.HandleFunc("/sso/exchange", h.exchange).Methods(http.MethodPost)
}

// platformSignIn handles GET /sso/platform?token=
func (h *Handlers) platformSignIn(w http.ResponseWriter, r *http.Request) {
	token, ok := httputil.RequireQueryOrError(w, r, "token")
	if !ok {
		return
	}

	code, err := h.bridge.Authenticate(r.Context(), token, httputil.ClientMetadata(r))
	if err != nil {
		h.audit.Log(r.Context(), auth.AuditEvent{
			Action:    auth.ActionSSOLogin,
			Status:    auth.StatusFailure,
			IPAddress: httputil.ClientIP(r),
			Reason:    err.Error(),
		})
		httputil.WriteAppError(w, r, err)
		return
	}

	h.audit.Log(r.Context(), auth.AuditEvent{
		Action:    auth.ActionSSOLogin,
		Status:    auth.StatusSuccess,
		IPAddress: httputil.ClientIP(r),
	})
	http.Redirect(w, r, h.bridge.CallbackURL(code), http.StatusFound)
}

// exchange handles POST /sso/exchange
func (h *Handlers) exchange(w http.ResponseWriter, r *http.Request) {
	var req ExchangeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	pair, err := h.bridge.Exchange(r.Context(), req.Code)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, pair)
}
