package accounts

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantry/pkg/apperrors"
	"github.com/platinummonkey/tenantry/pkg/auth"
	"github.com/platinummonkey/tenantry/pkg/httputil"
)

// Handlers serves the /auth endpoints
type Handlers struct {
	service *Service
	audit   *auth.AuditLogger
}

// NewHandlers creates account handlers
func NewHandlers(service *Service, audit *auth.AuditLogger) *Handlers {
	return &Handlers{service: service, audit: audit}
}

// RegisterPublicRoutes registers the routes reachable without credentials
func (h *Handlers) RegisterPublicRoutes(router *mux.Router) {
	router.HandleFunc("/auth/register", h.register).Methods(http.MethodPost)
	router.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)
	router.HandleFunc("/auth/refresh", h.refresh).Methods(http.MethodPost)
	router.HandleFunc("/auth/logout", h.logout).Methods(http.MethodPost)
	router.HandleFunc("/auth/verify-email", h.verifyEmail).Methods(http.MethodPost)
	router.HandleFunc("/auth/password-reset", h.requestPasswordReset).Methods(http.MethodPost)
	router.HandleFunc("/auth/password-reset/confirm", h.resetPassword).Methods(http.MethodPost)
}

// RegisterRoutes registers the routes that need an authenticated principal
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/logout-all", h.logoutAll).Methods(http.MethodPost)
	router.HandleFunc("/auth/password", h.changePassword).Methods(http.MethodPost)
}

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest carries a refresh token
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// ChangePasswordRequest is the body of POST /auth/password
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// PasswordResetRequest is the body of POST /auth/password-reset
type PasswordResetRequest struct {
	Email string `json:"email"`
}

// ConfirmPasswordResetRequest is the body of POST /auth/password-reset/confirm
type ConfirmPasswordResetRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

func (h *Handlers) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.service.Register(r.Context(), req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.audit.Log(r.Context(), auth.AuditEvent{
		Action:       auth.ActionRegister,
		Status:       auth.StatusSuccess,
		UserID:       user.ID,
		ResourceType: "user",
		ResourceID:   user.ExternalID,
		IPAddress:    httputil.ClientIP(r),
	})
	httputil.WriteCreated(w, user)
}

func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	pair, user, err := h.service.Login(r.Context(), req.Email, req.Password, httputil.ClientMetadata(r))
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindUnauthenticated {
			h.audit.Log(r.Context(), auth.AuditEvent{
				Action:    auth.ActionLoginFailure,
				Status:    auth.StatusFailure,
				IPAddress: httputil.ClientIP(r),
			})
		}
		httputil.WriteAppError(w, r, err)
		return
	}

	h.audit.Log(r.Context(), auth.AuditEvent{
		Action:    auth.ActionLoginSuccess,
		Status:    auth.StatusSuccess,
		UserID:    user.ID,
		IPAddress: httputil.ClientIP(r),
	})
	httputil.WriteSuccess(w, pair)
}

func (h *Handlers) refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		httputil.WriteValidationError(w, "refreshToken is required")
		return
	}

	pair, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, pair)
}

func (h *Handlers) logout(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.service.Logout(r.Context(), req.RefreshToken); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.audit.Log(r.Context(), auth.AuditEvent{
		Action:    auth.ActionLogout,
		Status:    auth.StatusSuccess,
		IPAddress: httputil.ClientIP(r),
	})
	httputil.WriteSuccess(w, map[string]bool{"loggedOut": true})
}

func (h *Handlers) logoutAll(w http.ResponseWriter, r *http.Request) {
	p, ok := httputil.PrincipalOrError(w, r)
	if !ok {
		return
	}

	n, err := h.service.LogoutAll(r.Context(), p.UserID())
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.audit.Log(r.Context(), auth.AuditEvent{
		Action:    auth.ActionLogout,
		Status:    auth.StatusSuccess,
		UserID:    p.UserID(),
		IPAddress: httputil.ClientIP(r),
		Reason:    "all sessions",
	})
	httputil.WriteSuccess(w, map[string]int64{"revokedSessions": n})
}

func (h *Handlers) changePassword(w http.ResponseWriter, r *http.Request) {
	p, ok := httputil.PrincipalOrError(w, r)
	if !ok {
		return
	}
	if p.Method != auth.MethodBearer {
		httputil.WriteForbidden(w, "password changes require a user session")
		return
	}

	var req ChangePasswordRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	event := auth.AuditEvent{
		Action:    auth.ActionPasswordChange,
		Status:    auth.StatusSuccess,
		UserID:    p.UserID(),
		IPAddress: httputil.ClientIP(r),
	}
	if err := h.service.ChangePassword(r.Context(), p.UserID(), req.CurrentPassword, req.NewPassword); err != nil {
		if errors.Is(err, errWrongPassword) {
			event.Status = auth.StatusFailure
			event.Reason = err.Error()
			h.audit.Log(r.Context(), event)
		}
		httputil.WriteAppError(w, r, err)
		return
	}

	h.audit.Log(r.Context(), event)
	httputil.WriteSuccess(w, map[string]bool{"changed": true})
}

func (h *Handlers) verifyEmail(w http.ResponseWriter, r *http.Request) {
	token, ok := httputil.RequireQueryOrError(w, r, "token")
	if !ok {
		return
	}

	if err := h.service.VerifyEmail(r.Context(), token); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.audit.Log(r.Context(), auth.AuditEvent{
		Action:    auth.ActionEmailVerify,
		Status:    auth.StatusSuccess,
		IPAddress: httputil.ClientIP(r),
	})
	httputil.WriteSuccess(w, map[string]bool{"verified": true})
}

func (h *Handlers) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), req.Email); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{
		"message": "if the account exists, a reset link has been sent",
	})
}

func (h *Handlers) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req ConfirmPasswordResetRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Token == "" {
		httputil.WriteValidationError(w, "token is required")
		return
	}

	user, err := h.service.ResetPassword(r.Context(), req.Token, req.NewPassword)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.audit.Log(r.Context(), auth.AuditEvent{
		Action:       auth.ActionPasswordReset,
		Status:       auth.StatusSuccess,
		UserID:       user.ID,
		ResourceType: "user",
		ResourceID:   user.ExternalID,
		IPAddress:    httputil.ClientIP(r),
	})
	httputil.WriteSuccess(w, map[string]bool{"reset": true})
}
