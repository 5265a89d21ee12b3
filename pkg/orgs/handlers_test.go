package orgs

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/tenantry/pkg/auth"
)

func newTestRouter(t *testing.T, p *auth.Principal) (*mux.Router, sqlmock.Sqlmock) {
	t.Helper()
	invitations, mock := newTestInvitations(t)
	h := NewHandlers(NewService(invitations.orgs, testRoles()), invitations, nil)

	router := mux.NewRouter()
	public := router.PathPrefix("/api").Subrouter()
	h.RegisterPublicRoutes(public)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
		})
	})
	h.RegisterRoutes(api)
	return router, mock
}

func withPerms(p *auth.Principal, perms auth.PermissionSet) *auth.Principal {
	p.Permissions = perms
	return p
}

func TestHandlers_CreateInvitation(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		p := withPerms(inviter(auth.LevelOrgAdmin), auth.PermissionSet{auth.MenuInvitations: {Create: true}})
		router, mock := newTestRouter(t, p)
		expectCreate(mock, nil, 11)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/orgs/3/invitations",
			strings.NewReader(`{"email":"a@x.com","role_id":4}`))
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"PENDING"`)
		assert.Contains(t, rec.Body.String(), `"token":"`)
	})

	t.Run("other organization", func(t *testing.T) {
		p := withPerms(inviter(auth.LevelOrgAdmin), auth.PermissionSet{auth.MenuInvitations: {Create: true}})
		router, _ := newTestRouter(t, p)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/orgs/4/invitations",
			strings.NewReader(`{"email":"a@x.com","role_id":4}`))
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("missing permission", func(t *testing.T) {
		p := withPerms(inviter(auth.LevelMember), auth.PermissionSet{auth.MenuInvitations: {Read: true}})
		router, _ := newTestRouter(t, p)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/orgs/3/invitations",
			strings.NewReader(`{"email":"a@x.com","role_id":4}`))
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Body.String(), `"code":"FORBIDDEN"`)
	})
}

func TestHandlers_ValidateInvitation(t *testing.T) {
	t.Run("reports the cause", func(t *testing.T) {
		router, mock := newTestRouter(t, nil)
		mock.ExpectQuery(regexp.QuoteMeta(qValidate)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "external_id", "email", "status", "expires_at", "name", "name"}).
				AddRow(5, "ext", testInviteEmail, "CANCELLED", testNow, "Acme", "Member"))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/invitations/validate?token=abc", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invitation was cancelled")
	})

	t.Run("token required", func(t *testing.T) {
		router, _ := newTestRouter(t, nil)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/invitations/validate", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), `"code":"VALIDATION_ERROR"`)
	})
}

func TestHandlers_AcceptInvitation(t *testing.T) {
	t.Run("requires a user session", func(t *testing.T) {
		p := inviter(auth.LevelMember)
		p.Method = auth.MethodAPIKey
		router, _ := newTestRouter(t, p)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/invitations/accept?token=abc", nil))

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		router, _ := newTestRouter(t, nil)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/invitations/accept?token=abc", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestHandlers_PlatformOrganizationsNeedPlatformAdmin(t *testing.T) {
	router, _ := newTestRouter(t, inviter(auth.LevelOwner))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/platform/organizations", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
