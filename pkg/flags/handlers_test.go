package flags

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

func newTestRouter(svc *Service, p *auth.Principal) *mux.Router {
	router := mux.NewRouter()
	api := router.PathPrefix("/api").Subrouter()
	api.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
		})
	})
	NewHandlers(svc, nil).RegisterRoutes(api)
	return router
}

func member(level auth.Level, perms auth.Actions) *auth.Principal {
	return &auth.Principal{
		Method:       auth.MethodBearer,
		User:         &auth.User{ID: 7},
		Organization: &auth.Organization{ID: 3},
		Role:         &auth.RoleRef{ID: 2, Level: level},
		Permissions:  auth.PermissionSet{auth.MenuFeatureFlags: perms},
	}
}

func TestHandlers_UpdateOrgFlag(t *testing.T) {
	t.Run("org admin above the ceiling is forbidden", func(t *testing.T) {
		svc, mock := newTestService(t)
		expectLockedRow(mock, true, false, false)
		mock.ExpectRollback()

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPatch, "/api/orgs/3/flags/1", strings.NewReader(`{"org_enabled":true}`))
		newTestRouter(svc, member(auth.LevelOrgAdmin, auth.Actions{Update: true})).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Body.String(), `"code":"FORBIDDEN"`)
	})

	t.Run("platform admin sets both layers", func(t *testing.T) {
		svc, mock := newTestService(t)
		expectLockedRow(mock, true, false, false)
		mock.ExpectExec(regexp.QuoteMeta(qUpdate)).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPatch, "/api/orgs/3/flags/1",
			strings.NewReader(`{"platform_enabled":true,"org_enabled":true}`))
		newTestRouter(svc, member(auth.LevelPlatformAdmin, auth.Actions{})).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"effective":true`)
	})

	t.Run("needs update permission", func(t *testing.T) {
		svc, _ := newTestService(t)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPatch, "/api/orgs/3/flags/1", strings.NewReader(`{"org_enabled":false}`))
		newTestRouter(svc, member(auth.LevelMember, auth.Actions{Read: true})).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestHandlers_PlatformFlagsNeedPlatformAdmin(t *testing.T) {
	svc, _ := newTestService(t)

	rec := httptest.NewRecorder()
	newTestRouter(svc, member(auth.LevelOwner, auth.Actions{Read: true})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/platform/flags", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
