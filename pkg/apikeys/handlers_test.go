package apikeys

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func orgAdmin(perms auth.Actions) *auth.Principal {
	return &auth.Principal{
		Method:       auth.MethodBearer,
		User:         &auth.User{ID: 8},
		Organization: &auth.Organization{ID: 3},
		Role:         &auth.RoleRef{ID: 2, Slug: "org_admin", Level: auth.LevelOrgAdmin},
		Permissions:  auth.PermissionSet{auth.MenuAPIKeys: perms},
	}
}

func TestHandlers_Create(t *testing.T) {
	svc, mock, _ := newTestService(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO api_keys")).WillReturnResult(sqlmock.NewResult(0, 1))

	router := newTestRouter(svc, orgAdmin(auth.Actions{Create: true}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/orgs/3/api-keys", strings.NewReader(`{"name":"deploy"}`)))

	require.Equal(t, http.StatusCreated, rec.Code)
	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Key           string `json:"key"`
			DisplayPrefix string `json:"display_prefix"`
			KeyHash       string `json:"key_hash"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.True(t, strings.HasPrefix(body.Data.Key, "tnt_"))
	assert.Equal(t, body.Data.Key[:12]+"...", body.Data.DisplayPrefix)
	assert.Empty(t, body.Data.KeyHash)
	assert.NotContains(t, rec.Body.String(), "$2a$")
}

func TestHandlers_Forbidden(t *testing.T) {
	svc, mock, _ := newTestService(t)

	t.Run("missing permission", func(t *testing.T) {
		router := newTestRouter(svc, orgAdmin(auth.Actions{Read: true}))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/orgs/3/api-keys", strings.NewReader(`{"name":"x"}`)))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("other organization", func(t *testing.T) {
		router := newTestRouter(svc, orgAdmin(auth.Actions{Read: true}))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orgs/4/api-keys", nil))
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Body.String(), `"code":"FORBIDDEN"`)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandlers_RevokeNotFound(t *testing.T) {
	svc, mock, _ := newTestService(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE api_keys SET is_active = false")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	router := newTestRouter(svc, orgAdmin(auth.Actions{Delete: true}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/orgs/3/api-keys/01NOPE", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"NOT_FOUND"`)
}
