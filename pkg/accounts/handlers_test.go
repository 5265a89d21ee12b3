package accounts

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

func newTestRouter(s *testService, p *auth.Principal) *mux.Router {
	router := mux.NewRouter()
	api := router.PathPrefix("/api").Subrouter()
	h := NewHandlers(s.Service, nil)
	h.RegisterPublicRoutes(api)

	authed := api.NewRoute().Subrouter()
	authed.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if p != nil {
				r = r.WithContext(auth.WithPrincipal(r.Context(), p))
			}
			next.ServeHTTP(w, r)
		})
	})
	h.RegisterRoutes(authed)
	return router
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestHandlers_Login(t *testing.T) {
	s := newTestService(t)
	router := newTestRouter(s, nil)

	s.mock.ExpectQuery(regexp.QuoteMeta(qUserByEmail)).WillReturnRows(userRow(t, 7, true))
	s.mock.ExpectExec(regexp.QuoteMeta(qTouchLogin)).WillReturnResult(sqlmock.NewResult(0, 1))

	rec := do(router, http.MethodPost, "/api/auth/login", `{"email":"ada@example.com","password":"`+goodPassword+`"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)
	assert.Contains(t, rec.Body.String(), `"refreshToken":"refresh-1"`)

	s.mock.ExpectQuery(regexp.QuoteMeta(qUserByEmail)).WillReturnRows(sqlmock.NewRows(userCols))
	rec = do(router, http.MethodPost, "/api/auth/login", `{"email":"ghost@example.com","password":"whatever1"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid credentials")

	rec = do(router, http.MethodPost, "/api/auth/login", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlers_Register(t *testing.T) {
	s := newTestService(t)
	router := newTestRouter(s, nil)

	s.mock.ExpectQuery(regexp.QuoteMeta(qInsertUser)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(7, testNow, testNow))

	rec := do(router, http.MethodPost, "/api/auth/register", `{"email":"ada@example.com","password":"`+goodPassword+`"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestHandlers_PasswordResetDoesNotEnumerate(t *testing.T) {
	s := newTestService(t)
	router := newTestRouter(s, nil)

	s.mock.ExpectQuery(regexp.QuoteMeta(qUserByEmail)).WillReturnRows(sqlmock.NewRows(userCols))
	unknown := do(router, http.MethodPost, "/api/auth/password-reset", `{"email":"ghost@example.com"}`)

	s.mock.ExpectQuery(regexp.QuoteMeta(qUserByEmail)).WillReturnRows(userRow(t, 7, true))
	known := do(router, http.MethodPost, "/api/auth/password-reset", `{"email":"ada@example.com"}`)

	assert.Equal(t, http.StatusOK, unknown.Code)
	assert.Equal(t, unknown.Code, known.Code)
	assert.Equal(t, unknown.Body.String(), known.Body.String())
}

func TestHandlers_VerifyEmailRequiresToken(t *testing.T) {
	s := newTestService(t)
	rec := do(newTestRouter(s, nil), http.MethodPost, "/api/auth/verify-email", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlers_AuthenticatedRoutes(t *testing.T) {
	t.Run("unauthenticated", func(t *testing.T) {
		s := newTestService(t)
		rec := do(newTestRouter(s, nil), http.MethodPost, "/api/auth/logout-all", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("logout everywhere", func(t *testing.T) {
		s := newTestService(t)
		p := &auth.Principal{Method: auth.MethodBearer, User: &auth.User{ID: 7}}
		rec := do(newTestRouter(s, p), http.MethodPost, "/api/auth/logout-all", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"revokedSessions":2`)
		assert.Equal(t, []int64{7}, s.tokens.revokedAll)
	})

	t.Run("api keys cannot change passwords", func(t *testing.T) {
		s := newTestService(t)
		p := &auth.Principal{Method: auth.MethodAPIKey, User: &auth.User{ID: 7}, APIKeyID: "k"}
		rec := do(newTestRouter(s, p), http.MethodPost, "/api/auth/password",
			`{"currentPassword":"`+goodPassword+`","newPassword":"new password 1"}`)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}
