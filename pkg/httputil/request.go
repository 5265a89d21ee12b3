package httputil

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantry/pkg/auth"
)

// MaxBodyBytes caps JSON request bodies
const MaxBodyBytes = 1 << 20

// ParseJSON decodes JSON from the request body into the destination.
// Unknown fields are rejected.
func ParseJSON(r *http.Request, dest interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// ParseJSONOrError decodes JSON and writes a VALIDATION_ERROR envelope on failure
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteValidationError(w, err.Error())
		return false
	}
	return true
}

// ParsePathInt64 extracts and parses an int64 path parameter
func ParsePathInt64(r *http.Request, key string) (int64, error) {
	str := mux.Vars(r)[key]
	if str == "" {
		return 0, fmt.Errorf("missing path parameter: %s", key)
	}
	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil || val <= 0 {
		return 0, fmt.Errorf("invalid id for %s: %s", key, str)
	}
	return val, nil
}

// ParsePathInt64OrError extracts an int64 path parameter and writes an envelope on failure
func ParsePathInt64OrError(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	val, err := ParsePathInt64(r, key)
	if err != nil {
		WriteValidationError(w, err.Error())
		return 0, false
	}
	return val, true
}

// ParsePathStringOrError extracts a string path parameter and writes an envelope on failure
func ParsePathStringOrError(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	val := mux.Vars(r)[key]
	if val == "" {
		WriteValidationError(w, fmt.Sprintf("missing path parameter: %s", key))
		return "", false
	}
	return val, true
}

// RequireQueryOrError reads a mandatory query parameter
func RequireQueryOrError(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	val := strings.TrimSpace(r.URL.Query().Get(key))
	if val == "" {
		WriteValidationError(w, fmt.Sprintf("%s is required", key))
		return "", false
	}
	return val, true
}

// PrincipalOrError returns the authenticated principal or writes a 401 envelope
func PrincipalOrError(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	p := auth.FromContext(r.Context())
	if p == nil {
		WriteUnauthorized(w, "authentication required")
		return nil, false
	}
	return p, true
}

// ClientIP returns the caller address, preferring the first X-Forwarded-For hop
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ClientMetadata captures the user agent and address for session rows
func ClientMetadata(r *http.Request) auth.ClientMetadata {
	return auth.ClientMetadata{
		UserAgent: r.UserAgent(),
		IPAddress: ClientIP(r),
	}
}

// OrgScopeOrError resolves the {key} organization path parameter and checks
// that the authenticated principal may act inside it.
func OrgScopeOrError(w http.ResponseWriter, r *http.Request, key string) (*auth.Principal, int64, bool) {
	p, ok := PrincipalOrError(w, r)
	if !ok {
		return nil, 0, false
	}
	orgID, ok := ParsePathInt64OrError(w, r, key)
	if !ok {
		return nil, 0, false
	}
	if !p.CanActOn(orgID) {
		WriteForbidden(w, "organization access denied")
		return nil, 0, false
	}
	return p, orgID, true
}

// RequirePermission writes a 403 envelope unless the principal may perform action on menu.
// Platform admins pass every check.
func RequirePermission(w http.ResponseWriter, p *auth.Principal, menu string, action auth.Action) bool {
	if p.IsPlatformAdmin() || p.Can(menu, action) {
		return true
	}
	WriteForbidden(w, "insufficient permissions")
	return false
}

// RequirePlatformAdmin writes a 403 envelope unless the principal holds
// cross-tenant authority.
func RequirePlatformAdmin(w http.ResponseWriter, p *auth.Principal) bool {
	if p.IsPlatformAdmin() {
		return true
	}
	WriteForbidden(w, "platform administrator required")
	return false
}
