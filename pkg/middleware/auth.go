package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/platinummonkey/tenantry/pkg/apikeys"
	"github.com/platinummonkey/tenantry/pkg/apperrors"
	"github.com/platinummonkey/tenantry/pkg/auth"
	"github.com/platinummonkey/tenantry/pkg/httputil"
	"github.com/platinummonkey/tenantry/pkg/observability"
	"github.com/platinummonkey/tenantry/pkg/tokens"
)

const (
	// OrganizationHeader selects the organization a bearer request acts in
	OrganizationHeader = "X-Organization-ID"
	// APIKeyHeader carries an API key as an alternative to Authorization
	APIKeyHeader = "X-API-Key"
)

var errInvalidToken = apperrors.Unauthenticated("invalid or expired token")

// AccessTokenVerifier verifies bearer access tokens
type AccessTokenVerifier interface {
	VerifyAccessToken(token string) (*tokens.AccessClaims, error)
}

// KeyValidator authenticates API keys
type KeyValidator interface {
	Validate(ctx context.Context, candidate string) (*apikeys.Validated, error)
}

// UserGetter loads the user behind a token
type UserGetter interface {
	GetUserByID(ctx context.Context, id int64) (*auth.User, error)
}

// MembershipStore resolves which organization a request acts in
type MembershipStore interface {
	GetOrganization(ctx context.Context, id int64) (*auth.Organization, error)
	GetMembership(ctx context.Context, userID, orgID int64) (*auth.Membership, error)
	OldestMembership(ctx context.Context, userID int64) (*auth.Membership, error)
}

// GrantResolver turns a role into the permissions a principal carries
type GrantResolver interface {
	Grant(ctx context.Context, roleID int64) (*auth.RoleRef, auth.PermissionSet, error)
}

// Authenticator resolves the credential on a request into an auth.Principal.
// Bearer access tokens and API keys are both accepted.
type Authenticator struct {
	tokens      AccessTokenVerifier
	keys        KeyValidator
	users       UserGetter
	memberships MembershipStore
	grants      GrantResolver
	keyPrefix   string
	metrics     *observability.Metrics
}

// AuthOption configures an Authenticator
type AuthOption func(*Authenticator)

// WithAPIKeyPrefix lets API keys arrive as Authorization: Bearer <prefix>_...
func WithAPIKeyPrefix(prefix string) AuthOption {
	return func(a *Authenticator) {
		if prefix != "" {
			a.keyPrefix = prefix + "_"
		}
	}
}

// WithAuthMetrics records authentication attempts
func WithAuthMetrics(m *observability.Metrics) AuthOption {
	return func(a *Authenticator) { a.metrics = m }
}

// NewAuthenticator creates an Authenticator
func NewAuthenticator(verifier AccessTokenVerifier, keys KeyValidator, users UserGetter, memberships MembershipStore, grants GrantResolver, opts ...AuthOption) *Authenticator {
	a := &Authenticator{
		tokens:      verifier,
		keys:        keys,
		users:       users,
		memberships: memberships,
		grants:      grants,
		keyPrefix:   "tnt_",
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler requires a valid credential and stores the principal in the request context
func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.Authenticate(r)
		if err != nil {
			if apperrors.KindOf(err) != apperrors.KindInternal {
				observability.FromContext(r.Context()).WithField("reason", err.Error()).Debug("request not authenticated")
			}
			httputil.WriteAppError(w, r, err)
			return
		}

		ctx := auth.WithPrincipal(r.Context(), p)
		logger := observability.FromContext(ctx).WithFields(map[string]interface{}{
			"user_id":         p.User.ExternalID,
			"organization_id": p.OrganizationID(),
			"auth_method":     string(p.Method),
		})
		ctx = observability.WithLogger(ctx, logger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Authenticate resolves the request's credential. API keys are tried when the
// X-API-Key header is present or the bearer value carries the key prefix.
func (a *Authenticator) Authenticate(r *http.Request) (*auth.Principal, error) {
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		return a.authenticateKey(r.Context(), key)
	}

	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return nil, apperrors.Unauthenticated("authentication required")
	}
	if a.keyPrefix != "" && strings.HasPrefix(token, a.keyPrefix) {
		return a.authenticateKey(r.Context(), token)
	}

	p, err := a.authenticateBearer(r.Context(), token, r.Header.Get(OrganizationHeader))
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindUnauthenticated {
			a.metrics.AuthAttempt(string(auth.MethodBearer), "failure")
		}
		return nil, err
	}
	a.metrics.AuthAttempt(string(auth.MethodBearer), "success")
	return p, nil
}

func (a *Authenticator) authenticateBearer(ctx context.Context, token, orgHeader string) (*auth.Principal, error) {
	claims, err := a.tokens.VerifyAccessToken(token)
	if err != nil {
		return nil, errInvalidToken
	}

	user, err := a.users.GetUserByID(ctx, claims.UserID)
	if apperrors.IsKind(err, apperrors.KindNotFound) {
		return nil, errInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, errInvalidToken
	}

	p := &auth.Principal{Method: auth.MethodBearer, User: user, Permissions: auth.PermissionSet{}}

	membership, err := a.selectMembership(ctx, user.ID, orgHeader)
	if err != nil {
		return nil, err
	}
	if membership == nil {
		return p, nil
	}
	if err := a.fill(ctx, p, membership); err != nil {
		return nil, err
	}
	return p, nil
}

// selectMembership honours X-Organization-ID and otherwise falls back to the
// oldest membership. A user without memberships gets nil.
func (a *Authenticator) selectMembership(ctx context.Context, userID int64, orgHeader string) (*auth.Membership, error) {
	orgHeader = strings.TrimSpace(orgHeader)
	if orgHeader == "" {
		m, err := a.memberships.OldestMembership(ctx, userID)
		if apperrors.IsKind(err, apperrors.KindNotFound) {
			return nil, nil
		}
		return m, err
	}

	orgID, err := strconv.ParseInt(orgHeader, 10, 64)
	if err != nil || orgID <= 0 {
		return nil, apperrors.Validation("invalid %s header", OrganizationHeader)
	}
	m, err := a.memberships.GetMembership(ctx, userID, orgID)
	if apperrors.IsKind(err, apperrors.KindNotFound) {
		return nil, apperrors.Forbidden("organization access denied")
	}
	return m, err
}

// fill attaches the membership's organization and role grant to p
func (a *Authenticator) fill(ctx context.Context, p *auth.Principal, m *auth.Membership) error {
	org, err := a.memberships.GetOrganization(ctx, m.OrganizationID)
	if apperrors.IsKind(err, apperrors.KindNotFound) {
		return apperrors.Forbidden("organization access denied")
	}
	if err != nil {
		return err
	}
	if !org.IsActive {
		return apperrors.Forbidden("organization is inactive")
	}

	role, perms, err := a.grants.Grant(ctx, m.RoleID)
	if err != nil {
		return err
	}
	p.Organization = org
	p.Role = role
	p.Permissions = perms
	return nil
}

// authenticateKey builds a principal bound to the key's organization. The
// permissions are those of the creator's current membership there; a creator
// who left the organization leaves the key with none.
func (a *Authenticator) authenticateKey(ctx context.Context, candidate string) (*auth.Principal, error) {
	v, err := a.keys.Validate(ctx, candidate)
	if err != nil {
		return nil, err
	}

	p := &auth.Principal{
		Method:       auth.MethodAPIKey,
		User:         v.Creator,
		Organization: v.Organization,
		Permissions:  auth.PermissionSet{},
		APIKeyID:     v.Key.ID,
	}

	m, err := a.memberships.GetMembership(ctx, v.Creator.ID, v.Organization.ID)
	if apperrors.IsKind(err, apperrors.KindNotFound) {
		return p, nil
	}
	if err != nil {
		return nil, err
	}
	role, perms, err := a.grants.Grant(ctx, m.RoleID)
	if err != nil {
		return nil, err
	}
	p.Role = role
	p.Permissions = perms
	return p, nil
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// RequirePlatformAdmin rejects principals without cross-tenant authority. It
// must run after Authenticator.Handler.
func RequirePlatformAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := httputil.PrincipalOrError(w, r)
		if !ok {
			return
		}
		if !httputil.RequirePlatformAdmin(w, p) {
			return
		}
		next.ServeHTTP(w, r)
	})
}
