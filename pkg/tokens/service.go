package tokens

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/platinummonkey/tenantry/pkg/apperrors"
	"github.com/platinummonkey/tenantry/pkg/observability"
)

// Type is the discriminator embedded in every signed token
type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
	DefaultIssuer     = "tenantry"
)

// errInvalidToken is the single failure callers see for any bad bearer token
var errInvalidToken = apperrors.Unauthenticated("invalid or expired token")

// Claims is the payload of access and refresh tokens
type Claims struct {
	Email     string `json:"email,omitempty"`
	SessionID string `json:"sid,omitempty"`
	Type      Type   `json:"type"`
	jwt.RegisteredClaims
}

// AccessClaims is the verified content of an access token
type AccessClaims struct {
	UserID    int64
	Email     string
	ExpiresAt time.Time
}

// Pair is an access token plus a persisted refresh token
type Pair struct {
	AccessToken           string `json:"accessToken"`
	RefreshToken          string `json:"refreshToken"`
	AccessTokenTTLSeconds int64  `json:"accessTokenTTLSeconds"`
	TokenType             string `json:"tokenType"`
}

// Service issues and verifies tokens
type Service struct {
	db         *sql.DB
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	oneTimeTTL map[Purpose]time.Duration
	now        func() time.Time
	metrics    *observability.Metrics
	logger     *observability.Logger
}

// Option configures a Service
type Option func(*Service)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTTLs sets access and refresh lifetimes. Zero keeps the default.
func WithTTLs(access, refresh time.Duration) Option {
	return func(s *Service) {
		if access > 0 {
			s.accessTTL = access
		}
		if refresh > 0 {
			s.refreshTTL = refresh
		}
	}
}

// WithOneTimeTTL overrides the lifetime of one purpose of one-time token
func WithOneTimeTTL(purpose Purpose, ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.oneTimeTTL[purpose] = ttl
		}
	}
}

// WithIssuer sets the iss claim
func WithIssuer(issuer string) Option {
	return func(s *Service) {
		if issuer != "" {
			s.issuer = issuer
		}
	}
}

// WithMetrics records issued tokens
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l *observability.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a token service. An empty secret is a configuration
// error; callers treat it as fatal at startup.
func NewService(db *sql.DB, secret string, opts ...Option) (*Service, error) {
	if secret == "" {
		return nil, errors.New("tokens: signing secret is required")
	}
	s := &Service{
		db:         db,
		secret:     []byte(secret),
		issuer:     DefaultIssuer,
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		oneTimeTTL: map[Purpose]time.Duration{
			PurposeEmailVerify:   DefaultEmailVerifyTTL,
			PurposePasswordReset: DefaultPasswordResetTTL,
		},
		now:    time.Now,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AccessTTL returns the configured access token lifetime
func (s *Service) AccessTTL() time.Duration {
	return s.accessTTL
}

// IssueAccessToken signs a stateless access token for the user
func (s *Service) IssueAccessToken(userID int64, email string) (string, error) {
	now := s.now()
	claims := Claims{
		Email: email,
		Type:  TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}
	token, err := s.sign(claims)
	if err != nil {
		return "", err
	}
	s.metrics.TokenIssued(string(TypeAccess))
	return token, nil
}

// VerifyAccessToken checks signature, expiry, issuer and type=access.
// Every failure returns the same Unauthenticated error.
func (s *Service) VerifyAccessToken(token string) (*AccessClaims, error) {
	claims, err := s.parse(token, TypeAccess)
	if err != nil {
		return nil, err
	}
	return &AccessClaims{
		UserID:    claims.userID,
		Email:     claims.Email,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) sign(claims Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

type parsedClaims struct {
	*Claims
	userID int64
}

func (s *Service) parse(token string, want Type) (*parsedClaims, error) {
	claims, expired, err := s.parseClaims(token, want)
	if err != nil || expired {
		return nil, errInvalidToken
	}
	return claims, nil
}

// parseClaims checks signature, issuer and type. A token whose only fault is
// a passed expiry is returned with expired set so the caller can clean up
// the state behind it.
func (s *Service) parseClaims(token string, want Type) (*parsedClaims, bool, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
	)
	expired := errors.Is(err, jwt.ErrTokenExpired)
	if err != nil && !expired {
		return nil, false, errInvalidToken
	}
	if expired && (errors.Is(err, jwt.ErrTokenSignatureInvalid) || claims.Issuer != s.issuer) {
		return nil, false, errInvalidToken
	}
	if claims.Type != want {
		return nil, false, errInvalidToken
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return nil, false, errInvalidToken
	}
	return &parsedClaims{Claims: claims, userID: userID}, expired, nil
}
