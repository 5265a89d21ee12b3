package sso

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/platinummonkey/tenantry/pkg/apperrors"
	"github.com/platinummonkey/tenantry/pkg/auth"
	"github.com/platinummonkey/tenantry/pkg/observability"
	"github.com/platinummonkey/tenantry/pkg/tokens"
)

// DefaultExchangeCodeTTL is how long an exchange code stays redeemable
const DefaultExchangeCodeTTL = 60 * time.Second

var errInvalidPlatformToken = apperrors.Unauthenticated("invalid or expired token")

// IdentityVerifier turns a platform token into a verified identity
type IdentityVerifier interface {
	Verify(ctx context.Context, raw string) (*Identity, error)
}

// IdentityProvisioner maps an identity onto local records
type IdentityProvisioner interface {
	Provision(ctx context.Context, id *Identity) (*auth.User, *auth.Organization, error)
}

// PairIssuer mints the same token pair a password login gets
type PairIssuer interface {
	IssuePair(ctx context.Context, userID int64, email string, md auth.ClientMetadata) (*tokens.Pair, error)
}

// Bridge establishes local sessions for users signed in to the platform.
// Tokens never travel in a redirect URL; the browser receives an exchange
// code and trades it for the pair in a separate call.
type Bridge struct {
	verifier    IdentityVerifier
	provisioner IdentityProvisioner
	issuer      PairIssuer
	store       ExchangeStore
	callbackURL string
	codeTTL     time.Duration
	now         func() time.Time
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// BridgeOption configures a Bridge
type BridgeOption func(*Bridge)

// WithCodeTTL sets the exchange code lifetime
func WithCodeTTL(ttl time.Duration) BridgeOption {
	return func(b *Bridge) { b.codeTTL = ttl }
}

// WithBridgeLogger sets the logger
func WithBridgeLogger(l *observability.Logger) BridgeOption {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithBridgeMetrics sets the metrics sink
func WithBridgeMetrics(m *observability.Metrics) BridgeOption {
	return func(b *Bridge) { b.metrics = m }
}

// WithBridgeClock overrides the time source
func WithBridgeClock(now func() time.Time) BridgeOption {
	return func(b *Bridge) { b.now = now }
}

// NewBridge creates an SSO bridge redirecting to callbackURL
func NewBridge(verifier IdentityVerifier, provisioner IdentityProvisioner, issuer PairIssuer, store ExchangeStore, callbackURL string, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		verifier:    verifier,
		provisioner: provisioner,
		issuer:      issuer,
		store:       store,
		callbackURL: callbackURL,
		codeTTL:     DefaultExchangeCodeTTL,
		now:         time.Now,
		logger:      observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Authenticate verifies a platform token, provisions local records, issues a
// token pair and parks it behind a fresh exchange code.
func (b *Bridge) Authenticate(ctx context.Context, raw string, md auth.ClientMetadata) (string, error) {
	if raw == "" {
		b.metrics.AuthAttempt("sso", "failure")
		return "", errInvalidPlatformToken
	}

	identity, err := b.verifier.Verify(ctx, raw)
	if err != nil {
		b.metrics.AuthAttempt("sso", "failure")
		b.logger.WithError(err).Warn("platform token rejected")
		return "", errInvalidPlatformToken
	}

	user, org, err := b.provisioner.Provision(ctx, identity)
	if err != nil {
		b.metrics.AuthAttempt("sso", "failure")
		return "", err
	}

	pair, err := b.issuer.IssuePair(ctx, user.ID, user.Email, md)
	if err != nil {
		return "", err
	}

	code, err := tokens.NewOpaqueToken()
	if err != nil {
		return "", err
	}
	if err := b.store.Put(ctx, code, pair, b.now().Add(b.codeTTL)); err != nil {
		return "", err
	}

	b.metrics.AuthAttempt("sso", "success")
	b.logger.WithFields(map[string]interface{}{
		"user_id":         user.ExternalID,
		"organization_id": org.ID,
	}).Info("platform sign-in")
	return code, nil
}

// Exchange redeems a code for its token pair. A code works once.
func (b *Bridge) Exchange(ctx context.Context, code string) (*tokens.Pair, error) {
	if code == "" {
		b.metrics.ExchangeRedemption("invalid")
		return nil, errInvalidCode
	}
	pair, err := b.store.Take(ctx, code)
	if err != nil {
		b.metrics.ExchangeRedemption("invalid")
		return nil, err
	}
	b.metrics.ExchangeRedemption("success")
	return pair, nil
}

// CallbackURL returns where the browser is sent with code
func (b *Bridge) CallbackURL(code string) string {
	sep := "?"
	if strings.Contains(b.callbackURL, "?") {
		sep = "&"
	}
	return b.callbackURL + sep + "code=" + url.QueryEscape(code)
}

// Sweep drops expired exchange codes. It is run on a schedule.
func (b *Bridge) Sweep(ctx context.Context) {
	defer observability.RecoverPanic(b.logger, "sso exchange sweep")

	removed, err := b.store.Sweep(ctx)
	if err != nil {
		b.logger.WithError(err).Warn("exchange code sweep failed")
		return
	}
	if removed > 0 {
		b.logger.WithField("removed", removed).Debug("swept expired exchange codes")
	}
}
