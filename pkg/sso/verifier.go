package sso

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Verifier checks platform tokens: signature, issuer, audience and expiry
type Verifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewVerifier creates a verifier that trusts keys for tokens from issuer
// addressed to audience.
func NewVerifier(issuer, audience string, keys oidc.KeySet, now func() time.Time) *Verifier {
	if now == nil {
		now = time.Now
	}
	return &Verifier{
		verifier: oidc.NewVerifier(issuer, keys, &oidc.Config{
			ClientID:             audience,
			SupportedSigningAlgs: []string{oidc.RS256, oidc.ES256},
			Now:                  now,
		}),
	}
}

// Verify returns the identity carried by a valid platform token
func (v *Verifier) Verify(ctx context.Context, raw string) (*Identity, error) {
	token, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("platform token rejected: %w", err)
	}

	var claims PlatformClaims
	if err := token.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to decode platform claims: %w", err)
	}
	return claims.identity(token.Subject)
}
