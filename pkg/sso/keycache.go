package sso

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/tenantry/pkg/observability"
)

const (
	jwksCacheKey    = "jwks"
	maxJWKSBytes    = 1 << 20
	minRefetchDelay = 10 * time.Second
)

var supportedAlgorithms = []jose.SignatureAlgorithm{jose.RS256, jose.ES256}

type cachedKeySet struct {
	set       *jose.JSONWebKeySet
	fetchedAt time.Time
}

// KeyCache holds the platform's signing keys for a short TTL. It satisfies
// oidc.KeySet so the verifier checks signatures against it. Fetch failures
// deny authentication.
type KeyCache struct {
	url     string
	client  *http.Client
	keys    *expirable.LRU[string, cachedKeySet]
	group   singleflight.Group
	now     func() time.Time
	metrics *observability.Metrics
}

// NewKeyCache creates a cache for the JWKS document at jwksURL
func NewKeyCache(jwksURL string, ttl, timeout time.Duration, metrics *observability.Metrics) *KeyCache {
	return &KeyCache{
		url:     jwksURL,
		client:  &http.Client{Timeout: timeout},
		keys:    expirable.NewLRU[string, cachedKeySet](1, nil, ttl),
		now:     time.Now,
		metrics: metrics,
	}
}

// KeySet returns the cached key set, fetching it when absent or expired.
// Concurrent misses share one request.
func (c *KeyCache) KeySet(ctx context.Context) (*jose.JSONWebKeySet, error) {
	entry, err := c.entry(ctx)
	if err != nil {
		return nil, err
	}
	return entry.set, nil
}

func (c *KeyCache) entry(ctx context.Context) (cachedKeySet, error) {
	if entry, ok := c.keys.Get(jwksCacheKey); ok {
		c.metrics.KeyFetch("hit")
		return entry, nil
	}

	v, err, _ := c.group.Do(jwksCacheKey, func() (interface{}, error) {
		set, err := c.fetch(ctx)
		if err != nil {
			c.metrics.KeyFetch("error")
			return nil, err
		}
		c.metrics.KeyFetch("success")
		entry := cachedKeySet{set: set, fetchedAt: c.now()}
		c.keys.Add(jwksCacheKey, entry)
		return entry, nil
	})
	if err != nil {
		return cachedKeySet{}, err
	}
	return v.(cachedKeySet), nil
}

func (c *KeyCache) fetch(ctx context.Context) (*jose.JSONWebKeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build JWKS request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJWKSBytes)).Decode(&set); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %w", err)
	}
	if len(set.Keys) == 0 {
		return nil, errors.New("JWKS contains no keys")
	}
	return &set, nil
}

// Invalidate drops the cached key set
func (c *KeyCache) Invalidate() {
	c.keys.Remove(jwksCacheKey)
}

// VerifySignature checks a compact JWS against the cached keys and returns
// its payload. An unknown key id triggers one refetch so rotated keys are
// picked up before the TTL runs out.
func (c *KeyCache) VerifySignature(ctx context.Context, raw string) ([]byte, error) {
	jws, err := jose.ParseSigned(raw, supportedAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("malformed token: %w", err)
	}
	if len(jws.Signatures) != 1 {
		return nil, errors.New("token must carry exactly one signature")
	}
	kid := jws.Signatures[0].Header.KeyID

	entry, err := c.entry(ctx)
	if err != nil {
		return nil, err
	}
	keys := candidates(entry.set, kid)
	if len(keys) == 0 && kid != "" && c.now().Sub(entry.fetchedAt) >= minRefetchDelay {
		c.Invalidate()
		if entry, err = c.entry(ctx); err != nil {
			return nil, err
		}
		keys = candidates(entry.set, kid)
	}

	for _, key := range keys {
		if payload, err := jws.Verify(key.Key); err == nil {
			return payload, nil
		}
	}
	return nil, errors.New("no signing key matched the token")
}

func candidates(set *jose.JSONWebKeySet, kid string) []jose.JSONWebKey {
	if kid != "" {
		return set.Key(kid)
	}
	keys := make([]jose.JSONWebKey, 0, len(set.Keys))
	for _, key := range set.Keys {
		if key.Use == "" || key.Use == "sig" {
			keys = append(keys, key)
		}
	}
	return keys
}
