package sso

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/tenantry/pkg/apperrors"
	"github.com/platinummonkey/tenantry/pkg/observability"
	"github.com/platinummonkey/tenantry/pkg/tokens"
)

var errInvalidCode = apperrors.Unauthenticated("invalid or expired exchange code")

// ExchangeStore holds token pairs behind single-use exchange codes. Take
// removes the entry before looking at its expiry, so a code redeems at most
// once even when two requests race.
type ExchangeStore interface {
	Put(ctx context.Context, code string, pair *tokens.Pair, expiresAt time.Time) error
	Take(ctx context.Context, code string) (*tokens.Pair, error)
	Sweep(ctx context.Context) (int, error)
}

type exchangeEntry struct {
	Pair      *tokens.Pair `json:"pair"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// MemoryExchangeStore keeps codes in process memory. Redemption must reach
// the instance that issued the code.
type MemoryExchangeStore struct {
	mu      sync.Mutex
	entries map[string]exchangeEntry
	now     func() time.Time
	metrics *observability.Metrics
}

// NewMemoryExchangeStore creates an in-process exchange store
func NewMemoryExchangeStore(metrics *observability.Metrics) *MemoryExchangeStore {
	return &MemoryExchangeStore{
		entries: make(map[string]exchangeEntry),
		now:     time.Now,
		metrics: metrics,
	}
}

// Put stores pair under code
func (s *MemoryExchangeStore) Put(_ context.Context, code string, pair *tokens.Pair, expiresAt time.Time) error {
	s.mu.Lock()
	s.entries[code] = exchangeEntry{Pair: pair, ExpiresAt: expiresAt}
	n := len(s.entries)
	s.mu.Unlock()

	s.metrics.SetExchangeCodes(n)
	return nil
}

// Take removes code and returns its pair if it had not expired
func (s *MemoryExchangeStore) Take(_ context.Context, code string) (*tokens.Pair, error) {
	s.mu.Lock()
	entry, ok := s.entries[code]
	delete(s.entries, code)
	n := len(s.entries)
	s.mu.Unlock()

	s.metrics.SetExchangeCodes(n)
	if !ok || !s.now().Before(entry.ExpiresAt) {
		return nil, errInvalidCode
	}
	return entry.Pair, nil
}

// Sweep drops expired codes and returns how many were removed
func (s *MemoryExchangeStore) Sweep(_ context.Context) (int, error) {
	now := s.now()

	s.mu.Lock()
	removed := 0
	for code, entry := range s.entries {
		if !now.Before(entry.ExpiresAt) {
			delete(s.entries, code)
			removed++
		}
	}
	n := len(s.entries)
	s.mu.Unlock()

	s.metrics.SetExchangeCodes(n)
	return removed, nil
}

// Len returns the number of held codes
func (s *MemoryExchangeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

const exchangeKeyPrefix = "tenantry:sso:exchange:"

// RedisExchangeStore shares codes across instances. Keys carry the code's
// hash and expire on their own; GETDEL makes redemption atomic.
type RedisExchangeStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisExchangeStore creates a redis-backed exchange store
func NewRedisExchangeStore(client *redis.Client) *RedisExchangeStore {
	return &RedisExchangeStore{client: client, now: time.Now}
}

func exchangeKey(code string) string {
	return exchangeKeyPrefix + tokens.HashToken(code)
}

// Put stores pair under code with a matching redis TTL
func (s *RedisExchangeStore) Put(ctx context.Context, code string, pair *tokens.Pair, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("exchange code already expired")
	}
	data, err := json.Marshal(exchangeEntry{Pair: pair, ExpiresAt: expiresAt})
	if err != nil {
		return fmt.Errorf("failed to marshal exchange entry: %w", err)
	}
	if err := s.client.Set(ctx, exchangeKey(code), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store exchange code: %w", err)
	}
	return nil
}

// Take atomically removes code and returns its pair if it had not expired
func (s *RedisExchangeStore) Take(ctx context.Context, code string) (*tokens.Pair, error) {
	data, err := s.client.GetDel(ctx, exchangeKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errInvalidCode
	}
	if err != nil {
		return nil, fmt.Errorf("failed to redeem exchange code: %w", err)
	}

	var entry exchangeEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal exchange entry: %w", err)
	}
	if !s.now().Before(entry.ExpiresAt) {
		return nil, errInvalidCode
	}
	return entry.Pair, nil
}

// Sweep is a no-op; redis expires keys itself
func (s *RedisExchangeStore) Sweep(context.Context) (int, error) {
	return 0, nil
}
