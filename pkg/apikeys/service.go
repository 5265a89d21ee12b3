package apikeys

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/tenantry/pkg/apperrors"
	"github.com/platinummonkey/tenantry/pkg/async"
	"github.com/platinummonkey/tenantry/pkg/auth"
	"github.com/platinummonkey/tenantry/pkg/observability"
)

const (
	DefaultPrefix = "tnt"
	maxNameLength = 100

	lastUsedTimeout = 5 * time.Second
)

// errInvalidKey is returned for every validation failure, whatever the cause
var errInvalidKey = apperrors.Unauthenticated("invalid or expired token")

// OrganizationGetter loads an organization by id
type OrganizationGetter interface {
	GetOrganization(ctx context.Context, id int64) (*auth.Organization, error)
}

// UserGetter loads a user by id
type UserGetter interface {
	GetUserByID(ctx context.Context, id int64) (*auth.User, error)
}

// Service manages API keys
type Service struct {
	store   Store
	orgs    OrganizationGetter
	users   UserGetter
	gen     *Generator
	cost    int
	now     func() time.Time
	logger  *observability.Logger
	metrics *observability.Metrics

	background *async.Group
}

// Option configures a Service
type Option func(*Service)

// WithPrefix sets the textual key prefix
func WithPrefix(prefix string) Option {
	return func(s *Service) {
		if prefix != "" {
			s.gen = NewGenerator(prefix)
		}
	}
}

// WithBcryptCost sets the hash cost; tests use bcrypt.MinCost
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger
func WithLogger(l *observability.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics records validation outcomes
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates an API key service
func NewService(store Store, orgs OrganizationGetter, users UserGetter, opts ...Option) *Service {
	s := &Service{
		store:  store,
		orgs:   orgs,
		users:  users,
		gen:    NewGenerator(DefaultPrefix),
		cost:   bcrypt.DefaultCost,
		now:    time.Now,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.background = async.NewGroup(s.logger, lastUsedTimeout)
	return s
}

// Create generates a key for the organization. The returned plaintext is not
// stored anywhere.
func (s *Service) Create(ctx context.Context, orgID, creatorID int64, req CreateRequest) (*CreatedKey, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperrors.Validation("name is required")
	}
	if len(name) > maxNameLength {
		return nil, apperrors.Validation("name must be at most %d characters", maxNameLength)
	}

	plaintext, err := s.gen.Generate()
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash api key: %w", err)
	}

	key := &APIKey{
		ID:             ulid.Make().String(),
		OrganizationID: orgID,
		Name:           name,
		KeyHash:        string(hash),
		DisplayPrefix:  DisplayPrefix(plaintext),
		CreatedBy:      creatorID,
		ExpiresAt:      req.ExpiresAt,
		IsActive:       true,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.Insert(ctx, key); err != nil {
		return nil, err
	}

	return &CreatedKey{APIKey: key, Key: plaintext}, nil
}

// Validate authenticates a presented key. Unknown, revoked, expired and
// orphaned keys all fail the same way.
func (s *Service) Validate(ctx context.Context, candidate string) (*Validated, error) {
	if !s.gen.ValidFormat(candidate) {
		s.metrics.AuthAttempt(string(auth.MethodAPIKey), "failure")
		return nil, errInvalidKey
	}

	rows, err := s.store.ActiveByDisplayPrefix(ctx, DisplayPrefix(candidate))
	if err != nil {
		return nil, err
	}

	var match *APIKey
	for _, row := range rows {
		if bcrypt.CompareHashAndPassword([]byte(row.KeyHash), []byte(candidate)) == nil {
			match = row
			break
		}
	}
	if match == nil {
		s.metrics.AuthAttempt(string(auth.MethodAPIKey), "failure")
		return nil, errInvalidKey
	}

	result, err := s.checkOwner(ctx, match)
	if err != nil {
		s.metrics.AuthAttempt(string(auth.MethodAPIKey), "failure")
		return nil, err
	}

	s.touch(match.ID)
	s.metrics.AuthAttempt(string(auth.MethodAPIKey), "success")
	return result, nil
}

func (s *Service) checkOwner(ctx context.Context, key *APIKey) (*Validated, error) {
	if key.Expired(s.now()) {
		return nil, errInvalidKey
	}

	org, err := s.orgs.GetOrganization(ctx, key.OrganizationID)
	if apperrors.IsKind(err, apperrors.KindNotFound) {
		return nil, errInvalidKey
	}
	if err != nil {
		return nil, err
	}
	if !org.IsActive {
		return nil, errInvalidKey
	}

	creator, err := s.users.GetUserByID(ctx, key.CreatedBy)
	if apperrors.IsKind(err, apperrors.KindNotFound) {
		return nil, errInvalidKey
	}
	if err != nil {
		return nil, err
	}
	if !creator.IsActive {
		return nil, errInvalidKey
	}

	return &Validated{Key: key, Organization: org, Creator: creator}, nil
}

// touch updates last-used in the background; failures are logged and dropped
func (s *Service) touch(keyID string) {
	at := s.now().UTC()
	s.background.Go("api key last-used update", func(ctx context.Context) error {
		return s.store.TouchLastUsed(ctx, keyID, at)
	})
}

// Wait blocks until background last-used updates finish
func (s *Service) Wait() {
	s.background.Wait()
}

// Revoke soft-deletes a key. Revoking an already revoked key succeeds.
func (s *Service) Revoke(ctx context.Context, orgID int64, keyID string) error {
	changed, err := s.store.Revoke(ctx, orgID, keyID, s.now().UTC())
	if err != nil {
		return err
	}
	if changed {
		return nil
	}
	exists, err := s.store.Exists(ctx, orgID, keyID)
	if err != nil {
		return err
	}
	if !exists {
		return apperrors.NotFound("api key not found")
	}
	return nil
}

// List returns key metadata for the organization
func (s *Service) List(ctx context.Context, orgID int64) ([]*APIKey, error) {
	keys, err := s.store.ListByOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if keys == nil {
		keys = []*APIKey{}
	}
	return keys, nil
}

// IsInvalidKey reports whether err is the uniform validation failure
func IsInvalidKey(err error) bool {
	return errors.Is(err, errInvalidKey)
}
