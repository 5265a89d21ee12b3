package flags

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/platinummonkey/tenantry/pkg/apperrors"
)

var keyPattern = regexp.MustCompile(`^[a-z][a-z0-9_.-]{1,99}$`)

// Service layers platform defaults, platform overrides and organization
// overrides into effective flag values. Values are read fresh on every call.
type Service struct {
	store *Store
	now   func() time.Time
}

// NewService creates a flag service
func NewService(store *Store) *Service {
	return &Service{store: store, now: time.Now}
}

// EffectiveOrgFlags resolves every defined flag for the organization
func (s *Service) EffectiveOrgFlags(ctx context.Context, orgID int64) ([]OrgFlag, error) {
	defs, err := s.store.ListFlags(ctx)
	if err != nil {
		return nil, err
	}
	overrides, err := s.store.ListOverrides(ctx, orgID)
	if err != nil {
		return nil, err
	}

	out := make([]OrgFlag, 0, len(defs))
	for _, f := range defs {
		out = append(out, Resolve(f, overrides[f.ID]))
	}
	return out, nil
}

// IsEnabled returns one flag's effective value for the organization
func (s *Service) IsEnabled(ctx context.Context, orgID int64, key string) (bool, error) {
	f, o, err := s.store.Lookup(ctx, orgID, key)
	if err != nil {
		return false, err
	}
	return Resolve(f, o).Effective, nil
}

// UpdateOrgFlag writes one or both override layers. Only platform admins may
// set PlatformEnabled. Turning OrgEnabled on is refused when the row's
// post-update PlatformEnabled is false; the decision is taken once, under the
// row lock, over the combined new state.
func (s *Service) UpdateOrgFlag(ctx context.Context, orgID, flagID int64, input UpdateInput, isPlatformAdmin bool) (*OrgFlag, error) {
	if input.PlatformEnabled == nil && input.OrgEnabled == nil {
		return nil, apperrors.Validation("platform_enabled or org_enabled is required")
	}
	if input.PlatformEnabled != nil && !isPlatformAdmin {
		return nil, apperrors.Forbidden("only platform administrators can change platform_enabled")
	}

	f, o, err := s.store.UpdateOverride(ctx, orgID, flagID, s.now().UTC(), func(_ Flag, o *Override) error {
		next := *o
		if input.PlatformEnabled != nil {
			next.PlatformEnabled = *input.PlatformEnabled
		}
		if input.OrgEnabled != nil {
			next.OrgEnabled = *input.OrgEnabled
		}
		if input.OrgEnabled != nil && *input.OrgEnabled && !next.PlatformEnabled {
			return apperrors.Forbidden("flag is disabled at the platform level")
		}
		*o = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	resolved := Resolve(f, o)
	return &resolved, nil
}

// ListFlags lists flag definitions
func (s *Service) ListFlags(ctx context.Context) ([]Flag, error) {
	return s.store.ListFlags(ctx)
}

// CreateFlag defines a new platform flag
func (s *Service) CreateFlag(ctx context.Context, f Flag) (*Flag, error) {
	f.Key = strings.TrimSpace(f.Key)
	if !keyPattern.MatchString(f.Key) {
		return nil, apperrors.Validation("key must be 2-100 lowercase letters, digits, '.', '-' or '_'")
	}
	if f.Name == "" {
		f.Name = f.Key
	}
	if err := s.store.CreateFlag(ctx, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
