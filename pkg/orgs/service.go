package orgs

import (
	"context"
	"strings"
	"time"

	"github.com/platinummonkey/tenantry/pkg/apperrors"
	"github.com/platinummonkey/tenantry/pkg/auth"
)

// Service manages organizations and their members
type Service struct {
	store *Store
	roles RoleGetter
	now   func() time.Time
}

// NewService creates an organization service
func NewService(store *Store, roles RoleGetter) *Service {
	return &Service{store: store, roles: roles, now: time.Now}
}

// Store returns the underlying store
func (s *Service) Store() *Store {
	return s.store
}

// Organization returns one organization
func (s *Service) Organization(ctx context.Context, orgID int64) (*auth.Organization, error) {
	return s.store.GetOrganization(ctx, orgID)
}

// ListOrganizations lists every organization
func (s *Service) ListOrganizations(ctx context.Context) ([]*auth.Organization, error) {
	return s.store.ListOrganizations(ctx)
}

// CreateOrganization creates a tenant organization
func (s *Service) CreateOrganization(ctx context.Context, req CreateOrgRequest) (*auth.Organization, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperrors.Validation("organization name is required")
	}
	org := &auth.Organization{
		Name:   name,
		Slug:   strings.ToLower(strings.TrimSpace(req.Slug)),
		Config: req.Config,
	}
	if err := s.store.CreateOrganization(ctx, org); err != nil {
		return nil, err
	}
	return org, nil
}

// ListMembers lists an organization's active members
func (s *Service) ListMembers(ctx context.Context, orgID int64) ([]*Member, error) {
	return s.store.ListMembers(ctx, orgID)
}

// UpdateMemberRole moves a member to another role. The actor must outrank or
// equal both the member's current role and the new one.
func (s *Service) UpdateMemberRole(ctx context.Context, actor *auth.Principal, orgID, userID int64, req UpdateMemberRequest) (*auth.Membership, error) {
	if userID == actor.UserID() && !actor.IsPlatformAdmin() {
		return nil, apperrors.Forbidden("cannot change your own role")
	}
	target, err := s.store.GetMembership(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	if !actor.Level().CanGrant(target.RoleLevel) {
		return nil, apperrors.Forbidden("cannot modify a member above your own level")
	}

	role, err := s.roles.GetRole(ctx, req.RoleID)
	if apperrors.IsKind(err, apperrors.KindNotFound) || (err == nil && !role.VisibleTo(orgID)) {
		return nil, apperrors.Validation("role %d does not exist", req.RoleID)
	}
	if err != nil {
		return nil, err
	}
	if !actor.Level().CanGrant(role.Level) {
		return nil, apperrors.Forbidden("cannot assign a role above your own level")
	}

	if err := s.store.UpdateMemberRole(ctx, orgID, userID, role.ID, s.now().UTC()); err != nil {
		return nil, err
	}
	target.RoleID = role.ID
	target.RoleSlug = role.Slug
	target.RoleLevel = role.Level
	return target, nil
}

// RemoveMember deactivates a membership
func (s *Service) RemoveMember(ctx context.Context, actor *auth.Principal, orgID, userID int64) error {
	if userID == actor.UserID() {
		return apperrors.Validation("cannot remove yourself")
	}
	target, err := s.store.GetMembership(ctx, userID, orgID)
	if err != nil {
		return err
	}
	if !actor.Level().CanGrant(target.RoleLevel) {
		return apperrors.Forbidden("cannot remove a member above your own level")
	}
	return s.store.DeactivateMember(ctx, orgID, userID, s.now().UTC())
}
