package orgs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/tenantry/pkg/apperrors"
	"github.com/platinummonkey/tenantry/pkg/auth"
)

const orgColumns = `id, external_id, slug, name, is_platform_organization, config, is_active, created_at, updated_at`

const membershipColumns = `m.id, m.user_id, m.organization_id, m.role_id, r.slug, r.level, m.is_active, m.created_at`

// Store persists organizations and memberships
type Store struct {
	db *sql.DB
}

// NewStore creates a new organization store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateOrganization inserts an organization, deriving the slug from the name when empty
func (s *Store) CreateOrganization(ctx context.Context, org *auth.Organization) error {
	if org.Slug == "" {
		org.Slug = generateSlug(org.Name)
	}
	if org.Slug == "" {
		return apperrors.Validation("organization slug is required")
	}
	if !auth.ValidOrgSlug(org.Slug) {
		return apperrors.Validation("organization slug %q must be lowercase letters, digits and dashes", org.Slug)
	}
	if org.ExternalID == "" {
		org.ExternalID = uuid.NewString()
	}
	if org.Config == nil {
		org.Config = map[string]interface{}{}
	}
	org.IsActive = true

	configJSON, err := json.Marshal(org.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO organizations (external_id, slug, name, is_platform_organization, config, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`, org.ExternalID, org.Slug, org.Name, org.IsPlatformOrganization, configJSON, org.IsActive).
		Scan(&org.ID, &org.CreatedAt, &org.UpdatedAt)
	return apperrors.FromPQ(err, fmt.Sprintf("organization slug %q already exists", org.Slug), "create organization")
}

// GetOrganization retrieves an organization by ID
func (s *Store) GetOrganization(ctx context.Context, id int64) (*auth.Organization, error) {
	org, err := scanOrganization(s.db.QueryRowContext(ctx,
		`SELECT `+orgColumns+` FROM organizations WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("organization %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// GetOrganizationBySlug retrieves an organization by slug
func (s *Store) GetOrganizationBySlug(ctx context.Context, slug string) (*auth.Organization, error) {
	org, err := scanOrganization(s.db.QueryRowContext(ctx,
		`SELECT `+orgColumns+` FROM organizations WHERE slug = $1`, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("organization %q not found", slug)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// ListOrganizations lists every organization by name
func (s *Store) ListOrganizations(ctx context.Context) ([]*auth.Organization, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+orgColumns+` FROM organizations ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	orgs := []*auth.Organization{}
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

// GetMembership returns the user's active membership in orgID
func (s *Store) GetMembership(ctx context.Context, userID, orgID int64) (*auth.Membership, error) {
	m, err := scanMembership(s.db.QueryRowContext(ctx, `
		SELECT `+membershipColumns+`
		FROM memberships m
		JOIN roles r ON r.id = m.role_id
		WHERE m.user_id = $1 AND m.organization_id = $2 AND m.is_active = true
	`, userID, orgID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("no active membership in organization %d", orgID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// OldestMembership returns the user's earliest active membership in an active organization
func (s *Store) OldestMembership(ctx context.Context, userID int64) (*auth.Membership, error) {
	m, err := scanMembership(s.db.QueryRowContext(ctx, `
		SELECT `+membershipColumns+`
		FROM memberships m
		JOIN roles r ON r.id = m.role_id
		JOIN organizations o ON o.id = m.organization_id
		WHERE m.user_id = $1 AND m.is_active = true AND o.is_active = true
		ORDER BY m.created_at, m.id
		LIMIT 1
	`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("user has no active membership")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// ListMembers lists the active members of an organization
func (s *Store) ListMembers(ctx context.Context, orgID int64) ([]*Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+membershipColumns+`, u.email, u.name
		FROM memberships m
		JOIN roles r ON r.id = m.role_id
		JOIN users u ON u.id = m.user_id
		WHERE m.organization_id = $1 AND m.is_active = true
		ORDER BY m.created_at, m.id
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	members := []*Member{}
	for rows.Next() {
		var (
			member Member
			level  int
		)
		if err := rows.Scan(
			&member.ID, &member.UserID, &member.OrganizationID, &member.RoleID, &member.RoleSlug, &level,
			&member.IsActive, &member.CreatedAt, &member.Email, &member.Name,
		); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		member.RoleLevel = auth.Level(level)
		members = append(members, &member)
	}
	return members, rows.Err()
}

// HasActiveMemberWithEmail reports whether the email already belongs to an active member
func (s *Store) HasActiveMemberWithEmail(ctx context.Context, orgID int64, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM memberships m
			JOIN users u ON u.id = m.user_id
			WHERE m.organization_id = $1 AND lower(u.email) = lower($2) AND m.is_active = true
		)
	`, orgID, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return exists, nil
}

// UpdateMemberRole moves an active member to another role
func (s *Store) UpdateMemberRole(ctx context.Context, orgID, userID, roleID int64, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE memberships SET role_id = $3, updated_at = $4
		WHERE organization_id = $1 AND user_id = $2 AND is_active = true
	`, orgID, userID, roleID, at)
	if err != nil {
		return fmt.Errorf("failed to update member role: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperrors.NotFound("member not found")
	}
	return nil
}

// DeactivateMember soft-removes a member
func (s *Store) DeactivateMember(ctx context.Context, orgID, userID int64, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE memberships SET is_active = false, updated_at = $3
		WHERE organization_id = $1 AND user_id = $2 AND is_active = true
	`, orgID, userID, at)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperrors.NotFound("member not found")
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrganization(row scanner) (*auth.Organization, error) {
	var (
		org        auth.Organization
		configJSON []byte
	)
	err := row.Scan(&org.ID, &org.ExternalID, &org.Slug, &org.Name, &org.IsPlatformOrganization,
		&configJSON, &org.IsActive, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &org.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}
	return &org, nil
}

func scanMembership(row scanner) (*auth.Membership, error) {
	var (
		m     auth.Membership
		level int
	)
	err := row.Scan(&m.ID, &m.UserID, &m.OrganizationID, &m.RoleID, &m.RoleSlug, &level, &m.IsActive, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.RoleLevel = auth.Level(level)
	return &m, nil
}

// generateSlug lowercases the name, turns spaces into dashes and drops
// anything that is not a letter, digit or dash.
func generateSlug(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.ReplaceAll(slug, " ", "-")

	var b strings.Builder
	for _, r := range slug {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "-")
}
