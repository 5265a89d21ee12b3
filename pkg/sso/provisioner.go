package sso

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/tenantry/pkg/apperrors"
	"github.com/platinummonkey/tenantry/pkg/auth"
	"github.com/platinummonkey/tenantry/pkg/tokens"
)

// Provisioner finds or creates the local user, organization and membership
// for a verified platform identity
type Provisioner struct {
	db          *sql.DB
	defaultRole string
	now         func() time.Time
}

// NewProvisioner creates a provisioner that gives new members defaultRole
func NewProvisioner(db *sql.DB, defaultRole string) *Provisioner {
	return &Provisioner{db: db, defaultRole: defaultRole, now: time.Now}
}

// Provision runs in one transaction and returns the local user and organization
func (p *Provisioner) Provision(ctx context.Context, id *Identity) (*auth.User, *auth.Organization, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := p.now().UTC()

	user, err := p.findOrCreateUser(ctx, tx, id, now)
	if err != nil {
		return nil, nil, err
	}
	if !user.IsActive {
		return nil, nil, apperrors.Unauthenticated("invalid or expired token")
	}

	org, err := p.findOrCreateOrganization(ctx, tx, id)
	if err != nil {
		return nil, nil, err
	}
	if !org.IsActive {
		return nil, nil, apperrors.Forbidden("organization is deactivated")
	}

	if err := p.ensureMembership(ctx, tx, user.ID, org.ID, now); err != nil {
		return nil, nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET last_login_at = $2 WHERE id = $1`, user.ID, now); err != nil {
		return nil, nil, fmt.Errorf("failed to record login: %w", err)
	}
	user.LastLoginAt = &now

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit provisioning: %w", err)
	}
	return user, org, nil
}

func (p *Provisioner) findOrCreateUser(ctx context.Context, tx *sql.Tx, id *Identity, now time.Time) (*auth.User, error) {
	user := &auth.User{}
	err := tx.QueryRowContext(ctx, `
		SELECT id, external_id, email, name, is_active, email_verified
		FROM users WHERE lower(email) = $1
	`, id.Email).Scan(&user.ID, &user.ExternalID, &user.Email, &user.Name, &user.IsActive, &user.EmailVerified)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	secret, err := tokens.NewOpaqueToken()
	if err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user = &auth.User{
		ExternalID:    uuid.NewString(),
		Email:         id.Email,
		Name:          id.Name,
		IsActive:      true,
		EmailVerified: true,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO users (external_id, email, name, password_hash, is_active, email_verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, true, true, $5, $5)
		RETURNING id, created_at
	`, user.ExternalID, user.Email, user.Name, hash, now).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return nil, apperrors.FromPQ(err, "user already exists", "create user")
	}
	user.UpdatedAt = user.CreatedAt
	return user, nil
}

func (p *Provisioner) findOrCreateOrganization(ctx context.Context, tx *sql.Tx, id *Identity) (*auth.Organization, error) {
	org := &auth.Organization{}
	err := tx.QueryRowContext(ctx, `
		SELECT id, external_id, slug, name, is_active FROM organizations WHERE slug = $1
	`, id.OrgSlug).Scan(&org.ID, &org.ExternalID, &org.Slug, &org.Name, &org.IsActive)
	if err == nil {
		return org, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}

	org = &auth.Organization{
		ExternalID: uuid.NewString(),
		Slug:       id.OrgSlug,
		Name:       id.OrgName,
		IsActive:   true,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO organizations (external_id, slug, name, is_platform_organization, config, is_active)
		VALUES ($1, $2, $3, false, '{}', true)
		RETURNING id, created_at, updated_at
	`, org.ExternalID, org.Slug, org.Name).Scan(&org.ID, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return nil, apperrors.FromPQ(err, fmt.Sprintf("organization slug %q already exists", org.Slug), "create organization")
	}
	return org, nil
}

// ensureMembership creates a membership with the default role on first
// sign-in. A deactivated membership stays deactivated.
func (p *Provisioner) ensureMembership(ctx context.Context, tx *sql.Tx, userID, orgID int64, now time.Time) error {
	var active bool
	err := tx.QueryRowContext(ctx, `
		SELECT is_active FROM memberships WHERE user_id = $1 AND organization_id = $2
	`, userID, orgID).Scan(&active)
	if err == nil {
		if !active {
			return apperrors.Forbidden("membership is deactivated")
		}
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to get membership: %w", err)
	}

	var roleID int64
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM roles WHERE slug = $1 AND organization_id IS NULL
	`, p.defaultRole).Scan(&roleID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("default role %q is not seeded", p.defaultRole)
	}
	if err != nil {
		return fmt.Errorf("failed to get default role: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO memberships (user_id, organization_id, role_id, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, true, $4, $4)
	`, userID, orgID, roleID, now); err != nil {
		return apperrors.FromPQ(err, "membership already exists", "create membership")
	}
	return nil
}
