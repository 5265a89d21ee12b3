// Package migrations holds the versioned PostgreSQL schema for tenantry and a
// small runner that applies pending versions inside transactions.
package migrations

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/tenantry/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// All returns every migration in version order
func All() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users and organizations",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					external_id UUID NOT NULL UNIQUE,
					email VARCHAR(320) NOT NULL,
					name VARCHAR(255) NOT NULL DEFAULT '',
					password_hash VARCHAR(255) NOT NULL,
					is_active BOOLEAN NOT NULL DEFAULT true,
					email_verified BOOLEAN NOT NULL DEFAULT false,
					last_login_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(lower(email));

				CREATE TABLE IF NOT EXISTS organizations (
					id BIGSERIAL PRIMARY KEY,
					external_id UUID NOT NULL UNIQUE,
					slug VARCHAR(100) NOT NULL UNIQUE,
					name VARCHAR(255) NOT NULL,
					is_platform_organization BOOLEAN NOT NULL DEFAULT false,
					config JSONB NOT NULL DEFAULT '{}',
					is_active BOOLEAN NOT NULL DEFAULT true,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     2,
			Description: "Create roles, menus and permissions",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id BIGSERIAL PRIMARY KEY,
					slug VARCHAR(50) NOT NULL,
					name VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					level INT NOT NULL CHECK (level > 0),
					scope VARCHAR(20) NOT NULL CHECK (scope IN ('PLATFORM', 'ORGANIZATION')),
					organization_id BIGINT REFERENCES organizations(id) ON DELETE CASCADE,
					base_role_id BIGINT REFERENCES roles(id) ON DELETE SET NULL,
					is_built_in BOOLEAN NOT NULL DEFAULT false,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					CHECK ((scope = 'PLATFORM') = (organization_id IS NULL))
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_roles_platform_slug ON roles(slug) WHERE organization_id IS NULL;
				CREATE UNIQUE INDEX IF NOT EXISTS idx_roles_org_slug ON roles(organization_id, slug) WHERE organization_id IS NOT NULL;

				CREATE TABLE IF NOT EXISTS menus (
					id BIGSERIAL PRIMARY KEY,
					slug VARCHAR(100) NOT NULL UNIQUE,
					name VARCHAR(255) NOT NULL,
					section VARCHAR(20) NOT NULL CHECK (section IN ('MAIN', 'ADMIN', 'PLATFORM_ADMIN')),
					sort_order INT NOT NULL DEFAULT 0,
					parent_id BIGINT REFERENCES menus(id) ON DELETE SET NULL,
					path VARCHAR(255) NOT NULL DEFAULT ''
				);

				CREATE TABLE IF NOT EXISTS role_permissions (
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					menu_id BIGINT NOT NULL REFERENCES menus(id) ON DELETE CASCADE,
					can_create BOOLEAN NOT NULL DEFAULT false,
					can_read BOOLEAN NOT NULL DEFAULT false,
					can_update BOOLEAN NOT NULL DEFAULT false,
					can_delete BOOLEAN NOT NULL DEFAULT false,
					PRIMARY KEY (role_id, menu_id)
				);
			`,
		},
		{
			Version:     3,
			Description: "Create memberships",
			SQL: `
				CREATE TABLE IF NOT EXISTS memberships (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					role_id BIGINT NOT NULL REFERENCES roles(id),
					is_active BOOLEAN NOT NULL DEFAULT true,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE(user_id, organization_id)
				);

				CREATE INDEX IF NOT EXISTS idx_memberships_org ON memberships(organization_id);
			`,
		},
		{
			Version:     4,
			Description: "Create feature flags",
			SQL: `
				CREATE TABLE IF NOT EXISTS feature_flags (
					id BIGSERIAL PRIMARY KEY,
					key VARCHAR(100) NOT NULL UNIQUE,
					name VARCHAR(255) NOT NULL DEFAULT '',
					description TEXT NOT NULL DEFAULT '',
					default_enabled BOOLEAN NOT NULL DEFAULT false
				);

				CREATE TABLE IF NOT EXISTS org_feature_flags (
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					flag_id BIGINT NOT NULL REFERENCES feature_flags(id) ON DELETE CASCADE,
					platform_enabled BOOLEAN NOT NULL,
					org_enabled BOOLEAN NOT NULL DEFAULT true,
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (organization_id, flag_id)
				);
			`,
		},
		{
			Version:     5,
			Description: "Create invitations",
			SQL: `
				CREATE TABLE IF NOT EXISTS invitations (
					id BIGSERIAL PRIMARY KEY,
					external_id UUID NOT NULL UNIQUE,
					email VARCHAR(320) NOT NULL,
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					role_id BIGINT NOT NULL REFERENCES roles(id),
					token_hash CHAR(64) NOT NULL UNIQUE,
					status VARCHAR(20) NOT NULL CHECK (status IN ('PENDING', 'ACCEPTED', 'EXPIRED', 'CANCELLED')),
					invited_by BIGINT NOT NULL REFERENCES users(id),
					expires_at TIMESTAMPTZ NOT NULL,
					accepted_at TIMESTAMPTZ,
					accepted_by BIGINT REFERENCES users(id),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_invitations_pending
					ON invitations(organization_id, lower(email)) WHERE status = 'PENDING';
			`,
		},
		{
			Version:     6,
			Description: "Create sessions and one-time tokens",
			SQL: `
				CREATE TABLE IF NOT EXISTS sessions (
					id VARCHAR(26) PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					token_hash CHAR(64) NOT NULL UNIQUE,
					user_agent VARCHAR(512) NOT NULL DEFAULT '',
					ip_address VARCHAR(64) NOT NULL DEFAULT '',
					expires_at TIMESTAMPTZ NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
				CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);

				CREATE TABLE IF NOT EXISTS one_time_tokens (
					token_hash CHAR(64) PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					purpose VARCHAR(32) NOT NULL,
					expires_at TIMESTAMPTZ NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_one_time_tokens_user ON one_time_tokens(user_id, purpose);
			`,
		},
		{
			Version:     7,
			Description: "Create API keys",
			SQL: `
				CREATE TABLE IF NOT EXISTS api_keys (
					id VARCHAR(26) PRIMARY KEY,
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					name VARCHAR(100) NOT NULL,
					key_hash VARCHAR(255) NOT NULL,
					display_prefix VARCHAR(20) NOT NULL,
					created_by BIGINT NOT NULL REFERENCES users(id),
					expires_at TIMESTAMPTZ,
					is_active BOOLEAN NOT NULL DEFAULT true,
					revoked_at TIMESTAMPTZ,
					last_used_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_api_keys_display_prefix ON api_keys(display_prefix) WHERE is_active = true;
				CREATE INDEX IF NOT EXISTS idx_api_keys_org ON api_keys(organization_id);
			`,
		},
		{
			Version:     8,
			Description: "Create audit events",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_events (
					id BIGSERIAL PRIMARY KEY,
					action VARCHAR(64) NOT NULL,
					status VARCHAR(16) NOT NULL,
					user_id BIGINT,
					organization_id BIGINT,
					resource_type VARCHAR(64),
					resource_id VARCHAR(255),
					ip_address VARCHAR(64),
					reason TEXT,
					request_id VARCHAR(64),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_audit_events_org_created ON audit_events(organization_id, created_at DESC);
				CREATE INDEX IF NOT EXISTS idx_audit_events_created ON audit_events(created_at);
			`,
		},
	}
}

// Run executes all pending migrations and returns how many were applied
func Run(ctx context.Context, db *sql.DB, logger *observability.Logger) (int, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := Applied(ctx, db)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, migration := range All() {
		if applied[migration.Version] {
			continue
		}

		logger.WithField("version", migration.Version).Infof("running migration: %s", migration.Description)
		if err := apply(ctx, db, migration); err != nil {
			return count, err
		}
		count++
	}

	return count, nil
}

// Applied returns the set of versions already recorded in schema_migrations
func Applied(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}
	return applied, nil
}

func apply(ctx context.Context, db *sql.DB, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
		migration.Version, migration.Description,
	); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
	}
	return nil
}
