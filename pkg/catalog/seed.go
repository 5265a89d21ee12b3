package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/platinummonkey/tenantry/pkg/observability"
)

// Result counts what a seed run wrote
type Result struct {
	Menus       int `json:"menus"`
	Roles       int `json:"roles"`
	Permissions int `json:"permissions_added"`
	Flags       int `json:"flags"`
}

// Seeder writes a catalog into the database
type Seeder struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewSeeder creates a seeder
func NewSeeder(db *sql.DB, logger *observability.Logger) *Seeder {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Seeder{db: db, logger: logger}
}

// Seed upserts the catalog in one transaction. Menus, roles and flags are
// matched by slug or key and updated in place. Built-in roles are global:
// they carry no organization and are stored with platform scope. Permission
// rows are only inserted where missing.
func (s *Seeder) Seed(ctx context.Context, c *Catalog) (*Result, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result := &Result{}

	menuIDs := make(map[string]int64, len(c.Menus))
	for _, m := range c.Menus {
		var id int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO menus (slug, name, section, sort_order, path)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (slug) DO UPDATE SET
				name = EXCLUDED.name, section = EXCLUDED.section,
				sort_order = EXCLUDED.sort_order, path = EXCLUDED.path
			RETURNING id
		`, m.Slug, m.Name, string(m.Section), m.SortOrder, m.Path).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("failed to seed menu %s: %w", m.Slug, err)
		}
		menuIDs[m.Slug] = id
		result.Menus++
	}

	for _, m := range c.Menus {
		var parent sql.NullInt64
		if m.Parent != "" {
			parent = sql.NullInt64{Int64: menuIDs[m.Parent], Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE menus SET parent_id = $2 WHERE id = $1`, menuIDs[m.Slug], parent); err != nil {
			return nil, fmt.Errorf("failed to link menu %s: %w", m.Slug, err)
		}
	}

	for _, r := range c.Roles {
		var roleID int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO roles (slug, name, description, level, scope, organization_id, is_built_in)
			VALUES ($1, $2, $3, $4, 'PLATFORM', NULL, true)
			ON CONFLICT (slug) WHERE organization_id IS NULL DO UPDATE SET
				name = EXCLUDED.name, description = EXCLUDED.description,
				level = EXCLUDED.level, is_built_in = true, updated_at = NOW()
			RETURNING id
		`, r.Slug, r.Name, r.Description, int(r.Level)).Scan(&roleID)
		if err != nil {
			return nil, fmt.Errorf("failed to seed role %s: %w", r.Slug, err)
		}
		result.Roles++

		grants := c.Grants(r)
		for _, slug := range sortedKeys(grants) {
			g := grants[slug]
			res, err := tx.ExecContext(ctx, `
				INSERT INTO role_permissions (role_id, menu_id, can_create, can_read, can_update, can_delete)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (role_id, menu_id) DO NOTHING
			`, roleID, menuIDs[slug], g.Create, g.Read, g.Update, g.Delete)
			if err != nil {
				return nil, fmt.Errorf("failed to seed permission %s/%s: %w", r.Slug, slug, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				result.Permissions++
			}
		}
	}

	for _, f := range c.Flags {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO feature_flags (key, name, description, default_enabled)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (key) DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description
		`, f.Key, f.Name, f.Description, f.DefaultEnabled)
		if err != nil {
			return nil, fmt.Errorf("failed to seed flag %s: %w", f.Key, err)
		}
		result.Flags++
	}

	if org := c.PlatformOrganization; org != nil {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO organizations (external_id, slug, name, is_platform_organization, config, is_active)
			VALUES ($1, $2, $3, true, '{}', true)
			ON CONFLICT (slug) DO UPDATE SET is_platform_organization = true
		`, uuid.NewString(), org.Slug, org.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to seed platform organization: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit seed: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"menus":             result.Menus,
		"roles":             result.Roles,
		"permissions_added": result.Permissions,
		"flags":             result.Flags,
	}).Info("catalog seeded")
	return result, nil
}
