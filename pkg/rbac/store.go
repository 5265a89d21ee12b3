package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/tenantry/pkg/apperrors"
	"github.com/platinummonkey/tenantry/pkg/auth"
)

const roleColumns = `id, slug, name, description, level, scope, organization_id, base_role_id, is_built_in, created_at, updated_at`

const menuColumns = `m.id, m.slug, m.name, m.section, m.sort_order, m.parent_id, m.path`

// Store handles RBAC persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateRole inserts a role. When the role names a base role, the base
// role's permission rows are copied in the same transaction.
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO roles (slug, name, description, level, scope, organization_id, base_role_id, is_built_in, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING id
	`, role.Slug, role.Name, role.Description, int(role.Level), string(role.Scope),
		role.OrganizationID, role.BaseRoleID, role.IsBuiltIn, role.CreatedAt,
	).Scan(&role.ID)
	if err != nil {
		return apperrors.FromPQ(err, fmt.Sprintf("role slug %q already exists", role.Slug), "create role")
	}
	role.UpdatedAt = role.CreatedAt

	if role.BaseRoleID != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO role_permissions (role_id, menu_id, can_create, can_read, can_update, can_delete)
			SELECT $1, menu_id, can_create, can_read, can_update, can_delete
			FROM role_permissions WHERE role_id = $2
		`, role.ID, *role.BaseRoleID)
		if err != nil {
			return fmt.Errorf("failed to clone base role permissions: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role: %w", err)
	}
	return nil
}

// GetRole retrieves a role by ID
func (s *Store) GetRole(ctx context.Context, id int64) (*Role, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id)
	role, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("role %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// GetRoleBySlug looks up a platform role, or an organization role when orgID is set
func (s *Store) GetRoleBySlug(ctx context.Context, slug string, orgID *int64) (*Role, error) {
	var row *sql.Row
	if orgID == nil {
		row = s.db.QueryRowContext(ctx,
			`SELECT `+roleColumns+` FROM roles WHERE slug = $1 AND organization_id IS NULL`, slug)
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT `+roleColumns+` FROM roles WHERE slug = $1 AND organization_id = $2`, slug, *orgID)
	}
	role, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("role %q not found", slug)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// ListRoles lists platform roles plus those owned by orgID. A nil orgID lists every role.
func (s *Store) ListRoles(ctx context.Context, orgID *int64) ([]*Role, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if orgID == nil {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+roleColumns+` FROM roles ORDER BY level DESC, slug`)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+roleColumns+` FROM roles WHERE organization_id IS NULL OR organization_id = $1 ORDER BY level DESC, slug`,
			*orgID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	roles := []*Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// UpdateRole writes the mutable role fields
func (s *Store) UpdateRole(ctx context.Context, role *Role) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE roles SET name = $2, description = $3, level = $4, updated_at = $5
		WHERE id = $1
	`, role.ID, role.Name, role.Description, int(role.Level), role.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperrors.NotFound("role %d not found", role.ID)
	}
	return nil
}

// ListMenus lists every menu in display order
func (s *Store) ListMenus(ctx context.Context) ([]Menu, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+menuColumns+` FROM menus m ORDER BY m.sort_order, m.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list menus: %w", err)
	}
	defer rows.Close()
	return scanMenus(rows)
}

// ReadableMenus lists the menus a role has can_read on
func (s *Store) ReadableMenus(ctx context.Context, roleID int64) ([]Menu, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+menuColumns+`
		FROM role_permissions rp
		JOIN menus m ON m.id = rp.menu_id
		WHERE rp.role_id = $1 AND rp.can_read = true
	`, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list readable menus: %w", err)
	}
	defer rows.Close()
	return scanMenus(rows)
}

// GetPermission returns the explicit row for (role, menu) if one exists
func (s *Store) GetPermission(ctx context.Context, roleID, menuID int64) (auth.Actions, bool, error) {
	var a auth.Actions
	err := s.db.QueryRowContext(ctx, `
		SELECT can_create, can_read, can_update, can_delete
		FROM role_permissions WHERE role_id = $1 AND menu_id = $2
	`, roleID, menuID).Scan(&a.Create, &a.Read, &a.Update, &a.Delete)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Actions{}, false, nil
	}
	if err != nil {
		return auth.Actions{}, false, fmt.Errorf("failed to get permission: %w", err)
	}
	return a, true, nil
}

// ListPermissions returns every explicit row for a role
func (s *Store) ListPermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rp.role_id, rp.menu_id, m.slug, rp.can_create, rp.can_read, rp.can_update, rp.can_delete
		FROM role_permissions rp
		JOIN menus m ON m.id = rp.menu_id
		WHERE rp.role_id = $1
	`, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	perms := []Permission{}
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.RoleID, &p.MenuID, &p.MenuSlug, &p.Create, &p.Read, &p.Update, &p.Delete); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// ReplacePermissions deletes every row of a role and writes the given rows,
// all in one transaction.
func (s *Store) ReplacePermissions(ctx context.Context, roleID int64, rows []PermissionInput) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to clear permissions: %w", err)
	}

	for _, row := range rows {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO role_permissions (role_id, menu_id, can_create, can_read, can_update, can_delete)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, roleID, row.MenuID, row.Create, row.Read, row.Update, row.Delete)
		if err != nil {
			return fmt.Errorf("failed to insert permission for menu %d: %w", row.MenuID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit permissions: %w", err)
	}
	return nil
}

// MembershipRoleID returns the role of the user's active membership in orgID
func (s *Store) MembershipRoleID(ctx context.Context, userID, orgID int64) (int64, bool, error) {
	var roleID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT role_id FROM memberships
		WHERE user_id = $1 AND organization_id = $2 AND is_active = true
	`, userID, orgID).Scan(&roleID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get membership role: %w", err)
	}
	return roleID, true, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRole(row scanner) (*Role, error) {
	var (
		role       Role
		level      int
		scope      string
		orgID      sql.NullInt64
		baseRoleID sql.NullInt64
	)
	err := row.Scan(&role.ID, &role.Slug, &role.Name, &role.Description, &level, &scope,
		&orgID, &baseRoleID, &role.IsBuiltIn, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return nil, err
	}
	role.Level = auth.Level(level)
	role.Scope = Scope(scope)
	if orgID.Valid {
		role.OrganizationID = &orgID.Int64
	}
	if baseRoleID.Valid {
		role.BaseRoleID = &baseRoleID.Int64
	}
	return &role, nil
}

func scanMenus(rows *sql.Rows) ([]Menu, error) {
	menus := []Menu{}
	for rows.Next() {
		var (
			m        Menu
			section  string
			parentID sql.NullInt64
		)
		if err := rows.Scan(&m.ID, &m.Slug, &m.Name, &section, &m.SortOrder, &parentID, &m.Path); err != nil {
			return nil, fmt.Errorf("failed to scan menu: %w", err)
		}
		m.Section = Section(section)
		if parentID.Valid {
			m.ParentID = &parentID.Int64
		}
		menus = append(menus, m)
	}
	return menus, rows.Err()
}
