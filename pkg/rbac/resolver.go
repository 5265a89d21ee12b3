package rbac

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/platinummonkey/tenantry/pkg/apperrors"
	"github.com/platinummonkey/tenantry/pkg/auth"
)

// Resolver computes effective permissions and guards role changes with the
// level ordering. Nothing is cached; every call reads the store.
type Resolver struct {
	store *Store
	now   func() time.Time
}

// NewResolver creates a resolver over the store
func NewResolver(store *Store) *Resolver {
	return &Resolver{store: store, now: time.Now}
}

// Store returns the underlying store
func (r *Resolver) Store() *Store {
	return r.store
}

// EffectivePermission returns the explicit row's value for action, or false
// when the role has no row for the menu.
func (r *Resolver) EffectivePermission(ctx context.Context, roleID, menuID int64, action auth.Action) (bool, error) {
	if !action.Valid() {
		return false, apperrors.Validation("unknown action %q", action)
	}
	actions, found, err := r.store.GetPermission(ctx, roleID, menuID)
	if err != nil || !found {
		return false, err
	}
	return actions.Allows(action), nil
}

// UserMenus lists the menus the user can read in orgID, ordered by section
// then sort order. A user without an active membership gets an empty list.
func (r *Resolver) UserMenus(ctx context.Context, userID, orgID int64) ([]Menu, error) {
	roleID, ok, err := r.store.MembershipRoleID(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []Menu{}, nil
	}

	menus, err := r.store.ReadableMenus(ctx, roleID)
	if err != nil {
		return nil, err
	}
	sortMenus(menus)
	return menus, nil
}

// Menus lists every menu in display order
func (r *Resolver) Menus(ctx context.Context) ([]Menu, error) {
	menus, err := r.store.ListMenus(ctx)
	if err != nil {
		return nil, err
	}
	sortMenus(menus)
	return menus, nil
}

// PermissionSet returns the role's grants keyed by menu slug
func (r *Resolver) PermissionSet(ctx context.Context, roleID int64) (auth.PermissionSet, error) {
	perms, err := r.store.ListPermissions(ctx, roleID)
	if err != nil {
		return nil, err
	}
	set := make(auth.PermissionSet, len(perms))
	for _, p := range perms {
		set[p.MenuSlug] = p.Actions
	}
	return set, nil
}

// Grant resolves a role into the reference and permission set a principal carries
func (r *Resolver) Grant(ctx context.Context, roleID int64) (*auth.RoleRef, auth.PermissionSet, error) {
	role, err := r.store.GetRole(ctx, roleID)
	if err != nil {
		return nil, nil, err
	}
	set, err := r.PermissionSet(ctx, roleID)
	if err != nil {
		return nil, nil, err
	}
	return role.Ref(), set, nil
}

// Role returns a role the actor can see. Roles owned by other organizations
// are reported as not found.
func (r *Resolver) Role(ctx context.Context, actor *auth.Principal, roleID int64) (*Role, error) {
	role, err := r.store.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if !actor.IsPlatformAdmin() && !role.VisibleTo(actor.OrganizationID()) {
		return nil, apperrors.NotFound("role %d not found", roleID)
	}
	return role, nil
}

// ListRoles lists the roles visible to the actor
func (r *Resolver) ListRoles(ctx context.Context, actor *auth.Principal) ([]*Role, error) {
	if actor.IsPlatformAdmin() {
		return r.store.ListRoles(ctx, nil)
	}
	orgID := actor.OrganizationID()
	return r.store.ListRoles(ctx, &orgID)
}

// RolePermissions returns the full matrix: one entry per menu, explicit or not
func (r *Resolver) RolePermissions(ctx context.Context, actor *auth.Principal, roleID int64) ([]MatrixEntry, error) {
	if _, err := r.Role(ctx, actor, roleID); err != nil {
		return nil, err
	}
	menus, err := r.Menus(ctx)
	if err != nil {
		return nil, err
	}
	perms, err := r.store.ListPermissions(ctx, roleID)
	if err != nil {
		return nil, err
	}

	byMenu := make(map[int64]auth.Actions, len(perms))
	for _, p := range perms {
		byMenu[p.MenuID] = p.Actions
	}

	matrix := make([]MatrixEntry, 0, len(menus))
	for _, m := range menus {
		actions, explicit := byMenu[m.ID]
		matrix = append(matrix, MatrixEntry{Menu: m, Explicit: explicit, Actions: actions})
	}
	return matrix, nil
}

// ReplaceRolePermissions swaps the role's whole matrix for rows. Menus left
// out of rows lose their explicit row and fall back to no access.
func (r *Resolver) ReplaceRolePermissions(ctx context.Context, actor *auth.Principal, roleID int64, rows []PermissionInput) error {
	role, err := r.Role(ctx, actor, roleID)
	if err != nil {
		return err
	}
	if err := authorizeEdit(actor, role); err != nil {
		return err
	}

	menus, err := r.store.ListMenus(ctx)
	if err != nil {
		return err
	}
	slugs := make(map[int64]string, len(menus))
	for _, m := range menus {
		slugs[m.ID] = m.Slug
	}

	seen := make(map[int64]bool, len(rows))
	keep := make([]PermissionInput, 0, len(rows))
	for _, row := range rows {
		slug, ok := slugs[row.MenuID]
		if !ok {
			return apperrors.Validation("unknown menu id %d", row.MenuID)
		}
		if seen[row.MenuID] {
			return apperrors.Validation("menu id %d listed more than once", row.MenuID)
		}
		seen[row.MenuID] = true
		if !actor.IsPlatformAdmin() && !covers(actor.Permissions[slug], row.Actions) {
			return apperrors.Forbidden("cannot grant permissions on %q that you do not hold", slug)
		}
		if row.Actions == (auth.Actions{}) {
			continue
		}
		keep = append(keep, row)
	}

	return r.store.ReplacePermissions(ctx, roleID, keep)
}

// CreateRole creates a role on behalf of actor. The new level may not exceed
// the actor's, PLATFORM roles need a platform admin, and ORGANIZATION roles
// are bound to exactly one organization.
func (r *Resolver) CreateRole(ctx context.Context, actor *auth.Principal, input CreateRoleInput) (*Role, error) {
	input.Slug = strings.TrimSpace(input.Slug)
	input.Name = strings.TrimSpace(input.Name)
	if input.Scope == "" {
		input.Scope = ScopeOrganization
	}

	switch {
	case !slugPattern.MatchString(input.Slug):
		return nil, apperrors.Validation("slug must be 2-50 lowercase letters, digits, '-' or '_'")
	case input.Name == "" || len(input.Name) > 255:
		return nil, apperrors.Validation("name is required and must be at most 255 characters")
	case !input.Scope.Valid():
		return nil, apperrors.Validation("scope must be PLATFORM or ORGANIZATION")
	}
	if err := validateLevel(input.Level, input.Scope); err != nil {
		return nil, err
	}
	if !actor.Level().CanGrant(input.Level) {
		return nil, apperrors.Forbidden("cannot create a role above your own level")
	}

	role := &Role{
		Slug:        input.Slug,
		Name:        input.Name,
		Description: input.Description,
		Level:       input.Level,
		Scope:       input.Scope,
		BaseRoleID:  input.BaseRoleID,
		CreatedAt:   r.now().UTC(),
	}

	if input.Scope == ScopePlatform {
		if !actor.IsPlatformAdmin() {
			return nil, apperrors.Forbidden("platform roles can only be created by platform administrators")
		}
		if input.OrganizationID != nil {
			return nil, apperrors.Validation("platform roles cannot belong to an organization")
		}
	} else {
		orgID := actor.OrganizationID()
		if input.OrganizationID != nil {
			orgID = *input.OrganizationID
		}
		if orgID == 0 {
			return nil, apperrors.Validation("organization_id is required for organization roles")
		}
		if !actor.CanActOn(orgID) {
			return nil, apperrors.Forbidden("cannot create roles in another organization")
		}
		role.OrganizationID = &orgID
	}

	if input.BaseRoleID != nil {
		if err := r.checkBaseRole(ctx, actor, role, *input.BaseRoleID); err != nil {
			return nil, err
		}
	}

	if err := r.store.CreateRole(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

func (r *Resolver) checkBaseRole(ctx context.Context, actor *auth.Principal, role *Role, baseID int64) error {
	base, err := r.store.GetRole(ctx, baseID)
	if apperrors.IsKind(err, apperrors.KindNotFound) {
		return apperrors.Validation("base role %d does not exist", baseID)
	}
	if err != nil {
		return err
	}

	visible := base.OrganizationID == nil
	if role.OrganizationID != nil {
		visible = base.VisibleTo(*role.OrganizationID)
	}
	if !visible {
		return apperrors.Validation("base role %d does not exist", baseID)
	}
	if !actor.Level().CanGrant(base.Level) {
		return apperrors.Forbidden("cannot clone a role above your own level")
	}
	if actor.IsPlatformAdmin() {
		return nil
	}

	perms, err := r.store.ListPermissions(ctx, baseID)
	if err != nil {
		return err
	}
	for _, p := range perms {
		if !covers(actor.Permissions[p.MenuSlug], p.Actions) {
			return apperrors.Forbidden("base role grants permissions on %q that you do not hold", p.MenuSlug)
		}
	}
	return nil
}

// UpdateRole changes name, description or level under the same level rule
func (r *Resolver) UpdateRole(ctx context.Context, actor *auth.Principal, roleID int64, input UpdateRoleInput) (*Role, error) {
	role, err := r.Role(ctx, actor, roleID)
	if err != nil {
		return nil, err
	}
	if err := authorizeEdit(actor, role); err != nil {
		return nil, err
	}

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" || len(name) > 255 {
			return nil, apperrors.Validation("name is required and must be at most 255 characters")
		}
		role.Name = name
	}
	if input.Description != nil {
		role.Description = *input.Description
	}
	if input.Level != nil {
		if err := validateLevel(*input.Level, role.Scope); err != nil {
			return nil, err
		}
		if !actor.Level().CanGrant(*input.Level) {
			return nil, apperrors.Forbidden("cannot raise a role above your own level")
		}
		role.Level = *input.Level
	}

	role.UpdatedAt = r.now().UTC()
	if err := r.store.UpdateRole(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

func authorizeEdit(actor *auth.Principal, role *Role) error {
	if role.Scope == ScopePlatform && !actor.IsPlatformAdmin() {
		return apperrors.Forbidden("platform roles can only be changed by platform administrators")
	}
	if !actor.Level().CanGrant(role.Level) {
		return apperrors.Forbidden("cannot modify a role above your own level")
	}
	return nil
}

func validateLevel(level auth.Level, scope Scope) error {
	if level <= 0 || level > auth.LevelSuperAdmin {
		return apperrors.Validation("level must be between 1 and %d", auth.LevelSuperAdmin)
	}
	if scope == ScopeOrganization && level.IsPlatformAdmin() {
		return apperrors.Validation("organization roles must be below level %d", auth.LevelPlatformAdmin)
	}
	return nil
}

// covers reports whether held includes every action in want
func covers(held, want auth.Actions) bool {
	return (held.Create || !want.Create) &&
		(held.Read || !want.Read) &&
		(held.Update || !want.Update) &&
		(held.Delete || !want.Delete)
}

func sortMenus(menus []Menu) {
	sort.SliceStable(menus, func(i, j int) bool {
		if ri, rj := menus[i].Section.Rank(), menus[j].Section.Rank(); ri != rj {
			return ri < rj
		}
		if menus[i].SortOrder != menus[j].SortOrder {
			return menus[i].SortOrder < menus[j].SortOrder
		}
		return menus[i].ID < menus[j].ID
	})
}
