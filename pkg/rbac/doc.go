// Package rbac resolves per-menu CRUD permissions for tenantry roles.
//
// # Model
//
// A Role carries a numeric level (see auth.Level) and a scope. PLATFORM roles
// are visible in every organization; ORGANIZATION roles belong to exactly one.
// A Menu is an addressable surface grouped into ordered sections:
//
//	MAIN            - day-to-day features
//	ADMIN           - organization administration
//	PLATFORM_ADMIN  - cross-tenant administration
//
// A permission row maps (role, menu) to {can_create, can_read, can_update,
// can_delete}. A missing row grants nothing.
//
// # Rank rules
//
// An actor may only create, edit or clone roles at or below its own level.
// PLATFORM roles are created and edited by platform admins only, and
// ORGANIZATION roles are capped below auth.LevelPlatformAdmin. Actors below
// platform admin cannot grant a permission they do not hold themselves.
//
// # Usage
//
//	resolver := rbac.NewResolver(rbac.NewStore(db))
//
//	ok, err := resolver.EffectivePermission(ctx, roleID, menuID, auth.ActionUpdate)
//
//	menus, err := resolver.UserMenus(ctx, userID, orgID)
//
//	err = resolver.ReplaceRolePermissions(ctx, principal, roleID, []rbac.PermissionInput{
//		{MenuID: 3, Actions: auth.Actions{Read: true, Update: true}},
//	})
package rbac
