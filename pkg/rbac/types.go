package rbac

import (
	"regexp"
	"time"

	"github.com/platinummonkey/tenantry/pkg/auth"
)

// Scope determines where a role can be assigned
type Scope string

const (
	ScopePlatform     Scope = "PLATFORM"
	ScopeOrganization Scope = "ORGANIZATION"
)

// Valid reports whether the scope is known
func (s Scope) Valid() bool {
	return s == ScopePlatform || s == ScopeOrganization
}

// Section groups menus. Sections are listed in this order.
type Section string

const (
	SectionMain          Section = "MAIN"
	SectionAdmin         Section = "ADMIN"
	SectionPlatformAdmin Section = "PLATFORM_ADMIN"
)

var sectionRank = map[Section]int{
	SectionMain:          0,
	SectionAdmin:         1,
	SectionPlatformAdmin: 2,
}

// Rank returns the position of the section in menu listings
func (s Section) Rank() int {
	if r, ok := sectionRank[s]; ok {
		return r
	}
	return len(sectionRank)
}

var slugPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{1,49}$`)

// Role is a named permission bundle with a privilege level
type Role struct {
	ID             int64      `json:"id"`
	Slug           string     `json:"slug"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	Level          auth.Level `json:"level"`
	Scope          Scope      `json:"scope"`
	OrganizationID *int64     `json:"organization_id,omitempty"`
	BaseRoleID     *int64     `json:"base_role_id,omitempty"`
	IsBuiltIn      bool       `json:"is_built_in"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Ref returns the compact role reference carried by a principal
func (r *Role) Ref() *auth.RoleRef {
	return &auth.RoleRef{ID: r.ID, Slug: r.Slug, Level: r.Level}
}

// VisibleTo reports whether the role can be seen from inside orgID. Platform
// roles are visible everywhere.
func (r *Role) VisibleTo(orgID int64) bool {
	return r.OrganizationID == nil || *r.OrganizationID == orgID
}

// Menu is an addressable surface that permissions are granted against
type Menu struct {
	ID        int64   `json:"id"`
	Slug      string  `json:"slug"`
	Name      string  `json:"name"`
	Section   Section `json:"section"`
	SortOrder int     `json:"sort_order"`
	ParentID  *int64  `json:"parent_id,omitempty"`
	Path      string  `json:"path,omitempty"`
}

// Permission is one explicit role_permissions row
type Permission struct {
	RoleID   int64  `json:"role_id"`
	MenuID   int64  `json:"menu_id"`
	MenuSlug string `json:"menu_slug"`
	auth.Actions
}

// MatrixEntry is one menu of a role's full permission matrix. Explicit is
// false when no row exists and every action falls back to false.
type MatrixEntry struct {
	Menu     Menu `json:"menu"`
	Explicit bool `json:"explicit"`
	auth.Actions
}

// PermissionInput is one row of a replacement matrix
type PermissionInput struct {
	MenuID int64 `json:"menu_id"`
	auth.Actions
}

// CreateRoleInput describes a new role
type CreateRoleInput struct {
	Slug           string     `json:"slug"`
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	Level          auth.Level `json:"level"`
	Scope          Scope      `json:"scope"`
	OrganizationID *int64     `json:"organization_id,omitempty"`
	BaseRoleID     *int64     `json:"base_role_id,omitempty"`
}

// UpdateRoleInput holds the mutable role fields. Nil fields are left unchanged.
type UpdateRoleInput struct {
	Name        *string     `json:"name,omitempty"`
	Description *string     `json:"description,omitempty"`
	Level       *auth.Level `json:"level,omitempty"`
}
