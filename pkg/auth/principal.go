package auth

import (
	"context"

	"github.com/platinummonkey/tenantry/pkg/contextkeys"
)

// Method identifies how a request authenticated
type Method string

const (
	MethodBearer Method = "bearer"
	MethodAPIKey Method = "api_key"
)

// Action is one of the four CRUD verbs a permission row grants
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Valid reports whether the action is one of the CRUD verbs
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// Actions is the CRUD grant for one menu
type Actions struct {
	Create bool `json:"can_create"`
	Read   bool `json:"can_read"`
	Update bool `json:"can_update"`
	Delete bool `json:"can_delete"`
}

// Allows reports whether the grant covers the action
func (a Actions) Allows(action Action) bool {
	switch action {
	case ActionCreate:
		return a.Create
	case ActionRead:
		return a.Read
	case ActionUpdate:
		return a.Update
	case ActionDelete:
		return a.Delete
	}
	return false
}

// PermissionSet maps menu slug to its grant. A missing slug grants nothing.
type PermissionSet map[string]Actions

// Allows reports whether the set grants action on menu
func (ps PermissionSet) Allows(menu string, action Action) bool {
	if ps == nil {
		return false
	}
	return ps[menu].Allows(action)
}

// RoleRef is the role a principal acts under inside its organization
type RoleRef struct {
	ID    int64  `json:"id"`
	Slug  string `json:"slug"`
	Level Level  `json:"level"`
}

// Principal is the result of authenticating a request, whichever credential
// was presented.
type Principal struct {
	Method       Method        `json:"method"`
	User         *User         `json:"user"`
	Organization *Organization `json:"organization,omitempty"`
	Role         *RoleRef      `json:"role,omitempty"`
	Permissions  PermissionSet `json:"permissions"`

	// APIKeyID is set when Method is MethodAPIKey
	APIKeyID string `json:"api_key_id,omitempty"`
}

// UserID returns the authenticated user's id, or 0
func (p *Principal) UserID() int64 {
	if p == nil || p.User == nil {
		return 0
	}
	return p.User.ID
}

// OrganizationID returns the principal's organization id, or 0
func (p *Principal) OrganizationID() int64 {
	if p == nil || p.Organization == nil {
		return 0
	}
	return p.Organization.ID
}

// Level returns the principal's role level, or 0 without a role
func (p *Principal) Level() Level {
	if p == nil || p.Role == nil {
		return 0
	}
	return p.Role.Level
}

// IsPlatformAdmin reports whether the principal holds cross-tenant authority
func (p *Principal) IsPlatformAdmin() bool {
	return p.Level().IsPlatformAdmin()
}

// Can reports whether the principal's role grants action on menu
func (p *Principal) Can(menu string, action Action) bool {
	if p == nil {
		return false
	}
	return p.Permissions.Allows(menu, action)
}

// CanActOn reports whether the principal may operate inside orgID. Platform
// admins may act in any organization.
func (p *Principal) CanActOn(orgID int64) bool {
	if p == nil {
		return false
	}
	if p.IsPlatformAdmin() {
		return true
	}
	return p.OrganizationID() != 0 && p.OrganizationID() == orgID
}

// WithPrincipal stores the principal in the context
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	ctx = contextkeys.WithAuth(ctx, p)
	if p != nil && p.User != nil {
		ctx = contextkeys.WithUserID(ctx, p.User.ExternalID)
	}
	return ctx
}

// FromContext returns the principal stored by the authentication middleware
func FromContext(ctx context.Context) *Principal {
	p, ok := ctx.Value(contextkeys.AuthKey).(*Principal)
	if !ok {
		return nil
	}
	return p
}
