package apikeys

import (
	"time"

	"github.com/platinummonkey/tenantry/pkg/auth"
)

// APIKey is the stored metadata of a key. The hash never leaves the package.
type APIKey struct {
	ID             string     `json:"id"`
	OrganizationID int64      `json:"organization_id"`
	Name           string     `json:"name"`
	KeyHash        string     `json:"-"`
	DisplayPrefix  string     `json:"display_prefix"`
	CreatedBy      int64      `json:"created_by"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	IsActive       bool       `json:"is_active"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Expired reports whether the key has an expiry at or before now
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

// CreateRequest is the input to Create
type CreateRequest struct {
	Name      string     `json:"name"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// CreatedKey carries the only copy of the plaintext key
type CreatedKey struct {
	*APIKey
	Key string `json:"key"`
}

// Validated is the identity behind a valid key
type Validated struct {
	Key          *APIKey
	Organization *auth.Organization
	Creator      *auth.User
}
