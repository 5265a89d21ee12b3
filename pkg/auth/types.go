package auth

import (
	"regexp"
	"time"
)

// User represents a person who can sign in
type User struct {
	ID            int64      `json:"id"`
	ExternalID    string     `json:"external_id"`
	Email         string     `json:"email"`
	Name          string     `json:"name,omitempty"`
	PasswordHash  string     `json:"-"`
	IsActive      bool       `json:"is_active"`
	EmailVerified bool       `json:"email_verified"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Organization is the tenant boundary
type Organization struct {
	ID                     int64                  `json:"id"`
	ExternalID             string                 `json:"external_id"`
	Slug                   string                 `json:"slug"`
	Name                   string                 `json:"name"`
	IsPlatformOrganization bool                   `json:"is_platform_organization"`
	Config                 map[string]interface{} `json:"config,omitempty"`
	IsActive               bool                   `json:"is_active"`
	CreatedAt              time.Time              `json:"created_at"`
	UpdatedAt              time.Time              `json:"updated_at"`
}

// MaxOrgSlugLength matches the organizations.slug column
const MaxOrgSlugLength = 100

var orgSlugPattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]*[a-z0-9])?$`)

// ValidOrgSlug reports whether s can name an organization: lowercase letters,
// digits and inner dashes.
func ValidOrgSlug(s string) bool {
	return len(s) <= MaxOrgSlugLength && orgSlugPattern.MatchString(s)
}

// ConfigBool reads a boolean from the organization config map
func (o *Organization) ConfigBool(key string, defaultValue bool) bool {
	if o == nil || o.Config == nil {
		return defaultValue
	}
	v, ok := o.Config[key].(bool)
	if !ok {
		return defaultValue
	}
	return v
}

// Membership links a user to an organization through exactly one role
type Membership struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	OrganizationID int64     `json:"organization_id"`
	RoleID         int64     `json:"role_id"`
	RoleSlug       string    `json:"role_slug"`
	RoleLevel      Level     `json:"role_level"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
}

// ClientMetadata describes the client a session was issued to
type ClientMetadata struct {
	UserAgent string `json:"user_agent,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
}
