package flags

import "time"

// Flag is a platform-wide feature flag definition
type Flag struct {
	ID             int64  `json:"id"`
	Key            string `json:"key"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	DefaultEnabled bool   `json:"default_enabled"`
}

// Override is an organization's stored override row for one flag
type Override struct {
	OrganizationID  int64     `json:"organization_id"`
	FlagID          int64     `json:"flag_id"`
	PlatformEnabled bool      `json:"platform_enabled"`
	OrgEnabled      bool      `json:"org_enabled"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// OrgFlag shows every layer that went into an organization's flag value.
// Override is nil when the organization has never written the flag.
type OrgFlag struct {
	Flag            Flag      `json:"flag"`
	Override        *Override `json:"override"`
	PlatformEnabled bool      `json:"platform_enabled"`
	OrgEnabled      bool      `json:"org_enabled"`
	Effective       bool      `json:"effective"`
}

// UpdateInput changes one or both layers of an override. Nil fields keep their value.
type UpdateInput struct {
	PlatformEnabled *bool `json:"platform_enabled,omitempty"`
	OrgEnabled      *bool `json:"org_enabled,omitempty"`
}

// Resolve computes the effective value. A missing override falls back to
// (flag.DefaultEnabled, true).
func Resolve(flag Flag, override *Override) OrgFlag {
	out := OrgFlag{
		Flag:            flag,
		Override:        override,
		PlatformEnabled: flag.DefaultEnabled,
		OrgEnabled:      true,
	}
	if override != nil {
		out.PlatformEnabled = override.PlatformEnabled
		out.OrgEnabled = override.OrgEnabled
	}
	out.Effective = out.PlatformEnabled && out.OrgEnabled
	return out
}
