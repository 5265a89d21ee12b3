package auth

// Menu slugs that handlers gate on. The seed catalog defines the full menu tree.
const (
	MenuDashboard     = "dashboard"
	MenuProjects      = "projects"
	MenuMembers       = "members"
	MenuInvitations   = "invitations"
	MenuRoles         = "roles"
	MenuAPIKeys       = "api_keys"
	MenuFeatureFlags  = "feature_flags"
	MenuSettings      = "settings"
	MenuOrganizations = "platform_organizations"
	MenuPlatformFlags = "platform_feature_flags"
)
