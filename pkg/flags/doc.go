// Package flags resolves feature flags for organizations.
//
// Each flag has a platform default. An organization may hold one override
// row carrying two switches: platform_enabled, which only platform admins can
// change, and org_enabled, which the organization controls. The effective
// value is
//
//	platform_enabled AND org_enabled
//
// where a missing override reads as (flag.default_enabled, true). An
// organization cannot turn a flag on above the platform ceiling: setting
// org_enabled=true fails with Forbidden while the post-update
// platform_enabled is false.
package flags
