// Package auth holds the identity primitives shared across tenantry.
//
// # Overview
//
// The package owns credential hashing, the core identity records (users,
// organizations, memberships), the role level ordering, and the Principal that
// every authenticated request carries. It has no storage of its own; the
// tokens, apikeys, rbac and orgs packages build on it.
//
// # Credential Hashing
//
// Passwords and API key secrets are hashed with bcrypt:
//
//	hash, err := auth.HashPassword("correct horse battery staple")
//	if err := auth.CheckPassword(hash, candidate); err != nil {
//		// wrong password
//	}
//
// Login flows that look up a user by email call CompareDummy when the email is
// unknown so that both branches spend the same bcrypt work.
//
// # Role Levels
//
// Role levels form a total order. LevelPlatformAdmin is the threshold for
// cross-tenant authority:
//
//	auth.Level(95).IsPlatformAdmin() // true
//	auth.LevelOrgAdmin.CanGrant(auth.LevelMember) // true
//
// # Principal
//
// Bearer tokens and API keys both resolve to the same Principal shape:
//
//	p := auth.FromContext(r.Context())
//	if p == nil {
//		// unauthenticated
//	}
//	if !p.Can("projects", auth.ActionUpdate) {
//		// forbidden
//	}
//
// The Method field records which credential established the identity.
//
// # Security Audit Logging
//
// AuditLogger writes structured security events (login success and failure,
// key creation and revocation, invitation transitions) through the
// observability logger. Secrets never appear in audit fields.
package auth
