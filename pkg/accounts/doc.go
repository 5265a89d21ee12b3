// Package accounts implements registration, password sign-in and credential
// recovery on top of pkg/auth hashing and pkg/tokens.
//
// # Sign-in
//
// Login fails with the same "invalid credentials" error whether the email is
// unknown, the account is inactive or the password is wrong. The unknown
// email branch still runs a bcrypt comparison.
//
// Refresh verifies the refresh session and mints a new access token. The
// refresh token is not rotated.
//
// # Recovery
//
// Email verification and password reset use one-time tokens. A reset stores
// the new hash and revokes every session of the user, as does a password
// change. RequestPasswordReset answers the same way for every email.
//
//	svc := accounts.NewService(accounts.NewStore(db), tokenService,
//		accounts.WithNotifier(mailer), accounts.WithMetrics(metrics))
//	accounts.NewHandlers(svc, audit).RegisterPublicRoutes(public)
package accounts
