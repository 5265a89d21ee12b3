// Package tokens mints and verifies session credentials.
//
// Access tokens are stateless HS256 JWTs carrying type=access and a short
// lifetime; they cannot be revoked before they expire. Refresh tokens are
// HS256 JWTs carrying type=refresh and a session id, backed by a row in the
// sessions table that makes revocation possible. Both types share one signing
// key, so every verifier checks the type claim.
//
// One-time tokens (email verification, password reset) are opaque random
// strings whose validity lives entirely in the one_time_tokens table. They
// are deleted when redeemed, before their expiry is evaluated.
package tokens
