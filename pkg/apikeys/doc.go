// Package apikeys issues and validates organization-scoped API keys.
//
// A key looks like tnt_<32 url-safe characters>. Only a bcrypt hash and a
// display prefix (the first 12 characters followed by "...") are stored, so
// the plaintext is visible exactly once, in the response to Create.
//
// Validation narrows candidates by display prefix and then compares the
// hash of each one. The prefix is not unique; collisions only cost extra
// comparisons.
package apikeys
