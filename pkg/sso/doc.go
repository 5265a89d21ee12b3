// Package sso bridges sign-ins from the parent platform into local sessions.
//
// # Flow
//
//  1. The platform sends the browser to GET /sso/platform?token=<jwt>.
//  2. The token's signature is checked against the platform JWKS (cached for
//     a few minutes, refetched once on an unknown key id), then its issuer,
//     audience and expiry.
//  3. The user (by email), organization (by slug) and membership are found
//     or created in one transaction. New members get the default role.
//  4. A token pair is issued exactly as for a password login and stored
//     behind a random exchange code that lives about a minute.
//  5. The browser is redirected to the callback with ?code=, and the callback
//     calls POST /sso/exchange once to collect the pair.
//
// A code is removed from its store before its expiry is checked, so it is
// redeemed at most once. MemoryExchangeStore requires the redemption to land
// on the issuing instance; RedisExchangeStore lifts that restriction.
package sso
