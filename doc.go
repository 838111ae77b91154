// Package rtauth issues, rotates, revokes and validates session-bound
// access/refresh token pairs.
//
// A pair is bound to one client context: the principal and the client
// address it signed in from. The stored pair lives in an external key-value
// store (Redis through [session.Store]) under RT(<namespace>):<principal>:<addr>.
// Access tokens are short-lived; the refresh token is never rotated and only
// buys new access tokens while the stored pair still matches what the
// client presents.
//
// Revocation is recorded as a marker keyed by the access token itself, kept
// for the token's remaining lifetime. [Engine.Authenticate] checks the
// marker before the signature and fails closed when the store is
// unreachable.
//
// Build an [Engine] once through [New] and [Builder.Build]; it is safe for
// concurrent use afterwards.
package rtauth
