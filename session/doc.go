// Package session adapts an external key-value store (Redis) to the small
// capability set the token lifecycle needs: get, set, set-with-TTL, delete
// and an atomic compare-and-swap.
//
// # Keys
//
// The current token pair for a client context lives at
// "RT(<namespace>):<principal>:<clientAddress>" with no expiry. Revocation
// markers live at the literal access token (optionally prefixed) with a TTL
// equal to the token's remaining lifetime.
//
// # What this package must NOT do
//
//   - Parse or verify tokens.
//   - Hold in-process state shared between requests.
package session
