// Package middleware adapts rtauth.Engine to net/http.
//
//   - [ExtractToken] pulls the credential out of an Authorization header.
//   - [Guard] authenticates it and injects the principal into the request context.
//   - [RequireRole] gates a handler on a role carried in the token.
//   - [ClientAddress] derives the client context used to key sessions.
//
// All decisions are delegated to the engine; this package never parses
// tokens or touches the session store.
package middleware
