package flows

import (
	"context"
	"errors"

	"github.com/greensec/rtauth/jwt"
	"github.com/greensec/rtauth/session"
)

// LoginResult carries the issued pair or failure metadata.
type LoginResult struct {
	Failure    FailureKind
	Err        error
	Key        string
	Pair       session.Pair
	Superseded bool
}

// RunLogin issues a fresh pair for principal in the client context and
// stores it as the only current pair for that key. A pair already stored at
// the key is superseded: its access token is revoked and the key replaced.
func RunLogin(ctx context.Context, principal string, roles []string, clientAddr string, deps *Deps) LoginResult {
	key := deps.pairKey(principal, clientAddr)

	superseded := false
	existing, err := deps.Store.Get(ctx, key)
	switch {
	case err == nil:
		if prev, decodeErr := session.DecodePair(existing); decodeErr == nil {
			if _, err := revokeAccess(ctx, prev.AccessToken, deps); err != nil {
				return LoginResult{Failure: FailureStoreUnavailable, Err: err, Key: key}
			}
		}
		if err := deps.Store.Delete(ctx, key); err != nil {
			return LoginResult{Failure: FailureStoreUnavailable, Err: err, Key: key}
		}
		superseded = true
	case errors.Is(err, session.ErrNotFound):
	default:
		return LoginResult{Failure: FailureStoreUnavailable, Err: err, Key: key}
	}

	access, err := deps.Signer.Issue(principal, roles, deps.AccessTTL, jwt.KeyAccess)
	if err != nil {
		return LoginResult{Failure: FailureIssue, Err: err, Key: key}
	}
	refresh, err := deps.Signer.Issue(principal, roles, deps.RefreshTTL, jwt.KeyRefresh)
	if err != nil {
		return LoginResult{Failure: FailureIssue, Err: err, Key: key}
	}

	pair := session.Pair{AccessToken: access, RefreshToken: refresh}
	value, err := session.EncodePair(pair)
	if err != nil {
		return LoginResult{Failure: FailureIssue, Err: err, Key: key}
	}
	// The pair's lifetime is bounded by the refresh token's own expiry,
	// checked at use time, so the key carries no TTL.
	if err := deps.Store.Set(ctx, key, value); err != nil {
		return LoginResult{Failure: FailureStoreUnavailable, Err: err, Key: key}
	}

	return LoginResult{Key: key, Pair: pair, Superseded: superseded}
}
