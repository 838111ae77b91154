package flows

import (
	"context"
	"errors"

	"github.com/greensec/rtauth/jwt"
	"github.com/greensec/rtauth/session"
)

// RefreshResult carries either the rotated pair or failure metadata.
type RefreshResult struct {
	Failure   FailureKind
	Err       error
	Principal string
	Key       string
	Pair      session.Pair
	// Revoked reports whether a marker was written for the superseded
	// access token. An already expired token needs none.
	Revoked bool
	// RevokeErr is set when the rotation succeeded but the superseded
	// access token could not be marked revoked.
	RevokeErr error
}

// RunRefresh rotates the access token of the pair stored for the refresh
// token's principal in clientAddr. The presented pair must match the stored
// one exactly. The refresh token itself is carried over unchanged.
//
// The stored value is replaced with a compare-and-swap so that of several
// concurrent refreshes presenting the same pair exactly one wins.
func RunRefresh(ctx context.Context, accessToken, refreshToken, clientAddr string, deps *Deps) RefreshResult {
	claims, err := deps.Signer.Verify(refreshToken, jwt.KeyRefresh)
	if err != nil {
		return RefreshResult{Failure: verifyFailure(err), Err: err}
	}

	principal := claims.Subject
	key := deps.pairKey(principal, clientAddr)

	stored, err := deps.Store.Get(ctx, key)
	if err != nil {
		return RefreshResult{Failure: storeFailure(err), Err: err, Principal: principal, Key: key}
	}
	current, err := session.DecodePair(stored)
	if err != nil {
		return RefreshResult{Failure: FailureSessionMismatch, Err: err, Principal: principal, Key: key}
	}
	if !current.Matches(accessToken, refreshToken) {
		return RefreshResult{Failure: FailureSessionMismatch, Principal: principal, Key: key}
	}

	access, err := deps.Signer.Issue(principal, claims.Roles, deps.AccessTTL, jwt.KeyAccess)
	if err != nil {
		return RefreshResult{Failure: FailureIssue, Err: err, Principal: principal, Key: key}
	}

	next := session.Pair{AccessToken: access, RefreshToken: current.RefreshToken}
	value, err := session.EncodePair(next)
	if err != nil {
		return RefreshResult{Failure: FailureIssue, Err: err, Principal: principal, Key: key}
	}

	swapped, err := deps.Store.CompareAndSwap(ctx, key, stored, value)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return RefreshResult{Failure: FailureNoSession, Err: err, Principal: principal, Key: key}
		}
		return RefreshResult{Failure: FailureStoreUnavailable, Err: err, Principal: principal, Key: key}
	}
	if !swapped {
		return RefreshResult{Failure: FailureConflict, Principal: principal, Key: key}
	}

	result := RefreshResult{Principal: principal, Key: key, Pair: next}
	revoked, err := revokeAccess(ctx, current.AccessToken, deps)
	if err != nil {
		result.RevokeErr = err
	}
	result.Revoked = revoked
	return result
}
