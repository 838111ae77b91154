package flows

import "context"

// LogoutResult reports what a logout changed.
type LogoutResult struct {
	Failure FailureKind
	Err     error
	Key     string
	Revoked bool
}

// RunLogout drops the stored pair for principal in clientAddr and marks the
// presented access token revoked for the rest of its natural lifetime.
// Repeating the call is harmless: the delete is idempotent and the marker
// is simply rewritten with the shorter remaining TTL.
func RunLogout(ctx context.Context, accessToken, principal, clientAddr string, deps *Deps) LogoutResult {
	key := deps.pairKey(principal, clientAddr)

	if err := deps.Store.Delete(ctx, key); err != nil {
		return LogoutResult{Failure: FailureStoreUnavailable, Err: err, Key: key}
	}

	revoked, err := revokeAccess(ctx, accessToken, deps)
	if err != nil {
		return LogoutResult{Failure: FailureStoreUnavailable, Err: err, Key: key}
	}

	return LogoutResult{Key: key, Revoked: revoked}
}
