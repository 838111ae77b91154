package flows

import (
	"context"
	"errors"

	"github.com/greensec/rtauth/jwt"
	"github.com/greensec/rtauth/session"
)

// AuthenticateResult returns either verified claims or a classified failure.
type AuthenticateResult struct {
	Failure FailureKind
	Err     error
	Claims  *jwt.Claims
}

// RunAuthenticate rejects revoked tokens before checking signature and
// expiry with the access key. A revocation lookup that cannot reach the
// store fails closed.
func RunAuthenticate(ctx context.Context, accessToken string, deps *Deps) AuthenticateResult {
	if accessToken == "" {
		return AuthenticateResult{Failure: FailureMalformed, Err: jwt.ErrMalformed}
	}

	_, err := deps.Store.Get(ctx, session.RevocationKey(deps.RevocationPrefix, accessToken))
	switch {
	case err == nil:
		return AuthenticateResult{Failure: FailureRevoked}
	case errors.Is(err, session.ErrNotFound):
	default:
		return AuthenticateResult{Failure: FailureStoreUnavailable, Err: err}
	}

	claims, err := deps.Signer.Verify(accessToken, jwt.KeyAccess)
	if err != nil {
		return AuthenticateResult{Failure: verifyFailure(err), Err: err}
	}
	return AuthenticateResult{Claims: claims}
}
