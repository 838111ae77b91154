package flows

import (
	"context"
	"errors"
	"time"

	"github.com/greensec/rtauth/jwt"
	"github.com/greensec/rtauth/session"
)

// FailureKind classifies flow failures for root-level mapping, logging and
// metrics. Callers of the engine never see these distinctions directly.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureMalformed
	FailureInvalidSignature
	FailureExpired
	FailureRevoked
	FailureNoSession
	FailureSessionMismatch
	FailureConflict
	FailureStoreUnavailable
	FailureIssue
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureMalformed:
		return "malformed"
	case FailureInvalidSignature:
		return "invalid_signature"
	case FailureExpired:
		return "expired"
	case FailureRevoked:
		return "revoked"
	case FailureNoSession:
		return "no_session"
	case FailureSessionMismatch:
		return "session_mismatch"
	case FailureConflict:
		return "conflict"
	case FailureStoreUnavailable:
		return "store_unavailable"
	case FailureIssue:
		return "issue"
	default:
		return "unknown"
	}
}

// TokenSigner is the subset of *jwt.Manager the flows use.
type TokenSigner interface {
	Issue(principal string, roles []string, ttl time.Duration, class jwt.KeyClass) (string, error)
	Verify(token string, class jwt.KeyClass) (*jwt.Claims, error)
	ExpiresAt(token string, class jwt.KeyClass) (time.Time, error)
}

// Deps groups the collaborators shared by every lifecycle flow. The root
// engine builds this once and passes it to each Run* call.
type Deps struct {
	Signer           TokenSigner
	Store            session.KV
	Namespace        string
	RevocationPrefix string
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	Now              func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Deps) pairKey(principal, clientAddr string) string {
	return session.PairKey(d.Namespace, principal, clientAddr)
}

// verifyFailure maps a jwt verification error to a FailureKind.
func verifyFailure(err error) FailureKind {
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return FailureExpired
	case errors.Is(err, jwt.ErrInvalidSignature):
		return FailureInvalidSignature
	default:
		return FailureMalformed
	}
}

// storeFailure maps a session store error to a FailureKind.
func storeFailure(err error) FailureKind {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return FailureNoSession
	case errors.Is(err, session.ErrCorruptPair):
		return FailureSessionMismatch
	default:
		return FailureStoreUnavailable
	}
}

// revokeAccess writes a revocation marker for token that lives exactly as
// long as the token would have. Expired or unparsable tokens need no
// marker and report false.
func revokeAccess(ctx context.Context, token string, deps *Deps) (bool, error) {
	if token == "" {
		return false, nil
	}
	exp, err := deps.Signer.ExpiresAt(token, jwt.KeyAccess)
	if err != nil {
		return false, nil
	}
	remaining := exp.Sub(deps.now())
	if remaining <= 0 {
		return false, nil
	}
	key := session.RevocationKey(deps.RevocationPrefix, token)
	if err := deps.Store.SetWithTTL(ctx, key, session.RevokedMarker, remaining); err != nil {
		return false, err
	}
	return true, nil
}
