package rtauth

import "errors"

var (
	// ErrUnauthenticated is returned by Authenticate for any token that is
	// missing, malformed, forged, expired or revoked.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrReauthenticate is returned by Refresh when the presented pair can no
	// longer be rotated and the caller must sign in again.
	ErrReauthenticate = errors.New("reauthentication required")
	// ErrStoreUnavailable is returned when the session store cannot be reached.
	// Authentication fails closed on this error.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrInvalidCredentials is returned by LoginWithPassword for an unknown
	// identifier or a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound is returned by a UserProvider when no user matches.
	ErrUserNotFound = errors.New("user not found")
	// ErrSecondFactorNotConfigured is returned when the user has no
	// second-factor secret on record.
	ErrSecondFactorNotConfigured = errors.New("second factor not configured")
	// ErrSecondFactorUnsupported is returned by EnrollSecondFactor when the
	// user provider cannot persist secrets.
	ErrSecondFactorUnsupported = errors.New("user provider cannot store second-factor secrets")
	// ErrEngineNotReady is returned when an Engine method is called on a nil
	// or partially built engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrInvalidPrincipal is returned by Login and Logout for an empty
	// principal id or one containing ':'.
	ErrInvalidPrincipal = errors.New("invalid principal")
	// ErrThrottled is returned by LoginWithPassword and VerifySecondFactor
	// after too many recent failures.
	ErrThrottled = errors.New("too many failed attempts")
	// ErrUserProviderMissing is returned by operations that need a
	// UserProvider when none was configured.
	ErrUserProviderMissing = errors.New("user provider not configured")
)
