package rtauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	internalaudit "github.com/greensec/rtauth/internal/audit"
	"github.com/greensec/rtauth/internal/flows"
	"github.com/greensec/rtauth/internal/rate"
	"github.com/greensec/rtauth/jwt"
	"github.com/greensec/rtauth/mfa"
)

// Engine issues, rotates, revokes and validates session-bound token pairs.
//
// An Engine is immutable after [Builder.Build] and safe for concurrent use.
// All shared state lives in the session store.
type Engine struct {
	config       Config
	signer       *jwt.Manager
	deps         *flows.Deps
	userProvider UserProvider
	passwords    PasswordChecker
	secondFactor *mfa.Verifier
	throttle     *rate.Limiter
	audit        *internalaudit.Dispatcher
	metrics      *Metrics
	logger       *slog.Logger
	now          func() time.Time
}

// Close flushes and stops the audit dispatcher. It does not close the
// session store.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped returns how many audit events were dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return NewMetrics(MetricsConfig{}).Snapshot()
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) ready() bool {
	return e != nil && e.deps != nil && e.signer != nil
}

func validPrincipal(principal string) bool {
	return principal != "" && !strings.Contains(principal, ":")
}

// Login issues a fresh pair for principal in the client context identified
// by clientAddr and makes it the only live pair for that context. A pair
// already live there is superseded and its access token revoked.
func (e *Engine) Login(ctx context.Context, principal string, roles []string, clientAddr string) (*TokenPair, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if !validPrincipal(principal) {
		return nil, ErrInvalidPrincipal
	}

	res := flows.RunLogin(ctx, principal, roles, clientAddr, e.deps)
	if res.Failure != flows.FailureNone {
		e.metrics.Inc(MetricLoginFailure)
		e.emitAudit(ctx, internalaudit.EventLogin, false, principal, clientAddr, res.Failure.String(), nil)
		if res.Failure == flows.FailureStoreUnavailable {
			e.storeDown(ctx, "login", res.Err)
			return nil, ErrStoreUnavailable
		}
		return nil, fmt.Errorf("issue tokens: %w", res.Err)
	}

	e.metrics.Inc(MetricLoginSuccess)
	if res.Superseded {
		e.metrics.Inc(MetricLoginSuperseded)
	}
	e.emitAudit(ctx, internalaudit.EventLogin, true, principal, clientAddr, "", func() map[string]string {
		if !res.Superseded {
			return nil
		}
		return map[string]string{"superseded": "true"}
	})
	e.logger.DebugContext(ctx, "login", "principal", principal, "client_addr", clientAddr, "superseded", res.Superseded)

	return &TokenPair{AccessToken: res.Pair.AccessToken, RefreshToken: res.Pair.RefreshToken}, nil
}

// LoginWithPassword signs in the user behind identifier. Unknown users and
// wrong passwords are indistinguishable to the caller. Repeated failures for
// one identifier are throttled.
func (e *Engine) LoginWithPassword(ctx context.Context, identifier, plain, clientAddr string) (*TokenPair, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if e.userProvider == nil {
		return nil, ErrUserProviderMissing
	}
	if err := e.checkThrottle(ctx, scopePassword, identifier, clientAddr); err != nil {
		return nil, err
	}

	user, err := e.userProvider.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.metrics.Inc(MetricPasswordLoginFailure)
			e.recordFailure(ctx, scopePassword, identifier, clientAddr)
			e.emitAudit(ctx, internalaudit.EventLoginPassword, false, "", clientAddr, "unknown_identifier", nil)
			return nil, ErrInvalidCredentials
		}
		e.logger.WarnContext(ctx, "user lookup failed", "error", err)
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if !e.passwords.Check(plain, user.PasswordHash) {
		e.metrics.Inc(MetricPasswordLoginFailure)
		e.recordFailure(ctx, scopePassword, identifier, clientAddr)
		e.emitAudit(ctx, internalaudit.EventLoginPassword, false, user.PrincipalID, clientAddr, "password_mismatch", nil)
		return nil, ErrInvalidCredentials
	}
	e.resetThrottle(ctx, scopePassword, identifier)

	var roles []string
	if user.Role != "" {
		roles = []string{user.Role}
	}
	return e.Login(ctx, user.PrincipalID, roles, clientAddr)
}

// Refresh rotates the access token of the pair live in clientAddr. Both
// presented tokens must equal the stored pair. The refresh token is returned
// unchanged. Every verification or session failure yields
// ErrReauthenticate; an unreachable store yields ErrStoreUnavailable.
func (e *Engine) Refresh(ctx context.Context, accessToken, refreshToken, clientAddr string) (*TokenPair, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	res := flows.RunRefresh(ctx, accessToken, refreshToken, clientAddr, e.deps)
	if res.Failure != flows.FailureNone {
		e.metrics.Inc(MetricRefreshFailure)
		if res.Failure == flows.FailureConflict {
			e.metrics.Inc(MetricRefreshConflict)
		}
		e.emitAudit(ctx, internalaudit.EventRefresh, false, res.Principal, clientAddr, res.Failure.String(), nil)
		if res.Failure == flows.FailureStoreUnavailable {
			e.storeDown(ctx, "refresh", res.Err)
			return nil, ErrStoreUnavailable
		}
		if res.Failure == flows.FailureIssue {
			return nil, fmt.Errorf("issue tokens: %w", res.Err)
		}
		e.logger.DebugContext(ctx, "refresh rejected", "reason", res.Failure.String(), "principal", res.Principal, "client_addr", clientAddr)
		return nil, ErrReauthenticate
	}

	if res.RevokeErr != nil {
		e.logger.WarnContext(ctx, "superseded access token not revoked", "principal", res.Principal, "error", res.RevokeErr)
	} else if res.Revoked {
		e.metrics.Inc(MetricRevocationMarkerWritten)
	}
	e.metrics.Inc(MetricRefreshSuccess)
	e.emitAudit(ctx, internalaudit.EventRefresh, true, res.Principal, clientAddr, "", nil)

	return &TokenPair{AccessToken: res.Pair.AccessToken, RefreshToken: res.Pair.RefreshToken}, nil
}

// Logout ends the session of principal in clientAddr and revokes the
// presented access token for the rest of its lifetime. Expired or
// unparsable tokens need no revocation. Logging out twice is harmless.
func (e *Engine) Logout(ctx context.Context, accessToken, principal, clientAddr string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if !validPrincipal(principal) {
		return ErrInvalidPrincipal
	}

	res := flows.RunLogout(ctx, accessToken, principal, clientAddr, e.deps)
	if res.Failure != flows.FailureNone {
		e.emitAudit(ctx, internalaudit.EventLogout, false, principal, clientAddr, res.Failure.String(), nil)
		e.storeDown(ctx, "logout", res.Err)
		return ErrStoreUnavailable
	}

	e.metrics.Inc(MetricLogout)
	if res.Revoked {
		e.metrics.Inc(MetricRevocationMarkerWritten)
	}
	e.emitAudit(ctx, internalaudit.EventLogout, true, principal, clientAddr, "", nil)
	return nil
}

// LogoutByAccessToken is Logout for callers that only hold the access token.
// The token must still authenticate; its subject names the principal.
func (e *Engine) LogoutByAccessToken(ctx context.Context, accessToken, clientAddr string) error {
	principal, err := e.Authenticate(ctx, accessToken)
	if err != nil {
		return err
	}
	return e.Logout(ctx, accessToken, principal.ID, clientAddr)
}

// Authenticate resolves a presented access token to its principal. A token
// carrying a revocation marker is rejected before its signature is checked,
// and an unreachable store rejects every token. Callers only ever see
// ErrUnauthenticated or ErrStoreUnavailable.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	var start time.Time
	if e.metrics.LatencyEnabled() {
		start = time.Now()
	}

	res := flows.RunAuthenticate(ctx, accessToken, e.deps)

	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricAuthenticateLatency, time.Since(start))
	}

	switch res.Failure {
	case flows.FailureNone:
	case flows.FailureStoreUnavailable:
		e.metrics.Inc(MetricAuthenticateFailure)
		e.storeDown(ctx, "authenticate", res.Err)
		return nil, ErrStoreUnavailable
	default:
		e.metrics.Inc(MetricAuthenticateFailure)
		if res.Failure == flows.FailureRevoked {
			e.metrics.Inc(MetricAuthenticateRevoked)
		}
		e.logger.DebugContext(ctx, "authentication rejected", "reason", res.Failure.String())
		e.emitAudit(ctx, internalaudit.EventAuthenticate, false, "", "", res.Failure.String(), nil)
		return nil, ErrUnauthenticated
	}

	e.metrics.Inc(MetricAuthenticateSuccess)

	p := &Principal{
		ID:    res.Claims.Subject,
		Roles: append([]string(nil), res.Claims.Roles...),
	}
	if res.Claims.ExpiresAt != nil {
		p.ExpiresAt = res.Claims.ExpiresAt.Time
	}
	return p, nil
}

// VerifySecondFactor checks code against the second-factor secret of the
// user behind identifier. Unknown identifiers and users without a secret
// both fail with ErrSecondFactorNotConfigured. Every failure counts toward
// the throttle.
func (e *Engine) VerifySecondFactor(ctx context.Context, identifier, code string) (bool, error) {
	if !e.ready() {
		return false, ErrEngineNotReady
	}
	if e.userProvider == nil {
		return false, ErrUserProviderMissing
	}
	if err := e.checkThrottle(ctx, scopeSecondFactor, identifier, ""); err != nil {
		return false, err
	}

	user, err := e.userProvider.FindByIdentifier(ctx, identifier)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return false, fmt.Errorf("lookup user: %w", err)
	}
	// Unknown identifiers look exactly like users without a secret.
	if err != nil || user.SecondFactorSecret == "" {
		e.metrics.Inc(MetricSecondFactorFailure)
		e.recordFailure(ctx, scopeSecondFactor, identifier, "")
		e.emitAudit(ctx, internalaudit.EventSecondFactor, false, user.PrincipalID, "", "not_configured", nil)
		return false, ErrSecondFactorNotConfigured
	}

	ok := e.secondFactor.Verify(user.SecondFactorSecret, code)
	if ok {
		e.metrics.Inc(MetricSecondFactorSuccess)
		e.resetThrottle(ctx, scopeSecondFactor, identifier)
	} else {
		e.metrics.Inc(MetricSecondFactorFailure)
		e.recordFailure(ctx, scopeSecondFactor, identifier, "")
	}
	e.emitAudit(ctx, internalaudit.EventSecondFactor, ok, user.PrincipalID, "", "", nil)
	return ok, nil
}

// EnrollSecondFactor generates a new secret for the user behind identifier
// and stores it, replacing any previous one. The user provider must
// implement [SecretUpdater].
func (e *Engine) EnrollSecondFactor(ctx context.Context, identifier string) (mfa.Enrollment, error) {
	if !e.ready() {
		return mfa.Enrollment{}, ErrEngineNotReady
	}
	if e.userProvider == nil {
		return mfa.Enrollment{}, ErrUserProviderMissing
	}
	updater, ok := e.userProvider.(SecretUpdater)
	if !ok {
		return mfa.Enrollment{}, ErrSecondFactorUnsupported
	}

	user, err := e.userProvider.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return mfa.Enrollment{}, ErrInvalidCredentials
		}
		return mfa.Enrollment{}, fmt.Errorf("lookup user: %w", err)
	}

	enrollment, err := e.secondFactor.Enroll(user.Identifier)
	if err != nil {
		return mfa.Enrollment{}, err
	}
	if err := updater.UpdateSecret(ctx, user.PrincipalID, enrollment.Secret); err != nil {
		return mfa.Enrollment{}, fmt.Errorf("store secret: %w", err)
	}
	e.emitAudit(ctx, internalaudit.EventSecretEnrolled, true, user.PrincipalID, "", "", nil)
	return enrollment, nil
}

const (
	scopePassword     = "password"
	scopeSecondFactor = "otp"
)

// checkThrottle fails closed when the throttle cannot be read.
func (e *Engine) checkThrottle(ctx context.Context, scope, subject, clientAddr string) error {
	if e.throttle == nil {
		return nil
	}
	err := e.throttle.Check(ctx, scope, subject, clientAddr)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited):
		e.metrics.Inc(MetricThrottled)
		e.logger.InfoContext(ctx, "attempt throttled", "scope", scope, "client_addr", clientAddr)
		return ErrThrottled
	default:
		e.storeDown(ctx, "throttle", err)
		return ErrStoreUnavailable
	}
}

func (e *Engine) recordFailure(ctx context.Context, scope, subject, clientAddr string) {
	if e.throttle == nil {
		return
	}
	if err := e.throttle.Fail(ctx, scope, subject, clientAddr); err != nil {
		e.logger.WarnContext(ctx, "failure not recorded", "scope", scope, "error", err)
	}
}

func (e *Engine) resetThrottle(ctx context.Context, scope, subject string) {
	if e.throttle == nil {
		return
	}
	if err := e.throttle.Reset(ctx, scope, subject); err != nil {
		e.logger.WarnContext(ctx, "throttle not reset", "scope", scope, "error", err)
	}
}

func (e *Engine) storeDown(ctx context.Context, op string, err error) {
	e.metrics.Inc(MetricStoreUnavailable)
	e.logger.WarnContext(ctx, "session store unavailable", "op", op, "error", err)
}
