package flows

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/greensec/rtauth/jwt"
	"github.com/greensec/rtauth/session"
	"github.com/redis/go-redis/v9"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func newFlowDeps(t *testing.T) (*Deps, *miniredis.Miniredis, *testClock, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	clock := &testClock{now: time.Now()}
	signer, err := jwt.NewManager(jwt.Config{
		AccessKey:  bytes.Repeat([]byte{1}, 32),
		RefreshKey: bytes.Repeat([]byte{2}, 32),
	}, jwt.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	deps := &Deps{
		Signer:     signer,
		Store:      session.NewStore(rdb),
		Namespace:  "Server",
		AccessTTL:  200 * time.Second,
		RefreshTTL: 15 * 24 * time.Hour,
		Now:        clock.Now,
	}
	return deps, mr, clock, func() {
		_ = rdb.Close()
		mr.Close()
	}
}

// failingKV fails every call with a store error.
type failingKV struct{}

func (failingKV) Get(context.Context, string) (string, error) {
	return "", session.ErrStoreUnavailable
}
func (failingKV) Set(context.Context, string, string) error { return session.ErrStoreUnavailable }
func (failingKV) SetWithTTL(context.Context, string, string, time.Duration) error {
	return session.ErrStoreUnavailable
}
func (failingKV) Delete(context.Context, string) error { return session.ErrStoreUnavailable }
func (failingKV) CompareAndSwap(context.Context, string, string, string) (bool, error) {
	return false, session.ErrStoreUnavailable
}

func TestRunLoginStoresPairWithoutTTL(t *testing.T) {
	deps, mr, _, done := newFlowDeps(t)
	defer done()
	ctx := context.Background()

	res := RunLogin(ctx, "42", []string{"ROLE_USER"}, "10.0.0.1", deps)
	if res.Failure != FailureNone {
		t.Fatalf("login failed: %s %v", res.Failure, res.Err)
	}
	if res.Key != "RT(Server):42:10.0.0.1" {
		t.Fatalf("unexpected key %q", res.Key)
	}
	if res.Superseded {
		t.Fatal("first login must not supersede")
	}

	raw, err := mr.Get(res.Key)
	if err != nil {
		t.Fatalf("stored pair missing: %v", err)
	}
	stored, err := session.DecodePair(raw)
	if err != nil || stored != res.Pair {
		t.Fatalf("stored pair mismatch: %+v %v", stored, err)
	}
	if ttl := mr.TTL(res.Key); ttl != 0 {
		t.Fatalf("expected no TTL on session key, got %s", ttl)
	}
}

func TestRunLoginSupersedesPreviousPair(t *testing.T) {
	deps, mr, _, done := newFlowDeps(t)
	defer done()
	ctx := context.Background()

	first := RunLogin(ctx, "42", []string{"ROLE_USER"}, "10.0.0.1", deps)
	second := RunLogin(ctx, "42", []string{"ROLE_USER"}, "10.0.0.1", deps)
	if second.Failure != FailureNone || !second.Superseded {
		t.Fatalf("expected superseding login, got %+v", second)
	}
	if !mr.Exists(first.Pair.AccessToken) {
		t.Fatal("expected superseded access token to carry a revocation marker")
	}
	if RunRefresh(ctx, first.Pair.AccessToken, first.Pair.RefreshToken, "10.0.0.1", deps).Failure != FailureSessionMismatch {
		t.Fatal("expected superseded pair to no longer refresh")
	}
}

func TestRunRefreshRotatesAccessOnly(t *testing.T) {
	deps, mr, clock, done := newFlowDeps(t)
	defer done()
	ctx := context.Background()

	login := RunLogin(ctx, "42", []string{"ROLE_USER"}, "10.0.0.1", deps)
	clock.now = clock.now.Add(5 * time.Second)

	res := RunRefresh(ctx, login.Pair.AccessToken, login.Pair.RefreshToken, "10.0.0.1", deps)
	if res.Failure != FailureNone {
		t.Fatalf("refresh failed: %s %v", res.Failure, res.Err)
	}
	if res.Pair.RefreshToken != login.Pair.RefreshToken {
		t.Fatal("refresh token must be carried over unchanged")
	}
	if res.Pair.AccessToken == login.Pair.AccessToken {
		t.Fatal("expected a new access token")
	}
	if res.Principal != "42" {
		t.Fatalf("unexpected principal %q", res.Principal)
	}

	claims, err := deps.Signer.Verify(res.Pair.AccessToken, jwt.KeyAccess)
	if err != nil {
		t.Fatalf("verify rotated access: %v", err)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "ROLE_USER" {
		t.Fatalf("roles not carried from refresh claims: %v", claims.Roles)
	}

	raw, _ := mr.Get(res.Key)
	stored, _ := session.DecodePair(raw)
	if stored != res.Pair {
		t.Fatalf("store not updated: %+v", stored)
	}
	if !mr.Exists(login.Pair.AccessToken) {
		t.Fatal("expected superseded access token to be revoked")
	}
}

func TestRunRefreshFailureKinds(t *testing.T) {
	deps, mr, clock, done := newFlowDeps(t)
	defer done()
	ctx := context.Background()

	login := RunLogin(ctx, "42", nil, "10.0.0.1", deps)

	if got := RunRefresh(ctx, login.Pair.AccessToken, "garbage", "10.0.0.1", deps).Failure; got != FailureMalformed {
		t.Fatalf("expected malformed, got %s", got)
	}
	if got := RunRefresh(ctx, login.Pair.AccessToken, login.Pair.AccessToken, "10.0.0.1", deps).Failure; got != FailureInvalidSignature {
		t.Fatalf("expected invalid signature for access token presented as refresh, got %s", got)
	}
	if got := RunRefresh(ctx, login.Pair.AccessToken, login.Pair.RefreshToken, "10.0.0.2", deps).Failure; got != FailureNoSession {
		t.Fatalf("expected no session for other address, got %s", got)
	}
	before, _ := mr.Get(login.Key)
	flipped := []byte(login.Pair.AccessToken)
	flipped[len(flipped)-1] ^= 0x01
	if got := RunRefresh(ctx, string(flipped), login.Pair.RefreshToken, "10.0.0.1", deps).Failure; got != FailureSessionMismatch {
		t.Fatalf("expected mismatch on access token with one bit flipped, got %s", got)
	}
	if after, _ := mr.Get(login.Key); after != before {
		t.Fatal("rejected refresh must leave the stored pair untouched")
	}

	mr.Set(login.Key, "{corrupt")
	if got := RunRefresh(ctx, login.Pair.AccessToken, login.Pair.RefreshToken, "10.0.0.1", deps).Failure; got != FailureSessionMismatch {
		t.Fatalf("expected corrupt session to count as mismatch, got %s", got)
	}

	clock.now = clock.now.Add(16 * 24 * time.Hour)
	if got := RunRefresh(ctx, login.Pair.AccessToken, login.Pair.RefreshToken, "10.0.0.1", deps).Failure; got != FailureExpired {
		t.Fatalf("expected expired refresh token, got %s", got)
	}
}

// racingKV swaps the stored value between the read and the swap.
type racingKV struct {
	session.KV
	interfere func()
}

func (r *racingKV) CompareAndSwap(ctx context.Context, key, old, next string) (bool, error) {
	if r.interfere != nil {
		r.interfere()
		r.interfere = nil
	}
	return r.KV.CompareAndSwap(ctx, key, old, next)
}

func TestRunRefreshLosesRaceAsConflict(t *testing.T) {
	deps, _, _, done := newFlowDeps(t)
	defer done()
	ctx := context.Background()

	login := RunLogin(ctx, "42", nil, "10.0.0.1", deps)

	base := deps.Store
	racing := &racingKV{KV: base}
	racing.interfere = func() {
		if res := RunRefresh(ctx, login.Pair.AccessToken, login.Pair.RefreshToken, "10.0.0.1", &Deps{
			Signer: deps.Signer, Store: base, Namespace: deps.Namespace,
			AccessTTL: deps.AccessTTL, RefreshTTL: deps.RefreshTTL, Now: deps.Now,
		}); res.Failure != FailureNone {
			t.Errorf("interfering refresh failed: %s", res.Failure)
		}
	}
	deps.Store = racing

	if got := RunRefresh(ctx, login.Pair.AccessToken, login.Pair.RefreshToken, "10.0.0.1", deps).Failure; got != FailureConflict {
		t.Fatalf("expected conflict for the losing refresh, got %s", got)
	}
}

func TestRunLogoutRevokesForRemainingLifetime(t *testing.T) {
	deps, mr, clock, done := newFlowDeps(t)
	defer done()
	ctx := context.Background()

	login := RunLogin(ctx, "42", nil, "10.0.0.1", deps)
	clock.now = clock.now.Add(50 * time.Second)

	res := RunLogout(ctx, login.Pair.AccessToken, "42", "10.0.0.1", deps)
	if res.Failure != FailureNone || !res.Revoked {
		t.Fatalf("logout failed: %+v", res)
	}
	if mr.Exists(login.Key) {
		t.Fatal("expected session key to be deleted")
	}
	ttl := mr.TTL(login.Pair.AccessToken)
	if ttl <= 0 || ttl > 150*time.Second {
		t.Fatalf("expected marker TTL bounded by remaining lifetime, got %s", ttl)
	}
	if v, _ := mr.Get(login.Pair.AccessToken); v != session.RevokedMarker {
		t.Fatalf("unexpected marker payload %q", v)
	}

	again := RunLogout(ctx, login.Pair.AccessToken, "42", "10.0.0.1", deps)
	if again.Failure != FailureNone {
		t.Fatalf("second logout must succeed: %+v", again)
	}
}

func TestRunLogoutSkipsMarkerForExpiredOrGarbage(t *testing.T) {
	deps, mr, clock, done := newFlowDeps(t)
	defer done()
	ctx := context.Background()

	login := RunLogin(ctx, "42", nil, "10.0.0.1", deps)
	clock.now = clock.now.Add(201 * time.Second)

	res := RunLogout(ctx, login.Pair.AccessToken, "42", "10.0.0.1", deps)
	if res.Failure != FailureNone || res.Revoked {
		t.Fatalf("expected logout without marker, got %+v", res)
	}
	if mr.Exists(login.Pair.AccessToken) {
		t.Fatal("expired token must not receive a marker")
	}

	res = RunLogout(ctx, "not-a-token", "42", "10.0.0.1", deps)
	if res.Failure != FailureNone || res.Revoked {
		t.Fatalf("expected garbage token to be ignored, got %+v", res)
	}
}

func TestRunAuthenticate(t *testing.T) {
	deps, _, clock, done := newFlowDeps(t)
	defer done()
	ctx := context.Background()

	login := RunLogin(ctx, "42", []string{"ROLE_USER"}, "10.0.0.1", deps)

	res := RunAuthenticate(ctx, login.Pair.AccessToken, deps)
	if res.Failure != FailureNone || res.Claims.Subject != "42" {
		t.Fatalf("authenticate failed: %+v", res)
	}

	if got := RunAuthenticate(ctx, "", deps).Failure; got != FailureMalformed {
		t.Fatalf("expected malformed for empty token, got %s", got)
	}
	if got := RunAuthenticate(ctx, login.Pair.RefreshToken, deps).Failure; got != FailureInvalidSignature {
		t.Fatalf("expected refresh token to fail access verification, got %s", got)
	}

	RunLogout(ctx, login.Pair.AccessToken, "42", "10.0.0.1", deps)
	if got := RunAuthenticate(ctx, login.Pair.AccessToken, deps).Failure; got != FailureRevoked {
		t.Fatalf("expected revoked, got %s", got)
	}

	other := RunLogin(ctx, "42", nil, "10.0.0.2", deps)
	clock.now = clock.now.Add(201 * time.Second)
	if got := RunAuthenticate(ctx, other.Pair.AccessToken, deps).Failure; got != FailureExpired {
		t.Fatalf("expected expired, got %s", got)
	}
}

func TestFlowsFailClosedWhenStoreUnavailable(t *testing.T) {
	deps, _, _, done := newFlowDeps(t)
	defer done()
	ctx := context.Background()

	login := RunLogin(ctx, "42", nil, "10.0.0.1", deps)
	deps.Store = failingKV{}

	if got := RunLogin(ctx, "42", nil, "10.0.0.1", deps).Failure; got != FailureStoreUnavailable {
		t.Fatalf("login: expected store unavailable, got %s", got)
	}
	if got := RunRefresh(ctx, login.Pair.AccessToken, login.Pair.RefreshToken, "10.0.0.1", deps).Failure; got != FailureStoreUnavailable {
		t.Fatalf("refresh: expected store unavailable, got %s", got)
	}
	if got := RunLogout(ctx, login.Pair.AccessToken, "42", "10.0.0.1", deps).Failure; got != FailureStoreUnavailable {
		t.Fatalf("logout: expected store unavailable, got %s", got)
	}
	res := RunAuthenticate(ctx, login.Pair.AccessToken, deps)
	if res.Failure != FailureStoreUnavailable || !errors.Is(res.Err, session.ErrStoreUnavailable) {
		t.Fatalf("authenticate: expected store unavailable, got %+v", res)
	}
}

func TestFailureKindString(t *testing.T) {
	if FailureRevoked.String() != "revoked" || FailureKind(99).String() != "unknown" {
		t.Fatal("unexpected failure kind names")
	}
}
