package jwt

import (
	"bytes"
	"encoding/base64"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

var (
	testAccessKey  = bytes.Repeat([]byte{0xA1}, 32)
	testRefreshKey = bytes.Repeat([]byte{0xB2}, 64)
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestManager(t *testing.T, clock *fakeClock) *Manager {
	t.Helper()
	var opts []Option
	if clock != nil {
		opts = append(opts, WithClock(clock.Now))
	}
	m, err := NewManager(Config{AccessKey: testAccessKey, RefreshKey: testRefreshKey}, opts...)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	m := newTestManager(t, nil)

	roles := []string{"ROLE_USER", "ROLE_ADMIN"}
	for _, class := range []KeyClass{KeyAccess, KeyRefresh} {
		token, err := m.Issue("42", roles, time.Minute, class)
		if err != nil {
			t.Fatalf("issue %s: %v", class, err)
		}
		claims, err := m.Verify(token, class)
		if err != nil {
			t.Fatalf("verify %s: %v", class, err)
		}
		if claims.Principal() != "42" {
			t.Fatalf("expected subject 42, got %q", claims.Principal())
		}
		if !reflect.DeepEqual(claims.Roles, roles) {
			t.Fatalf("expected roles %v, got %v", roles, claims.Roles)
		}
		if claims.ID == "" {
			t.Fatal("expected jti to be set")
		}
	}
}

func TestIssueProducesDistinctTokensInSameInstant(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	m := newTestManager(t, clock)

	a, err := m.Issue("42", []string{"ROLE_USER"}, time.Minute, KeyAccess)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	b, err := m.Issue("42", []string{"ROLE_USER"}, time.Minute, KeyAccess)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if a == b {
		t.Fatal("expected tokens issued at the same instant to differ")
	}
}

func TestVerifyRejectsCrossClassKeys(t *testing.T) {
	m := newTestManager(t, nil)

	access, err := m.Issue("42", nil, time.Minute, KeyAccess)
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}
	if _, err := m.Verify(access, KeyRefresh); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected access token to fail refresh verification with ErrInvalidSignature, got %v", err)
	}

	refresh, err := m.Issue("42", nil, time.Minute, KeyRefresh)
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}
	if _, err := m.Verify(refresh, KeyAccess); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected refresh token to fail access verification with ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyExpiredIsDistinct(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	m := newTestManager(t, clock)

	token, err := m.Issue("42", nil, 200*time.Second, KeyAccess)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	clock.Advance(199 * time.Second)
	if _, err := m.Verify(token, KeyAccess); err != nil {
		t.Fatalf("expected token to be valid before expiry: %v", err)
	}

	clock.Advance(2 * time.Second)
	if _, err := m.Verify(token, KeyAccess); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}

	exp, err := m.ExpiresAt(token, KeyAccess)
	if err != nil {
		t.Fatalf("expires at on expired token: %v", err)
	}
	if exp.After(clock.Now()) {
		t.Fatalf("expected expiry %v to be in the past", exp)
	}
}

func TestLeewayAppliesToRefreshTokensOnly(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	m, err := NewManager(Config{AccessKey: testAccessKey, RefreshKey: testRefreshKey, Leeway: 30 * time.Second}, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	access, err := m.Issue("42", nil, time.Minute, KeyAccess)
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}
	refresh, err := m.Issue("42", nil, time.Minute, KeyRefresh)
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}

	clock.Advance(time.Minute)
	if _, err := m.Verify(access, KeyAccess); !errors.Is(err, ErrExpired) {
		t.Fatalf("access token at exp must be expired, got %v", err)
	}
	if _, err := m.Verify(refresh, KeyRefresh); err != nil {
		t.Fatalf("refresh token within leeway must verify: %v", err)
	}

	clock.Advance(31 * time.Second)
	if _, err := m.Verify(refresh, KeyRefresh); !errors.Is(err, ErrExpired) {
		t.Fatalf("refresh token past leeway must be expired, got %v", err)
	}
}

func TestVerifyMalformed(t *testing.T) {
	m := newTestManager(t, nil)

	for _, input := range []string{"", "not.a.jwt", "abc", "a.b"} {
		if _, err := m.Verify(input, KeyAccess); !errors.Is(err, ErrMalformed) {
			t.Fatalf("expected ErrMalformed for %q, got %v", input, err)
		}
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	m := newTestManager(t, nil)

	token, err := m.Issue("42", []string{"ROLE_USER"}, time.Minute, KeyAccess)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	parts := strings.Split(token, ".")
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	sig[0] ^= 0x01
	tampered := parts[0] + "." + parts[1] + "." + base64.RawURLEncoding.EncodeToString(sig)

	if _, err := m.Verify(tampered, KeyAccess); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyRejectsNoneAndForeignAlgorithms(t *testing.T) {
	m := newTestManager(t, nil)

	claims := Claims{RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "42",
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	none, err := gjwt.NewWithClaims(gjwt.SigningMethodNone, claims).SignedString(gjwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := m.Verify(none, KeyAccess); err == nil {
		t.Fatal("expected alg=none token to be rejected")
	}

	// HS512 over the 32-byte access key is not the configured HS256 method.
	foreign, err := gjwt.NewWithClaims(gjwt.SigningMethodHS512, claims).SignedString(testAccessKey)
	if err != nil {
		t.Fatalf("sign foreign: %v", err)
	}
	if _, err := m.Verify(foreign, KeyAccess); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for foreign algorithm, got %v", err)
	}
}

func TestVerifyRequiresSubjectAndExpiry(t *testing.T) {
	m := newTestManager(t, nil)

	noSubject, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, Claims{RegisteredClaims: gjwt.RegisteredClaims{
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}).SignedString(testAccessKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Verify(noSubject, KeyAccess); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for missing subject, got %v", err)
	}

	noExpiry, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, Claims{RegisteredClaims: gjwt.RegisteredClaims{
		Subject: "42",
	}}).SignedString(testAccessKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Verify(noExpiry, KeyAccess); err == nil {
		t.Fatal("expected token without exp to be rejected")
	}
}

func TestNewManagerValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"missing access", Config{RefreshKey: testRefreshKey}},
		{"missing refresh", Config{AccessKey: testAccessKey}},
		{"short key", Config{AccessKey: []byte("short"), RefreshKey: testRefreshKey}},
		{"same keys", Config{AccessKey: testAccessKey, RefreshKey: testAccessKey}},
		{"leeway", Config{AccessKey: testAccessKey, RefreshKey: testRefreshKey, Leeway: time.Hour}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewManager(tc.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSigningMethodFollowsKeyLength(t *testing.T) {
	m := newTestManager(t, nil)
	if m.access.method != gjwt.SigningMethodHS256 {
		t.Fatalf("expected HS256 for 32-byte key, got %s", m.access.method.Alg())
	}
	if m.refresh.method != gjwt.SigningMethodHS512 {
		t.Fatalf("expected HS512 for 64-byte key, got %s", m.refresh.method.Alg())
	}
}

func TestDecodeKey(t *testing.T) {
	raw := bytes.Repeat([]byte{0xFB, 0xFF}, 20)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawURLEncoding} {
		got, err := DecodeKey(enc.EncodeToString(raw))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !bytes.Equal(got, raw) {
			t.Fatal("decoded key mismatch")
		}
	}
	if _, err := DecodeKey("  "); err == nil {
		t.Fatal("expected empty key error")
	}
	if _, err := DecodeKey("!!not-base64!!"); err == nil {
		t.Fatal("expected invalid base64 error")
	}
}

func TestIssueRejectsInvalidInput(t *testing.T) {
	m := newTestManager(t, nil)
	if _, err := m.Issue("", nil, time.Minute, KeyAccess); err == nil {
		t.Fatal("expected empty principal to be rejected")
	}
	if _, err := m.Issue("42", nil, 0, KeyAccess); err == nil {
		t.Fatal("expected zero TTL to be rejected")
	}
	if _, err := m.Issue("42", nil, time.Minute, KeyClass(9)); !errors.Is(err, ErrUnknownKeyClass) {
		t.Fatalf("expected ErrUnknownKeyClass, got %v", err)
	}
}
