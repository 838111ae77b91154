package jwt

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// KeyClass selects which signing key seals or verifies a token.
type KeyClass uint8

const (
	// KeyAccess seals short-lived access tokens.
	KeyAccess KeyClass = iota + 1
	// KeyRefresh seals long-lived refresh tokens.
	KeyRefresh
)

func (c KeyClass) String() string {
	switch c {
	case KeyAccess:
		return "access"
	case KeyRefresh:
		return "refresh"
	default:
		return "unknown"
	}
}

// MinKeyLength is the shortest accepted HMAC key, in bytes.
const MinKeyLength = 32

var (
	// ErrMalformed is returned for tokens that are not structurally valid JWTs.
	ErrMalformed = errors.New("token malformed")
	// ErrInvalidSignature is returned when the signature does not match the key class.
	ErrInvalidSignature = errors.New("token signature invalid")
	// ErrExpired is returned for well-formed, correctly signed tokens past their expiry.
	ErrExpired = errors.New("token expired")
	// ErrUnknownKeyClass is returned when a KeyClass outside KeyAccess/KeyRefresh is used.
	ErrUnknownKeyClass = errors.New("unknown key class")
)

// Config carries the signing material for both token classes.
type Config struct {
	AccessKey  []byte
	RefreshKey []byte
	Issuer     string
	// Leeway tolerates clock skew on refresh tokens only. Access tokens
	// are rejected the moment they expire, which keeps revocation markers
	// sized to the token's own exp.
	Leeway time.Duration
}

// Claims is the payload sealed into every token. The subject is the
// principal identifier; Roles are carried as issued and never re-fetched.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Principal returns the subject claim.
func (c *Claims) Principal() string {
	if c == nil {
		return ""
	}
	return c.Subject
}

type signingKey struct {
	method jwt.SigningMethod
	key    []byte
}

// Manager issues and verifies HMAC-signed tokens with one key per class.
//
// Manager is immutable after NewManager and safe for concurrent use.
type Manager struct {
	access  signingKey
	refresh signingKey
	issuer  string
	leeway  time.Duration
	now     func() time.Time
}

// Option customises a Manager at construction time.
type Option func(*Manager)

// WithClock replaces the wall clock used for iat/exp and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager validates both keys and returns a ready Manager.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	access, err := newSigningKey("access", cfg.AccessKey)
	if err != nil {
		return nil, err
	}
	refresh, err := newSigningKey("refresh", cfg.RefreshKey)
	if err != nil {
		return nil, err
	}
	if bytes.Equal(cfg.AccessKey, cfg.RefreshKey) {
		return nil, errors.New("access and refresh keys must differ")
	}

	m := &Manager{
		access:  access,
		refresh: refresh,
		issuer:  strings.TrimSpace(cfg.Issuer),
		leeway:  cfg.Leeway,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// newSigningKey picks the HMAC strength from the key length.
func newSigningKey(name string, key []byte) (signingKey, error) {
	if len(key) == 0 {
		return signingKey{}, fmt.Errorf("%s key required", name)
	}
	if len(key) < MinKeyLength {
		return signingKey{}, fmt.Errorf("%s key too short: %d bytes, need at least %d", name, len(key), MinKeyLength)
	}

	var method jwt.SigningMethod
	switch {
	case len(key) >= 64:
		method = jwt.SigningMethodHS512
	case len(key) >= 48:
		method = jwt.SigningMethodHS384
	default:
		method = jwt.SigningMethodHS256
	}

	own := make([]byte, len(key))
	copy(own, key)
	return signingKey{method: method, key: own}, nil
}

// DecodeKey decodes a base64 signing key. Standard, URL-safe, padded and
// unpadded encodings are all accepted.
func DecodeKey(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, errors.New("empty key")
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if key, err := enc.DecodeString(encoded); err == nil {
			return key, nil
		}
	}
	return nil, errors.New("key is not valid base64")
}

func (m *Manager) keyFor(class KeyClass) (signingKey, error) {
	switch class {
	case KeyAccess:
		return m.access, nil
	case KeyRefresh:
		return m.refresh, nil
	default:
		return signingKey{}, ErrUnknownKeyClass
	}
}

// Issue seals a token for principal with the given roles and lifetime.
func (m *Manager) Issue(principal string, roles []string, ttl time.Duration, class KeyClass) (string, error) {
	if strings.TrimSpace(principal) == "" {
		return "", errors.New("principal required")
	}
	if ttl <= 0 {
		return "", errors.New("invalid TTL")
	}
	sk, err := m.keyFor(class)
	if err != nil {
		return "", err
	}

	now := m.now()
	claims := Claims{
		Roles: append([]string(nil), roles...),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal,
			Issuer:    m.issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	return jwt.NewWithClaims(sk.method, claims).SignedString(sk.key)
}

// Verify checks the signature and expiry of token against the key for
// class. Failures are reported as ErrMalformed, ErrInvalidSignature or
// ErrExpired.
func (m *Manager) Verify(token string, class KeyClass) (*Claims, error) {
	return m.parse(token, class, true)
}

// ExpiresAt returns the expiry of a correctly signed token without
// enforcing it.
func (m *Manager) ExpiresAt(token string, class KeyClass) (time.Time, error) {
	claims, err := m.parse(token, class, false)
	if err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrMalformed
	}
	return claims.ExpiresAt.Time, nil
}

func (m *Manager) parse(token string, class KeyClass, enforceExpiry bool) (*Claims, error) {
	sk, err := m.keyFor(class)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrMalformed
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{sk.method.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	}
	if m.leeway > 0 && class == KeyRefresh {
		options = append(options, jwt.WithLeeway(m.leeway))
	}
	if m.issuer != "" {
		options = append(options, jwt.WithIssuer(m.issuer))
	}
	if !enforceExpiry {
		options = append(options, jwt.WithoutClaimsValidation())
	}

	parsed, err := jwt.NewParser(options...).ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != sk.method.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return sk.key, nil
	})
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrMalformed
	}
	if claims.Subject == "" {
		return nil, ErrMalformed
	}
	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	default:
		// Remaining claim failures (nbf, iss, missing exp) are not
		// distinguishable to callers and count as malformed.
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
