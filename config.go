package rtauth

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/greensec/rtauth/jwt"
)

// Config holds every engine setting. Build works on a private copy, so a
// Config may be reused after it has been handed to a Builder.
type Config struct {
	// Namespace is embedded in every session key: RT(<Namespace>):...
	Namespace string
	// TokenScheme is the Authorization header scheme, e.g. "Bearer".
	TokenScheme string
	// RevocationPrefix is prepended to the access token to form the marker
	// key. Empty keeps the marker key equal to the literal token.
	RevocationPrefix string

	JWT          JWTConfig
	SecondFactor SecondFactorConfig
	Throttle     ThrottleConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures both token classes. The HMAC algorithm follows from
// key length (HS256, HS384 from 48 bytes, HS512 from 64 bytes).
type JWTConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	AccessKey  []byte
	RefreshKey []byte
	Issuer     string
	// Leeway tolerates clock skew when verifying refresh tokens.
	Leeway time.Duration
}

/*
====================================
SECOND FACTOR CONFIG
====================================
*/

// SecondFactorConfig configures TOTP verification.
type SecondFactorConfig struct {
	// Issuer is shown by authenticator apps at enrollment.
	Issuer    string
	Period    uint
	Digits    int
	Skew      uint
	Algorithm string // SHA1, SHA256 or SHA512
}

// ThrottleConfig limits failed password sign-ins and second-factor codes.
// It needs a Redis client; engines built on a bare session store skip it.
type ThrottleConfig struct {
	Enabled     bool
	MaxAttempts int
	Window      time.Duration
	// PerAddress also counts failures per client address.
	PerAddress bool
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the stock settings. Signing keys are left empty and
// must be supplied before Build.
func DefaultConfig() Config {
	return Config{
		Namespace:   "Server",
		TokenScheme: "Bearer",
		JWT: JWTConfig{
			AccessTTL:  200 * time.Second,
			RefreshTTL: 15 * 24 * time.Hour,
		},
		SecondFactor: SecondFactorConfig{
			Issuer:    "rtauth",
			Period:    30,
			Digits:    6,
			Skew:      1,
			Algorithm: "SHA1",
		},
		Throttle: ThrottleConfig{
			Enabled:     true,
			MaxAttempts: 5,
			Window:      15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.AccessKey = cloneBytes(cfg.JWT.AccessKey)
	out.JWT.RefreshKey = cloneBytes(cfg.JWT.RefreshKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

const maxLeeway = 2 * time.Minute

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Namespace == "" {
		return errors.New("Namespace must not be empty")
	}
	if strings.ContainsAny(c.Namespace, "():") {
		return errors.New("Namespace must not contain '(', ')' or ':'")
	}
	if c.TokenScheme == "" || strings.ContainsAny(c.TokenScheme, " \t") {
		return errors.New("TokenScheme must be a single non-empty word")
	}

	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > maxLeeway {
		return fmt.Errorf("JWT Leeway must be between 0 and %s", maxLeeway)
	}
	if len(c.JWT.AccessKey) < jwt.MinKeyLength {
		return fmt.Errorf("JWT AccessKey must be at least %d bytes", jwt.MinKeyLength)
	}
	if len(c.JWT.RefreshKey) < jwt.MinKeyLength {
		return fmt.Errorf("JWT RefreshKey must be at least %d bytes", jwt.MinKeyLength)
	}
	if bytes.Equal(c.JWT.AccessKey, c.JWT.RefreshKey) {
		return errors.New("JWT AccessKey and RefreshKey must differ")
	}

	// Second factor
	if c.SecondFactor.Period == 0 {
		return errors.New("SecondFactor Period must be > 0")
	}
	if c.SecondFactor.Digits != 6 && c.SecondFactor.Digits != 8 {
		return errors.New("SecondFactor Digits must be 6 or 8")
	}
	if c.SecondFactor.Skew > 5 {
		return errors.New("SecondFactor Skew must be <= 5")
	}
	switch strings.ToUpper(c.SecondFactor.Algorithm) {
	case "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("SecondFactor Algorithm must be SHA1, SHA256 or SHA512")
	}

	if c.Throttle.Enabled {
		if c.Throttle.MaxAttempts <= 0 {
			return errors.New("Throttle MaxAttempts must be > 0 when enabled")
		}
		if c.Throttle.Window <= 0 {
			return errors.New("Throttle Window must be > 0 when enabled")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	return nil
}

/*
====================================
LINT
====================================
*/

// LintWarning is a non-fatal configuration finding.
type LintWarning struct {
	Code    string
	Message string
}

// LintWarnings is the result of [Config.Lint].
type LintWarnings []LintWarning

// Codes returns the warning codes in order.
func (ws LintWarnings) Codes() []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.Code
	}
	return out
}

// Lint reports settings that are valid but probably unintended.
func (c *Config) Lint() LintWarnings {
	var ws LintWarnings
	add := func(code, msg string) {
		ws = append(ws, LintWarning{Code: code, Message: msg})
	}

	if c.JWT.Leeway > 30*time.Second {
		add("leeway_large", "JWT Leeway above 30s extends the life of every refresh token")
	}
	if c.JWT.AccessTTL > 15*time.Minute {
		add("access_ttl_long", "access tokens live longer than 15m; revocation only bounds logout")
	}
	if c.JWT.RefreshTTL > 30*24*time.Hour {
		add("refresh_ttl_long", "refresh tokens are never rotated and live longer than 30d")
	}
	if c.JWT.Issuer == "" {
		add("issuer_empty", "tokens carry no iss claim and verification does not check it")
	}
	if c.RevocationPrefix == "" {
		add("revocation_prefix_empty", "revocation markers share the keyspace with other data")
	}
	if !c.Throttle.Enabled {
		add("throttle_disabled", "password and second-factor guessing is not throttled")
	}
	if !c.Audit.Enabled {
		add("audit_disabled", "lifecycle events are not audited")
	}
	if c.Audit.Enabled && c.Audit.DropIfFull {
		add("audit_drop_if_full", "audit events are dropped when the buffer is full")
	}
	if c.SecondFactor.Skew > 1 {
		add("second_factor_skew_wide", "more than one adjacent TOTP period is accepted")
	}
	return ws
}
