package mfa

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// ErrInvalidConfig is returned by NewVerifier for unusable settings.
var ErrInvalidConfig = errors.New("invalid second-factor config")

// Config selects the TOTP parameters shared by enrollment and verification.
type Config struct {
	Issuer    string
	Period    uint
	Digits    int
	Skew      uint
	Algorithm string
}

// CodeCheck reports whether code is valid for secret at the given instant.
type CodeCheck func(secret, code string, at time.Time) bool

// Enrollment is a freshly generated secret and its otpauth:// URI.
type Enrollment struct {
	Secret string
	URL    string
}

// Verifier checks one-time codes against a per-user shared secret. It keeps
// no state between calls; replay within a period is not tracked.
type Verifier struct {
	issuer string
	opts   totp.ValidateOpts
	check  CodeCheck
	now    func() time.Time
}

// Option customises a Verifier.
type Option func(*Verifier)

// WithCodeCheck replaces the TOTP check, e.g. with an HOTP or a fixed table
// in tests.
func WithCodeCheck(check CodeCheck) Option {
	return func(v *Verifier) {
		if check != nil {
			v.check = check
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewVerifier builds a Verifier from cfg. The default check accepts codes
// from the current period and Skew periods on either side.
func NewVerifier(cfg Config, opts ...Option) (*Verifier, error) {
	digits, err := parseDigits(cfg.Digits)
	if err != nil {
		return nil, err
	}
	alg, err := parseAlgorithm(cfg.Algorithm)
	if err != nil {
		return nil, err
	}
	if cfg.Period == 0 {
		return nil, fmt.Errorf("%w: period must be > 0", ErrInvalidConfig)
	}

	v := &Verifier{
		issuer: cfg.Issuer,
		opts: totp.ValidateOpts{
			Period:    cfg.Period,
			Skew:      cfg.Skew,
			Digits:    digits,
			Algorithm: alg,
		},
		now: time.Now,
	}
	v.check = v.validate
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify reports whether code matches secret now. Empty inputs never match.
func (v *Verifier) Verify(secret, code string) bool {
	code = strings.TrimSpace(code)
	if secret == "" || code == "" {
		return false
	}
	return v.check(secret, code, v.now())
}

// Enroll generates a new random secret for account.
func (v *Verifier) Enroll(account string) (Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      v.issuer,
		AccountName: account,
		Period:      v.opts.Period,
		Digits:      v.opts.Digits,
		Algorithm:   v.opts.Algorithm,
	})
	if err != nil {
		return Enrollment{}, fmt.Errorf("generate totp key: %w", err)
	}
	return Enrollment{Secret: key.Secret(), URL: key.URL()}, nil
}

// Code returns the code valid for secret at t. Used by tooling and tests.
func (v *Verifier) Code(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, t, v.opts)
}

func (v *Verifier) validate(secret, code string, at time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, at, v.opts)
	return err == nil && ok
}

func parseDigits(n int) (otp.Digits, error) {
	switch n {
	case 6:
		return otp.DigitsSix, nil
	case 8:
		return otp.DigitsEight, nil
	default:
		return 0, fmt.Errorf("%w: digits must be 6 or 8", ErrInvalidConfig)
	}
}

func parseAlgorithm(name string) (otp.Algorithm, error) {
	switch strings.ToUpper(name) {
	case "", "SHA1":
		return otp.AlgorithmSHA1, nil
	case "SHA256":
		return otp.AlgorithmSHA256, nil
	case "SHA512":
		return otp.AlgorithmSHA512, nil
	default:
		return 0, fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidConfig, name)
	}
}
