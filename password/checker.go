package password

import (
	"errors"
	"strings"
)

var (
	ErrInvalidConfig   = errors.New("invalid password hasher config")
	ErrMalformedHash   = errors.New("malformed password hash")
	ErrUnsupportedHash = errors.New("unsupported password hash")
	ErrPasswordShort   = errors.New("password too short")
	ErrPasswordTooLong = errors.New("password too long")
)

const (
	// MinLength is the shortest password Hash accepts, in bytes.
	MinLength = 10
	// MaxLength matches bcrypt's input limit.
	MaxLength = 72
)

func checkLength(plain string) error {
	switch {
	case len(plain) < MinLength:
		return ErrPasswordShort
	case len(plain) > MaxLength:
		return ErrPasswordTooLong
	}
	return nil
}

// Hasher produces and verifies one hash format.
type Hasher interface {
	Hash(plain string) (string, error)
	Verify(plain, encoded string) (bool, error)
	NeedsUpgrade(encoded string) (bool, error)
}

// Checker verifies a password against a stored hash of any supported
// format, picking the algorithm from the hash prefix.
type Checker struct {
	argon  *Argon2
	bcrypt *BCrypt
}

// NewChecker returns a Checker for argon2id and bcrypt hashes. Verification
// reads cost parameters from the hash itself, so the defaults only matter
// for NeedsUpgrade.
func NewChecker() *Checker {
	argon, _ := NewArgon2(DefaultArgon2Config())
	bc, _ := NewBCrypt(0)
	return &Checker{argon: argon, bcrypt: bc}
}

// HasherFor returns the hasher that understands encoded.
func (c *Checker) HasherFor(encoded string) (Hasher, error) {
	switch {
	case strings.HasPrefix(encoded, argon2Prefix):
		return c.argon, nil
	case strings.HasPrefix(encoded, "$2a$"), strings.HasPrefix(encoded, "$2b$"), strings.HasPrefix(encoded, "$2y$"):
		return c.bcrypt, nil
	default:
		return nil, ErrUnsupportedHash
	}
}

// Check reports whether plain matches encoded. Malformed or unsupported
// hashes never match.
func (c *Checker) Check(plain, encoded string) bool {
	h, err := c.HasherFor(encoded)
	if err != nil {
		return false
	}
	ok, err := h.Verify(plain, encoded)
	return err == nil && ok
}

// New returns a hasher for the named algorithm: "bcrypt" or "argon2id".
func New(algorithm string) (Hasher, error) {
	switch strings.ToLower(algorithm) {
	case "", "bcrypt":
		return NewBCrypt(0)
	case "argon2id", "argon2":
		return NewArgon2(DefaultArgon2Config())
	default:
		return nil, ErrUnsupportedHash
	}
}
