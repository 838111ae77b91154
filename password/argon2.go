package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	argon2Prefix          = "$argon2id$"
)

// Argon2Config holds argon2id cost parameters.
type Argon2Config struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Config returns the recommended interactive-login parameters.
func DefaultArgon2Config() Argon2Config {
	return Argon2Config{Memory: 64 * 1024, Time: 3, Parallelism: 2, SaltLength: 16, KeyLength: 32}
}

// Argon2 hashes passwords with argon2id in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
type Argon2 struct {
	config Argon2Config
}

type argon2Params struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
}

func NewArgon2(cfg Argon2Config) (*Argon2, error) {
	switch {
	case cfg.Memory < minMemoryKB:
		return nil, fmt.Errorf("%w: argon2 memory must be >= %d KiB", ErrInvalidConfig, minMemoryKB)
	case cfg.Time < minTimeCost:
		return nil, fmt.Errorf("%w: argon2 time must be >= %d", ErrInvalidConfig, minTimeCost)
	case cfg.Parallelism < minParallelism:
		return nil, fmt.Errorf("%w: argon2 parallelism must be >= %d", ErrInvalidConfig, minParallelism)
	case cfg.SaltLength < minSaltLength:
		return nil, fmt.Errorf("%w: argon2 salt length must be >= %d", ErrInvalidConfig, minSaltLength)
	case cfg.KeyLength < minKeyLength:
		return nil, fmt.Errorf("%w: argon2 key length must be >= %d", ErrInvalidConfig, minKeyLength)
	}
	return &Argon2{config: cfg}, nil
}

// Hash uses the raw password bytes; no Unicode normalization is applied.
func (a *Argon2) Hash(plain string) (string, error) {
	if err := checkLength(plain); err != nil {
		return "", err
	}

	salt := make([]byte, a.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(plain), salt, a.config.Time, a.config.Memory, a.config.Parallelism, a.config.KeyLength)

	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Prefix,
		argon2.Version,
		a.config.Memory, a.config.Time, a.config.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the key with the parameters embedded in encoded.
func (a *Argon2) Verify(plain, encoded string) (bool, error) {
	p, err := parseArgon2(encoded)
	if err != nil {
		return false, err
	}
	key := argon2.IDKey([]byte(plain), p.salt, p.time, p.memory, p.parallelism, uint32(len(p.hash)))
	return subtle.ConstantTimeCompare(key, p.hash) == 1, nil
}

// NeedsUpgrade reports whether encoded was produced with weaker parameters
// than the hasher's own.
func (a *Argon2) NeedsUpgrade(encoded string) (bool, error) {
	p, err := parseArgon2(encoded)
	if err != nil {
		return false, err
	}
	return a.config.Memory > p.memory ||
		a.config.Time > p.time ||
		a.config.Parallelism > p.parallelism ||
		a.config.KeyLength != uint32(len(p.hash)), nil
}

func parseArgon2(encoded string) (*argon2Params, error) {
	if !strings.HasPrefix(encoded, argon2Prefix) {
		return nil, ErrUnsupportedHash
	}
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return nil, ErrMalformedHash
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || !strings.HasPrefix(parts[2], "v=") {
		return nil, ErrMalformedHash
	}
	if version != argon2.Version {
		return nil, ErrUnsupportedHash
	}

	var p argon2Params
	var m, t, par uint64
	seen := 0
	for _, kv := range strings.Split(parts[3], ",") {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, ErrMalformedHash
		}
		switch name {
		case "m":
			m, err = strconv.ParseUint(value, 10, 32)
		case "t":
			t, err = strconv.ParseUint(value, 10, 32)
		case "p":
			par, err = strconv.ParseUint(value, 10, 8)
		default:
			return nil, ErrMalformedHash
		}
		if err != nil {
			return nil, ErrMalformedHash
		}
		seen++
	}
	if seen != 3 || m < uint64(minMemoryKB) || t < uint64(minTimeCost) || par < uint64(minParallelism) {
		return nil, ErrMalformedHash
	}
	p.memory, p.time, p.parallelism = uint32(m), uint32(t), uint8(par)

	if p.salt, err = decodeB64(parts[4]); err != nil || len(p.salt) < int(minSaltLength) {
		return nil, ErrMalformedHash
	}
	if p.hash, err = decodeB64(parts[5]); err != nil || len(p.hash) == 0 {
		return nil, ErrMalformedHash
	}
	return &p, nil
}

// decodeB64 accepts padded and unpadded standard base64; both appear in
// PHC strings written by different libraries.
func decodeB64(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}
