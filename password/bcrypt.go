package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// BCrypt hashes passwords in the modular crypt format ($2a$/$2b$/$2y$)
// used by most existing user tables.
type BCrypt struct {
	cost int
}

// NewBCrypt returns a BCrypt hasher. A zero cost selects bcrypt.DefaultCost.
func NewBCrypt(cost int) (*BCrypt, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("%w: bcrypt cost must be between %d and %d", ErrInvalidConfig, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &BCrypt{cost: cost}, nil
}

func (b *BCrypt) Hash(plain string) (string, error) {
	if err := checkLength(plain); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), b.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", ErrPasswordTooLong
		}
		return "", err
	}
	return string(hash), nil
}

func (b *BCrypt) Verify(plain, encoded string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(plain))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
}

// NeedsUpgrade reports whether encoded used a lower cost than b.
func (b *BCrypt) NeedsUpgrade(encoded string) (bool, error) {
	cost, err := bcrypt.Cost([]byte(encoded))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
	return cost < b.cost, nil
}
