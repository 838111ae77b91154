package session

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrCorruptPair is returned when a stored session value cannot be decoded.
var ErrCorruptPair = errors.New("session pair corrupt")

// EncodePair serialises p as {"accessToken":...,"refreshToken":...}.
func EncodePair(p Pair) (string, error) {
	if p.AccessToken == "" || p.RefreshToken == "" {
		return "", errors.New("session pair requires both tokens")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodePair parses a stored session value.
func DecodePair(value string) (Pair, error) {
	var p Pair
	if err := json.Unmarshal([]byte(value), &p); err != nil {
		return Pair{}, fmt.Errorf("%w: %v", ErrCorruptPair, err)
	}
	if p.AccessToken == "" || p.RefreshToken == "" {
		return Pair{}, fmt.Errorf("%w: missing token", ErrCorruptPair)
	}
	return p, nil
}
