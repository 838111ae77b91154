package rate

import "errors"

var (
	ErrRateLimited      = errors.New("rate limited")
	ErrStoreUnavailable = errors.New("rate limit store unavailable")
)
