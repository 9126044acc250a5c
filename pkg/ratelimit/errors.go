package ratelimit

import "errors"

var (
	// ErrRateLimitExceeded is the generic rate-limit sentinel. Errors wrapping
	// it are always classified as rate limits.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrInvalidCooldown   = errors.New("invalid cooldown")
)
