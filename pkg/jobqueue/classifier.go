package jobqueue

import (
	"errors"
	"time"

	"github.com/dmitrymomot/jobgate/pkg/ratelimit"
)

// Verdict is the failure bucket a handler error falls into.
type Verdict int

const (
	VerdictConfiguration Verdict = iota
	VerdictUnrecoverable
	VerdictRateLimited
	VerdictTransient
)

func (v Verdict) String() string {
	switch v {
	case VerdictConfiguration:
		return "configuration"
	case VerdictUnrecoverable:
		return "unrecoverable"
	case VerdictRateLimited:
		return "rate_limited"
	default:
		return "transient"
	}
}

// Terminal reports whether the verdict ends the job without retry.
func (v Verdict) Terminal() bool {
	return v == VerdictConfiguration || v == VerdictUnrecoverable
}

// RateLimitDetector recognises rate-limit refusals in raw handler errors.
type RateLimitDetector func(error) bool

// Classify assigns err to exactly one bucket. Typed errors win over the
// detector, and a missing handler counts as a configuration error.
func Classify(err error, detect RateLimitDetector) Verdict {
	switch {
	case errors.Is(err, ErrConfiguration), errors.Is(err, ErrHandlerNotFound):
		return VerdictConfiguration
	case errors.Is(err, ErrUnrecoverablePayload):
		return VerdictUnrecoverable
	case errors.Is(err, ErrRateLimited):
		return VerdictRateLimited
	case errors.Is(err, ErrTransient):
		return VerdictTransient
	case detect != nil && detect(err):
		return VerdictRateLimited
	default:
		return VerdictTransient
	}
}

// Backoff returns base*2^retryCount capped at maxDelay.
func Backoff(retryCount int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for range max(retryCount, 0) {
		if d > maxDelay/2 {
			return maxDelay
		}
		d *= 2
	}
	return min(d, maxDelay)
}

// retryAfter extracts the suggested wait from a rate-limit error, or zero.
func retryAfter(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter
	}
	return ratelimit.RetryAfter(err)
}
