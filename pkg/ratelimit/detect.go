package ratelimit

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

// rateLimitMarkers are matched case-insensitively against error messages
// that carry no structured status.
var rateLimitMarkers = []string{
	"429",
	"rate limit",
	"rate-limit",
	"ratelimit",
	"too many requests",
	"resource_exhausted",
	"resource exhausted",
	"quota exceeded",
}

// retryAfterer is implemented by errors that know the provider's retry window.
type retryAfterer interface {
	RetryAfter() time.Duration
}

// IsRateLimitError reports whether err looks like a provider rate-limit refusal.
//
// Structured signals are checked first (ErrRateLimitExceeded, a genai API error
// with HTTP 429 or RESOURCE_EXHAUSTED); otherwise the message is matched
// against a fixed substring list. The list reflects what providers have been
// observed to return and is not exhaustive.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimitExceeded) {
		return true
	}
	if apiErr, ok := asAPIError(err); ok {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED"
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// RetryAfter extracts the provider's suggested wait from err, or zero when unknown.
func RetryAfter(err error) time.Duration {
	if err == nil {
		return 0
	}

	var ra retryAfterer
	if errors.As(err, &ra) {
		return max(ra.RetryAfter(), 0)
	}

	if apiErr, ok := asAPIError(err); ok {
		// google.rpc.RetryInfo detail: {"@type": ".../google.rpc.RetryInfo", "retryDelay": "37s"}
		for _, detail := range apiErr.Details {
			raw, ok := detail["retryDelay"].(string)
			if !ok {
				continue
			}
			if d, err := time.ParseDuration(raw); err == nil && d > 0 {
				return d
			}
		}
	}
	return 0
}

func asAPIError(err error) (genai.APIError, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return *apiErrPtr, true
	}
	return genai.APIError{}, false
}
