// Package ratelimit tracks provider-imposed rate-limit windows and recognises
// rate-limit refusals in raw errors.
//
// Tracker is the oracle consulted before each dispatch: IsLimited and
// Remaining describe the active window, RecordRateLimit opens one. The
// detector side (IsRateLimitError, RetryAfter) understands genai API errors
// and falls back to message heuristics for everything else.
package ratelimit
