package adapter

import (
	"context"
	"errors"
	"strings"
)

// ErrNoAdapter is returned when no registered adapter supports a network
var ErrNoAdapter = errors.New("no adapter supports network")

// IsRateLimitError checks if an error indicates rate limiting (429)
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "429") ||
		strings.Contains(s, "rate limit") ||
		strings.Contains(s, "too many requests") ||
		strings.Contains(s, "throttl") ||
		strings.Contains(s, "compute units")
}

var rangeTooWideTokens = []string{
	"block range",
	"range too large",
	"range is too large",
	"range too wide",
	"query returned more than",
	"exceed maximum block range",
	"too many blocks",
	"log response size exceeded",
	"response size exceeded",
	"query timeout exceeded",
}

// IsRangeTooWideError reports whether a provider refused a range query as too large
func IsRangeTooWideError(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	for _, token := range rangeTooWideTokens {
		if strings.Contains(s, token) {
			return true
		}
	}
	return false
}

// IsTransientError reports whether a failure is worth retrying on another endpoint.
// Everything except cancellation and oversized ranges qualifies.
func IsTransientError(err error) bool {
	if err == nil || IsRangeTooWideError(err) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
