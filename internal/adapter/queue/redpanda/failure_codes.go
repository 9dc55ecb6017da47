package redpanda

import "strings"

// Failure codes group errors by how the retry flow should treat them.
const (
	FailureRateLimit    = "UPSTREAM_RATE_LIMIT"
	FailureTimeout      = "UPSTREAM_TIMEOUT"
	FailureUnauthorized = "UPSTREAM_UNAUTHORIZED"
	FailureNotFound     = "RESOURCE_NOT_FOUND"
	FailureInvalid      = "INVALID_INPUT"
	FailureUnknown      = "UNKNOWN"
)

// classifyFailureCode maps an error string to a failure code.
func classifyFailureCode(errStr string) string {
	lowered := strings.ToLower(errStr)
	switch {
	case strings.Contains(lowered, "rate limit"):
		return FailureRateLimit
	case strings.Contains(lowered, "timeout") || strings.Contains(lowered, "deadline exceeded"):
		return FailureTimeout
	case strings.Contains(lowered, "unauthorized"):
		return FailureUnauthorized
	case strings.Contains(lowered, "not found"):
		return FailureNotFound
	case strings.Contains(lowered, "invalid argument"):
		return FailureInvalid
	default:
		return FailureUnknown
	}
}

// isRetryableCode reports whether a failure code is worth another attempt.
func isRetryableCode(code string) bool {
	switch code {
	case FailureRateLimit, FailureTimeout, FailureUnknown:
		return true
	default:
		return false
	}
}
