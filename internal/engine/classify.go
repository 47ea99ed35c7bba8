package engine

import (
	"errors"
	"strings"
)

// ErrorClass categorizes a fetch failure so the caller knows how to
// react: not-found failures go to the link healer, rate-limit failures
// grow the pacing delay, temporary failures just count against health.
type ErrorClass string

const (
	ClassTemporary ErrorClass = "temporary"  // 5xx, timeout, DNS transient
	ClassNotFound  ErrorClass = "not_found"  // 404, 410; healable
	ClassForbidden ErrorClass = "forbidden"  // 403, bot blocking
	ClassRateLimit ErrorClass = "rate_limit" // 429
	ClassAuth      ErrorClass = "auth"       // 401
	ClassUnknown   ErrorClass = "unknown"
)

// Classify determines the error class of a fetch failure. For
// AllEnginesFailed the per-engine errors vote: if any engine saw a
// not-found status the URL itself is broken regardless of what the
// other transports reported.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}

	var all *AllEnginesFailed
	if errors.As(err, &all) {
		votes := make(map[ErrorClass]int, len(all.Errors))
		for _, e := range all.Errors {
			votes[Classify(e)]++
		}
		for _, cls := range []ErrorClass{ClassNotFound, ClassRateLimit, ClassAuth, ClassForbidden, ClassTemporary} {
			if votes[cls] > 0 {
				return cls
			}
		}
		return ClassUnknown
	}

	var te *TransportError
	if errors.As(err, &te) {
		if cls := classifyStatus(te.StatusCode); cls != ClassUnknown {
			return cls
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not found") || strings.Contains(msg, "404"):
		return ClassNotFound
	case isNetworkError(msg):
		return ClassTemporary
	}
	return ClassUnknown
}

func classifyStatus(code int) ErrorClass {
	switch {
	case code == 404 || code == 410:
		return ClassNotFound
	case code == 429:
		return ClassRateLimit
	case code == 401:
		return ClassAuth
	case code == 403:
		return ClassForbidden
	case code >= 500 && code < 600:
		return ClassTemporary
	}
	return ClassUnknown
}

func isNetworkError(msg string) bool {
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "eof") ||
		strings.Contains(msg, "tls handshake")
}
