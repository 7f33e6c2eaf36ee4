package catalog

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// FetchError is returned by a Session when a page cannot be retrieved.
// Status is zero for transport failures.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError marks a listing item whose required markup is missing.
type ParseError struct {
	Layout string
	ID     string
	Field  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s item %q: missing %s", e.Layout, e.ID, e.Field)
}

// AuthError is returned when the shop session cannot be (re)established.
type AuthError struct {
	Status int
	Err    error
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("shop login failed: status %d", e.Status)
	}
	return fmt.Sprintf("shop login failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsAuthError reports whether err carries an *AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// ErrorClass represents whether a failed fetch is worth retrying next cycle.
type ErrorClass int

const (
	// ErrorClassRetryable covers transient failures (timeouts, 5xx, 429).
	ErrorClassRetryable ErrorClass = iota
	// ErrorClassFatal covers failures a retry will not fix (404, 403).
	ErrorClassFatal
	// ErrorClassUnknown is anything unrecognised.
	ErrorClassUnknown
)

func (ec ErrorClass) String() string {
	switch ec {
	case ErrorClassRetryable:
		return "retryable"
	case ErrorClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ClassifyFetchError labels a fetch failure for logs and metrics. The
// returned kind is one of timeout, connection, forbidden, not_found,
// rate_limited, server, client or other.
func ClassifyFetchError(err error) (kind string, class ErrorClass) {
	if err == nil {
		return "other", ErrorClassUnknown
	}
	var fe *FetchError
	if errors.As(err, &fe) && fe.Status != 0 {
		switch {
		case fe.Status == http.StatusNotFound || fe.Status == http.StatusGone:
			return "not_found", ErrorClassFatal
		case fe.Status == http.StatusUnauthorized || fe.Status == http.StatusForbidden:
			return "forbidden", ErrorClassFatal
		case fe.Status == http.StatusTooManyRequests:
			return "rate_limited", ErrorClassRetryable
		case fe.Status >= 500:
			return "server", ErrorClassRetryable
		case fe.Status >= 400:
			return "client", ErrorClassFatal
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout", ErrorClassRetryable
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return "timeout", ErrorClassRetryable
	}
	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "no such host") {
		return "connection", ErrorClassRetryable
	}
	return "other", ErrorClassUnknown
}
