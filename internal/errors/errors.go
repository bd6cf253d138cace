// Package errors classifies failures that happen while walking pages.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrorType categorizes errors for stop and retry decisions.
type ErrorType int

const (
	// Unknown is an uncategorized error.
	Unknown ErrorType = iota
	// Network represents transport failures (DNS, refused, reset).
	Network
	// Timeout represents a fetch that exceeded its deadline.
	Timeout
	// HTTPStatus represents a non-success response status.
	HTTPStatus
	// Blocked represents a request the page environment refused to load.
	Blocked
	// Unavailable means the fetch capability cannot run in this process.
	Unavailable
	// Config represents a missing or invalid rule.
	Config
	// Extraction represents a content selector that did not yield a value.
	Extraction
	// Cancelled represents context cancellation.
	Cancelled
	// TooLarge represents a response body over the configured limit.
	TooLarge
)

// String returns the string representation of ErrorType.
func (t ErrorType) String() string {
	switch t {
	case Network:
		return "network"
	case Timeout:
		return "timeout"
	case HTTPStatus:
		return "http_status"
	case Blocked:
		return "blocked"
	case Unavailable:
		return "unavailable"
	case Config:
		return "config"
	case Extraction:
		return "extraction"
	case Cancelled:
		return "cancelled"
	case TooLarge:
		return "too_large"
	default:
		return "unknown"
	}
}

// CrawlError is a categorized failure tied to a URL and an operation.
type CrawlError struct {
	Type       ErrorType
	URL        string
	Operation  string
	Message    string
	Cause      error
	StatusCode int
}

// Error implements the error interface.
func (e *CrawlError) Error() string {
	where := e.Operation
	if e.URL != "" {
		where = fmt.Sprintf("%s on %s", e.Operation, e.URL)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s error during %s: %s: %v", e.Type, where, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error during %s: %s", e.Type, where, e.Message)
}

// Unwrap returns the underlying error.
func (e *CrawlError) Unwrap() error {
	return e.Cause
}

// Is matches another *CrawlError of the same Type.
func (e *CrawlError) Is(target error) bool {
	t, ok := target.(*CrawlError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// Transient reports whether the same URL may succeed if fetched again.
func (e *CrawlError) Transient() bool {
	switch e.Type {
	case Network, Timeout, Blocked:
		return true
	case HTTPStatus:
		return e.StatusCode == 429 || e.StatusCode >= 500
	default:
		return false
	}
}

// New creates a CrawlError.
func New(errType ErrorType, url, operation, message string, cause error) *CrawlError {
	return &CrawlError{
		Type:      errType,
		URL:       url,
		Operation: operation,
		Message:   message,
		Cause:     cause,
	}
}

// NewNetworkError creates a network error.
func NewNetworkError(url, operation string, cause error) *CrawlError {
	return New(Network, url, operation, "network failure", cause)
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(url, operation string, cause error) *CrawlError {
	return New(Timeout, url, operation, "request timed out", cause)
}

// NewStatusError creates an error for a non-success response.
func NewStatusError(url string, statusCode int) *CrawlError {
	err := New(HTTPStatus, url, "fetch", fmt.Sprintf("server returned %d", statusCode), nil)
	err.StatusCode = statusCode
	return err
}

// NewBlockedError creates an error for a request refused by the page environment.
func NewBlockedError(url, operation string, cause error) *CrawlError {
	return New(Blocked, url, operation, "request blocked", cause)
}

// NewUnavailableError reports that a fetch backend cannot run here.
func NewUnavailableError(operation string, cause error) *CrawlError {
	return New(Unavailable, "", operation, "fetch backend unavailable", cause)
}

// NewConfigError creates a configuration error.
func NewConfigError(message string) *CrawlError {
	return New(Config, "", "validate", message, nil)
}

// NewExtractionError wraps a selector failure for url.
func NewExtractionError(url string, cause error) *CrawlError {
	return New(Extraction, url, "extract", "content selector did not match", cause)
}

// NewTooLargeError reports a body that exceeds limit bytes.
func NewTooLargeError(url string, limit int64) *CrawlError {
	return New(TooLarge, url, "read_body", fmt.Sprintf("response body exceeds %d bytes", limit), nil)
}

// NewCancelledError creates a cancelled error.
func NewCancelledError(url, operation string) *CrawlError {
	return New(Cancelled, url, operation, "operation cancelled", context.Canceled)
}

// Categorize determines the error type of a fetch failure.
func Categorize(err error, url string) *CrawlError {
	if err == nil {
		return nil
	}

	var crawlErr *CrawlError
	if errors.As(err, &crawlErr) {
		return crawlErr
	}

	if errors.Is(err, context.Canceled) {
		return NewCancelledError(url, "fetch")
	}

	if isTimeout(err) {
		return NewTimeoutError(url, "fetch", err)
	}

	if isBlocked(err) {
		return NewBlockedError(url, "fetch", err)
	}

	if isNetworkError(err) {
		return NewNetworkError(url, "fetch", err)
	}

	return New(Unknown, url, "fetch", err.Error(), err)
}

// CategorizeHTTPStatus returns an error for non-2xx/3xx codes, nil otherwise.
func CategorizeHTTPStatus(statusCode int, url string) *CrawlError {
	if statusCode >= 400 {
		return NewStatusError(url, statusCode)
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded")
}

// isBlocked matches Chromium's net::ERR_BLOCKED_* and CORS failures.
func isBlocked(err error) bool {
	errStr := err.Error()
	return strings.Contains(errStr, "ERR_BLOCKED") ||
		strings.Contains(errStr, "ERR_ABORTED") ||
		strings.Contains(errStr, "CORS")
}

func isNetworkError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "net::ERR_") ||
		strings.Contains(errStr, "EOF")
}

// IsTransient checks if an error may clear up on a second attempt.
func IsTransient(err error) bool {
	var crawlErr *CrawlError
	if errors.As(err, &crawlErr) {
		return crawlErr.Transient()
	}
	return false
}

// GetStatusCode extracts the status code from an error.
func GetStatusCode(err error) int {
	var crawlErr *CrawlError
	if errors.As(err, &crawlErr) {
		return crawlErr.StatusCode
	}
	return 0
}

// GetErrorType extracts the error type from an error.
func GetErrorType(err error) ErrorType {
	var crawlErr *CrawlError
	if errors.As(err, &crawlErr) {
		return crawlErr.Type
	}
	return Unknown
}
