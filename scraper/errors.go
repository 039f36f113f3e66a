package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrUnsupported is returned by the registry for malformed URLs and
	// hosts that match no registered pattern.
	ErrUnsupported = errors.New("scraper: unsupported url")
	// ErrInvalidConfig wraps configuration validation failures.
	ErrInvalidConfig = errors.New("scraper: invalid configuration")
	// ErrInvalidURL is returned when Scrape receives a non-absolute URL.
	ErrInvalidURL = errors.New("scraper: invalid url")
	// ErrSessionClosed is returned when Scrape is called without an open session.
	ErrSessionClosed = errors.New("scraper: session not open")
	// ErrScrapeInProgress is returned when a second scrape overlaps the first
	// on the same instance.
	ErrScrapeInProgress = errors.New("scraper: scrape already in progress")
	// ErrCancelled is returned when the caller's context ends mid-scrape.
	ErrCancelled = errors.New("scraper: cancelled")
	// ErrCircuitOpen is returned for fetches refused after too many
	// consecutive failures.
	ErrCircuitOpen = errors.New("scraper: too many consecutive failures")
	// ErrMissingField marks a listing item lacking a required field.
	ErrMissingField = errors.New("missing required field")
	// ErrInvalidProduct marks a record that failed validation.
	ErrInvalidProduct = errors.New("invalid product")
	// ErrExtractionPanic marks an adapter panic recovered during extraction.
	ErrExtractionPanic = errors.New("extraction panicked")
)

// FieldError reports a required field an adapter could not extract.
type FieldError struct {
	Field string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("missing required field %q", e.Field)
}

func (e *FieldError) Unwrap() error {
	return ErrMissingField
}

// MissingField returns a *FieldError for name.
func MissingField(name string) error {
	return &FieldError{Field: name}
}

// ErrTimeout indicates a timeout while issuing a request.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrForbidden indicates a forbidden response (HTTP 403).
type ErrForbidden struct {
	Err error
}

func (e ErrForbidden) Error() string {
	return fmt.Errorf("forbidden: %w", e.Err).Error()
}

func (e ErrForbidden) Unwrap() error {
	return e.Err
}

// ErrNotFound indicates a missing resource (HTTP 404).
type ErrNotFound struct {
	Err error
}

func (e ErrNotFound) Error() string {
	return fmt.Errorf("not_found: %w", e.Err).Error()
}

func (e ErrNotFound) Unwrap() error {
	return e.Err
}

// ErrRateLimited indicates the target rate-limited the request.
type ErrRateLimited struct {
	Err error
}

func (e ErrRateLimited) Error() string {
	return fmt.Errorf("rate_limited: %w", e.Err).Error()
}

func (e ErrRateLimited) Unwrap() error {
	return e.Err
}

// ErrServer indicates a 5xx response.
type ErrServer struct {
	Status int
	Err    error
}

func (e ErrServer) Error() string {
	return fmt.Errorf("server_error %d: %w", e.Status, e.Err).Error()
}

func (e ErrServer) Unwrap() error {
	return e.Err
}

// ErrStatus indicates any other non-success response.
type ErrStatus struct {
	Status int
	Err    error
}

func (e ErrStatus) Error() string {
	return fmt.Errorf("status %d: %w", e.Status, e.Err).Error()
}

func (e ErrStatus) Unwrap() error {
	return e.Err
}

func classifyError(err error, statusCode int) error {
	if err == nil && (statusCode == 0 || isSuccess(statusCode)) {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 && !isSuccess(statusCode) {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch {
		case statusCode == http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case statusCode == http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case statusCode == http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		case statusCode >= http.StatusInternalServerError:
			return ErrServer{Status: statusCode, Err: wrapped}
		default:
			return ErrStatus{Status: statusCode, Err: wrapped}
		}
	}

	return err
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// retryable reports whether a classified fetch error is transient.
func retryable(err error) bool {
	var (
		timeout     ErrTimeout
		conn        ErrConnection
		rateLimited ErrRateLimited
		server      ErrServer
	)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, ErrCircuitOpen):
		return false
	case errors.As(err, &timeout), errors.As(err, &conn), errors.As(err, &rateLimited), errors.As(err, &server):
		return true
	}
	return false
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var forbidden ErrForbidden
	if errors.As(err, &forbidden) {
		return "forbidden"
	}
	var notFound ErrNotFound
	if errors.As(err, &notFound) {
		return "not_found"
	}
	var rateLimited ErrRateLimited
	if errors.As(err, &rateLimited) {
		return "rate_limited"
	}
	var server ErrServer
	if errors.As(err, &server) {
		return "server_error"
	}
	var status ErrStatus
	if errors.As(err, &status) {
		return "http_status"
	}
	switch {
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrMissingField):
		return "missing_field"
	case errors.Is(err, ErrInvalidProduct):
		return "invalid_product"
	case errors.Is(err, ErrExtractionPanic):
		return "panic"
	}
	return "other"
}
