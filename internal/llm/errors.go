package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

var (
	// ErrUnsupported marks an operation a provider does not implement.
	ErrUnsupported = errors.New("operation not supported by provider")
	// ErrMissingCredential is returned before any network call when no API key is configured.
	ErrMissingCredential = errors.New("provider credential missing")
	// ErrNoImage is returned when an otherwise successful response carries no image.
	ErrNoImage = errors.New("no image in response")
	// ErrInvalidParams flags input the adapter cannot work with.
	ErrInvalidParams = errors.New("invalid image parameters")
)

type CapabilityError struct {
	Provider  string
	Operation Operation
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("provider %s does not support %s", e.Provider, e.Operation)
}

func (e *CapabilityError) Unwrap() error { return ErrUnsupported }

// UpstreamError carries the vendor's raw body so it can be logged.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s upstream error: %s", e.Provider, logSnippet(e.Body))
	}
	return fmt.Sprintf("%s http %d: %s", e.Provider, e.StatusCode, logSnippet(e.Body))
}

// RateLimited reports a 429 or an equivalent quota response.
func (e *UpstreamError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

func newUpstreamError(provider string, status int, header http.Header, body []byte) *UpstreamError {
	upErr := &UpstreamError{Provider: provider, StatusCode: status, Body: string(body)}
	if status == http.StatusTooManyRequests {
		upErr.RetryAfter = parseRetryDelay(header.Get("Retry-After"), string(body))
	}
	return upErr
}

// IsRetryable separates transient failures from permanent ones.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMissingCredential) || errors.Is(err, ErrNoImage) ||
		errors.Is(err, ErrUnsupported) || errors.Is(err, ErrInvalidParams) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		switch upErr.StatusCode {
		case http.StatusTooManyRequests, http.StatusRequestTimeout,
			http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		default:
			return false
		}
	}

	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
