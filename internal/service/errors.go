package service

import (
	"errors"

	"imagegate/internal/llm"
)

var (
	ErrProviderNotFound = errors.New("provider not found")
	ErrProviderDisabled = errors.New("provider disabled")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrRateLimited      = errors.New("too many requests")
	// ErrGenerationFailed wraps every upstream or storage failure after the
	// call was charged. The cause stays in the chain for logging.
	ErrGenerationFailed = errors.New("generation failed, please retry")
)

// IsConfigError reports failures that happen before any debit: unknown,
// disabled or keyless providers.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrProviderNotFound) ||
		errors.Is(err, ErrProviderDisabled) ||
		errors.Is(err, llm.ErrMissingCredential)
}

// canFallback reports whether another provider may serve the operation.
// A provider without a key counts as unusable, same as disabled.
func canFallback(err error) bool {
	return IsConfigError(err) || errors.Is(err, llm.ErrUnsupported)
}
