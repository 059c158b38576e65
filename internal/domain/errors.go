package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("session not found")
	ErrDuplicateReference  = errors.New("duplicate reference")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrProvider            = errors.New("provider error")
	ErrWebhookVerification = errors.New("webhook verification failed")
)

// ValidationError describes one malformed input field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func joinValidation(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return errors.Join(errs...)
	}
}

// ValidationErrors flattens err into the field failures it carries.
func ValidationErrors(err error) []*ValidationError {
	if err == nil {
		return nil
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			var out []*ValidationError
			for _, e := range joined.Unwrap() {
				out = append(out, ValidationErrors(e)...)
			}
			return out
		}
		return []*ValidationError{ve}
	}
	return nil
}

// ProviderError wraps a failure reported by (or while talking to) an
// upstream settlement source.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func NewProviderError(provider, op string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Op: op, Err: err}
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error (%s): %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

// ErrorKind returns a short stable label for the error category, used for
// metrics labels and API error codes.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicateReference):
		return "duplicate_reference"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrWebhookVerification):
		return "webhook_verification"
	case errors.Is(err, ErrProvider):
		return "provider"
	default:
		return "internal"
	}
}
