package shared

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every engine operation. Callers classify failures
// with errors.Is; messages always name the violated constraint.
var (
	ErrNotFound              = errors.New("not found")
	ErrForbidden             = errors.New("forbidden access")
	ErrValidation            = errors.New("validation failed")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrUpstream              = errors.New("upstream failure")
)

// NotFound reports a referenced entity that does not exist.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// Forbidden reports a reference that crosses household boundaries.
func Forbidden(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrForbidden)
}

// Invalid reports a malformed request or payload.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrValidation)
}

// Upstream wraps a failure of the external generation service.
func Upstream(err error, format string, args ...any) error {
	if err == nil {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrUpstream)
	}
	return fmt.Errorf("%s: %w: %w", fmt.Sprintf(format, args...), ErrUpstream, err)
}

// Kind returns the taxonomy name of err, or "Internal" when it is unclassified.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrForbidden):
		return "ForbiddenAccess"
	case errors.Is(err, ErrInsufficientInventory):
		return "InsufficientInventory"
	case errors.Is(err, ErrValidation):
		return "ValidationFailed"
	case errors.Is(err, ErrUpstream):
		return "UpstreamFailure"
	default:
		return "Internal"
	}
}
