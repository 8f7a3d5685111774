package sale

import (
	"errors"
	"fmt"

	"possale/m/internal/database"
)

// ErrInvalidSession is returned when the sale does not reference an open
// cash session.
var ErrInvalidSession = errors.New("cash session is not open")

// ValidationError communicates malformed sale input back to callers.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid sale: %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation helps callers distinguish input errors from business and
// infrastructure failures.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsRetryable reports whether err came from lock contention or a timeout
// before commit. Only these may be retried, and only with identical input.
func IsRetryable(err error) bool {
	return errors.Is(err, database.ErrTransient)
}
