package location

import (
	"errors"
	"fmt"
)

// ErrInvalid is matched by every ValidationError via errors.Is.
var ErrInvalid = errors.New("INVALID_INPUT")

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is lets callers test with errors.Is(err, ErrInvalid).
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}
