package chat

import (
	"errors"
	"fmt"
)

// ErrIllegalTransition is matched by every error reported for a session operation called in a state
// that doesn't allow it.
var ErrIllegalTransition = errors.New("illegal session transition")

const errLoggerKey = "error"

// IllegalTransitionError describes a misused session operation.
type IllegalTransitionError struct {
	Op    string
	State StateKind
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("chat %s called while %s", e.Op, e.State)
}

// Is makes errors.Is(err, ErrIllegalTransition) hold.
func (e *IllegalTransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}
