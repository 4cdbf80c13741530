package traversal

import (
	"errors"
	"fmt"
)

// ClientStateError reports an operation the current traversal state cannot serve
type ClientStateError struct {
	Op     string
	Reason string
}

func (e *ClientStateError) Error() string {
	return fmt.Sprintf("traversal %s: %s", e.Op, e.Reason)
}

// IsClientStateError checks if error is a client state error
func IsClientStateError(err error) bool {
	var cse *ClientStateError
	return errors.As(err, &cse)
}

func stateErr(op, format string, args ...interface{}) error {
	return &ClientStateError{Op: op, Reason: fmt.Sprintf(format, args...)}
}
