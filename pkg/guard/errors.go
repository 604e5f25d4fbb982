package guard

import (
	"errors"
	"fmt"
)

// ErrHandlerFailure marks a wrapped handler that panicked or returned an
// error. Callers only ever see a generic 500.
var ErrHandlerFailure = errors.New("handler failure")

// handlerError wraps the cause of a handler failure.
type handlerError struct {
	cause error
}

func (e *handlerError) Error() string {
	return fmt.Sprintf("%v: %v", ErrHandlerFailure, e.cause)
}

func (e *handlerError) Is(target error) bool {
	return target == ErrHandlerFailure
}

func (e *handlerError) Unwrap() error {
	return e.cause
}
