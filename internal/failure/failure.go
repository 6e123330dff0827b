package failure

import (
	"context"
	"errors"
	"fmt"
)

// Kind is a stable identifier for a failure category.
type Kind string

const (
	Connection       Kind = "CONNECTION"
	Timeout          Kind = "TIMEOUT"
	CircuitOpen      Kind = "CIRCUIT_OPEN"
	CapacityExceeded Kind = "CAPACITY_EXCEEDED"
	Executor         Kind = "EXECUTOR"
	Canceled         Kind = "CANCELED"
)

// Error is a categorized dispatch failure.
type Error struct {
	Kind    Kind
	Backend string
	Message string
	cause   error
}

// New creates an Error without an underlying cause.
func New(kind Kind, backend, message string) *Error {
	return &Error{Kind: kind, Backend: backend, Message: message}
}

// Wrap creates an Error around cause. A nil cause yields nil.
func Wrap(kind Kind, backend string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Backend: backend, Message: cause.Error(), cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil && e.cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// KindOf reports the kind of the outermost categorized error in err's chain.
// Bare context errors map to Timeout and Canceled; anything else is Executor.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout
	case errors.Is(err, context.Canceled):
		return Canceled
	default:
		return Executor
	}
}

// IsRetryable reports whether err is worth another attempt.
// Connection and Timeout failures are retryable wherever they appear in the
// chain, so an Executor failure wrapping one is retryable too.
func IsRetryable(err error) bool {
	for err != nil {
		var fe *Error
		if !errors.As(err, &fe) {
			return false
		}

		switch fe.Kind {
		case Connection, Timeout:
			return true
		case Executor:
			err = fe.cause
		default:
			return false
		}
	}

	return false
}

// IsKind reports whether any categorized error in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		var fe *Error
		if !errors.As(err, &fe) {
			return false
		}
		if fe.Kind == kind {
			return true
		}
		err = fe.cause
	}
	return false
}
