package envelope

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("eventflow: envelope validation failed")

	// ErrUnknownEventType matches every *UnknownEventTypeError.
	ErrUnknownEventType = errors.New("eventflow: unknown event type")

	// ErrPermanent marks transport failures that will not heal on retry, such
	// as an oversized message.
	ErrPermanent = errors.New("eventflow: permanent failure")
)

// FieldError is a single structural or schema violation.
type FieldError struct {
	Field   string
	Message string
}

func (f FieldError) String() string {
	return f.Field + ": " + f.Message
}

// ValidationError is a caller error. It is never retried.
type ValidationError struct {
	EventType string
	Fields    []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.String()
	}
	if e.EventType == "" {
		return fmt.Sprintf("eventflow: invalid envelope: %s", strings.Join(parts, "; "))
	}
	return fmt.Sprintf("eventflow: invalid %s envelope: %s", e.EventType, strings.Join(parts, "; "))
}

// Is implements errors.Is for ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// UnknownEventTypeError is returned for a type outside the registered
// vocabulary. It is never retried.
type UnknownEventTypeError struct {
	Type string
}

func (e *UnknownEventTypeError) Error() string {
	return fmt.Sprintf("eventflow: unknown event type %q", e.Type)
}

// Is implements errors.Is for UnknownEventTypeError.
func (e *UnknownEventTypeError) Is(target error) bool {
	return target == ErrUnknownEventType
}

type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string { return e.err.Error() }
func (e *nonRetryableError) Unwrap() error { return e.err }
func (e *nonRetryableError) Is(target error) bool {
	return target == ErrPermanent
}

// NonRetryable marks err so the retry executor gives up immediately.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

// ErrorClass groups failures by how the pipeline reacts to them.
type ErrorClass int

const (
	ClassNone ErrorClass = iota
	// ClassCaller errors surface synchronously and are never retried.
	ClassCaller
	// ClassTransient errors are retried per policy.
	ClassTransient
	// ClassPermanent errors stop retrying and go to the dead-letter channel.
	ClassPermanent
	// ClassExpired means the call ran out of time.
	ClassExpired
)

func (c ErrorClass) String() string {
	switch c {
	case ClassCaller:
		return "caller"
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	case ClassExpired:
		return "expired"
	default:
		return "none"
	}
}

// ClassifyError maps err onto an ErrorClass. Unknown errors are transient.
func ClassifyError(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrValidation), errors.Is(err, ErrUnknownEventType):
		return ClassCaller
	case errors.Is(err, ErrPermanent):
		return ClassPermanent
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ClassExpired
	default:
		return ClassTransient
	}
}

// IsRetryable reports whether the retry executor should try again after err.
func IsRetryable(err error) bool {
	return ClassifyError(err) == ClassTransient
}
