package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrPublisherRequired = sterrors.New("eventflow: publisher is required")
	ErrTransportRequired = sterrors.New("eventflow: transport is required")
	ErrChannelRequired   = sterrors.New("eventflow: channel is required")
	ErrConfigRequired    = sterrors.New("eventflow: configuration is required")
	ErrLoggerRequired    = sterrors.New("eventflow: logger is required")
	ErrEnvelopeRequired  = sterrors.New("eventflow: envelope is required")
	ErrStoreRequired     = sterrors.New("eventflow: shared store is required")
	ErrOperationRequired = sterrors.New("eventflow: operation is required")
	ErrPublisherClosed   = sterrors.New("eventflow: publisher is closed")
	ErrPublishExpired    = sterrors.New("eventflow: publish deadline exceeded")
	ErrDeadLettered      = sterrors.New("eventflow: delivery failed, event dead-lettered")
)

// ConfigValidationError wraps the aggregated problems reported by Config.Validate.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("eventflow: invalid configuration: %v", e.Err)
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}
