package errors

import sterrors "errors"

var (
	ErrConfigRequired        = sterrors.New("bifrost: configuration is required")
	ErrLoggerRequired        = sterrors.New("bifrost: logger is required")
	ErrTopicRequired         = sterrors.New("bifrost: topic is required")
	ErrProducerNotStarted    = sterrors.New("bifrost: producer not started")
	ErrConsumerNotStarted    = sterrors.New("bifrost: consumer not started")
	ErrConsumerStopped       = sterrors.New("bifrost: consumer stopped")
	ErrSubscriptionClosed    = sterrors.New("bifrost: subscription closed unexpectedly")
	ErrProcessorRequired     = sterrors.New("bifrost: processor is required")
	ErrEventPayloadRequired  = sterrors.New("bifrost: event payload is required")
	ErrDeadLetterUnavailable = sterrors.New("bifrost: dead letter producer not configured")
	ErrManagerRunning        = sterrors.New("bifrost: pipeline manager already running")
)

// ConfigValidationError wraps the joined validation failures of a Config.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "bifrost: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
