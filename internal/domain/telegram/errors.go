package telegram

import "errors"

// SendError wraps a delivery failure and marks whether resending can help.
// A blocked bot or a deleted chat is permanent; network trouble and flood
// limits are not.
type SendError struct {
	Err       error
	Retryable bool
}

func (e *SendError) Error() string {
	return e.Err.Error()
}

func (e *SendError) IsRetryable() bool {
	return e.Retryable
}

func (e *SendError) Unwrap() error {
	return e.Err
}

func NewRetryableError(err error) *SendError {
	return &SendError{Err: err, Retryable: true}
}

func NewPermanentError(err error) *SendError {
	return &SendError{Err: err, Retryable: false}
}

// IsRetryable reports whether err is worth another attempt. Errors that do
// not say otherwise are retried.
func IsRetryable(err error) bool {
	type retryable interface {
		IsRetryable() bool
	}
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return true
}
