package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context while preserving the chain.
// If err is nil, Wrap returns nil. If err is already an *Error, its code,
// category, retryability, and metadata are preserved.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var coordErr *Error
	if errors.As(err, &coordErr) {
		wrapped := &Error{
			code:      coordErr.code,
			category:  coordErr.category,
			message:   message,
			cause:     err,
			metadata:  coordErr.Metadata(),
			retryable: coordErr.retryable,
			agentID:   coordErr.agentID,
			taskID:    coordErr.taskID,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeTimeout, message, append(opts, WithCause(err))...)
	}
	if errors.Is(err, context.Canceled) {
		return New(ErrCodeCanceled, message, append(opts, WithCause(err))...)
	}

	return New(ErrCodeInternal, message, append(opts, WithCause(err))...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// Is checks if any error in the chain has the given error code.
func Is(err error, code ErrorCode) bool {
	var coordErr *Error
	if errors.As(err, &coordErr) {
		return coordErr.code == code
	}
	return false
}

// Code extracts the error code from an error, if available.
// Returns the empty string for plain errors.
func Code(err error) ErrorCode {
	var coordErr *Error
	if errors.As(err, &coordErr) {
		return coordErr.code
	}
	return ""
}

// IsRetryable checks if the error is retryable. Plain errors are not.
func IsRetryable(err error) bool {
	var coordErr *Error
	if errors.As(err, &coordErr) {
		return coordErr.Retryable()
	}
	return false
}

// GetMetadata extracts metadata from an error.
// Returns nil for plain errors.
func GetMetadata(err error) map[string]string {
	var coordErr *Error
	if errors.As(err, &coordErr) {
		return coordErr.Metadata()
	}
	return nil
}

// RecoverPanic converts a recovered panic value into an Error.
func RecoverPanic(recovered interface{}) *Error {
	if recovered == nil {
		return nil
	}
	var message string
	switch v := recovered.(type) {
	case error:
		message = v.Error()
	case string:
		message = v
	default:
		message = fmt.Sprintf("%v", v)
	}
	return New(ErrCodePanic, message, WithMetadata("panic_value", fmt.Sprintf("%T", recovered)))
}
