package errors

import (
	"context"
	"errors"
	"net"
)

// IsNotFound checks if an error indicates a resource was not found.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}

	var notFoundErr *NotFoundError
	return errors.As(err, &notFoundErr) || errors.Is(err, ErrNotFound) || hasCode(err, CodeNotFound)
}

// IsValidation checks if an error is a validation error.
func IsValidation(err error) bool {
	if err == nil {
		return false
	}

	var validationErr *ValidationError
	return errors.As(err, &validationErr) || errors.Is(err, ErrInvalidInput)
}

// IsConflict checks if an error indicates a resource conflict.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}

	var conflictErr *ConflictError
	return errors.As(err, &conflictErr) || errors.Is(err, ErrConflict)
}

// IsTimeout checks if an error indicates a timeout, including context
// deadlines and network timeouts.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) || errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return hasCode(err, CodeTimeout) || hasCode(err, CodeProviderTimeout)
}

// IsServiceUnavailable checks if an error indicates a service is unavailable.
func IsServiceUnavailable(err error) bool {
	if err == nil {
		return false
	}

	var serviceErr *ServiceError
	return errors.As(err, &serviceErr) || errors.Is(err, ErrServiceUnavailable)
}

// IsRejected checks if a provider permanently refused the request.
func IsRejected(err error) bool {
	if err == nil {
		return false
	}

	var rejectedErr *RejectedError
	return errors.As(err, &rejectedErr) || errors.Is(err, ErrRejected) || hasCode(err, CodeProviderRejected)
}

// IsInternal checks if an error is an internal error.
func IsInternal(err error) bool {
	if err == nil {
		return false
	}

	var internalErr *InternalError
	return errors.As(err, &internalErr) || errors.Is(err, ErrInternal)
}

// IsPermanent reports whether retrying the request on another provider
// cannot succeed: validation failures and explicit rejections.
func IsPermanent(err error) bool {
	return IsValidation(err) || IsRejected(err)
}

// ShouldRetry checks if an operation should be retried based on the error.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}

	if IsPermanent(err) {
		return false
	}

	if IsTimeout(err) || IsServiceUnavailable(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var customErr Error
	if errors.As(err, &customErr) {
		return IsRetryable(customErr.Code())
	}

	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) string {
	if err == nil {
		return CodeOK
	}

	var customErr Error
	if errors.As(err, &customErr) {
		return customErr.Code()
	}

	switch {
	case errors.Is(err, context.Canceled):
		return CodeCancelled
	case IsNotFound(err):
		return CodeNotFound
	case IsValidation(err):
		return CodeValidation
	case IsConflict(err):
		return CodeConflict
	case IsTimeout(err):
		return CodeTimeout
	case IsRejected(err):
		return CodeProviderRejected
	case IsServiceUnavailable(err):
		return CodeServiceUnavailable
	default:
		return CodeInternal
	}
}

// GetErrorMessage extracts a human-readable message from an error.
func GetErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	var customErr Error
	if errors.As(err, &customErr) {
		return customErr.Message()
	}

	return err.Error()
}

// Cause returns the underlying cause of an error.
// It unwraps the error chain until it finds the root cause.
func Cause(err error) error {
	for {
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		underlying := unwrapper.Unwrap()
		if underlying == nil {
			return err
		}
		err = underlying
	}
}

func hasCode(err error, code string) bool {
	var customErr Error
	return errors.As(err, &customErr) && customErr.Code() == code
}
