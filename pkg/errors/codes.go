package errors

// Error codes for categorizing errors.
// These codes map to HTTP status codes where applicable.
const (
	// CodeOK indicates success (not an error).
	CodeOK = "OK"

	// CodeCancelled indicates the operation was cancelled by the caller.
	CodeCancelled = "CANCELLED"

	// CodeInternal indicates internal errors.
	CodeInternal = "INTERNAL"

	// CodeValidation indicates input validation failed.
	CodeValidation = "VALIDATION_ERROR"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound = "NOT_FOUND"

	// CodeConflict indicates a resource conflict (e.g., duplicate registration).
	CodeConflict = "CONFLICT"

	// CodeTimeout indicates an operation timed out.
	CodeTimeout = "TIMEOUT"

	// CodeServiceUnavailable indicates a downstream service is unavailable.
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"

	// CodeNetworkError indicates a network operation failed.
	CodeNetworkError = "NETWORK_ERROR"

	// CodeDatabaseError indicates a database operation failed.
	CodeDatabaseError = "DATABASE_ERROR"

	// CodeStorageError indicates a storage operation failed.
	CodeStorageError = "STORAGE_ERROR"

	// CodeConfigError indicates a configuration error.
	CodeConfigError = "CONFIG_ERROR"

	// CodeUnimplemented indicates the operation is not supported.
	CodeUnimplemented = "UNIMPLEMENTED"

	// Provider routing error codes

	// CodeNoProviderAvailable indicates routing found zero eligible candidates.
	CodeNoProviderAvailable = "NO_PROVIDER_AVAILABLE"

	// CodeProviderTimeout indicates a single provider attempt timed out.
	CodeProviderTimeout = "PROVIDER_TIMEOUT"

	// CodeProviderRejected indicates a provider permanently refused the request.
	CodeProviderRejected = "PROVIDER_REJECTED"

	// CodeAllProvidersFailed indicates every candidate was tried and failed.
	CodeAllProvidersFailed = "ALL_PROVIDERS_FAILED"

	// CodeQuorumNotReached indicates replication could not gather enough acks.
	CodeQuorumNotReached = "QUORUM_NOT_REACHED"

	// CodeConflictDetected indicates providers disagreed on a value. Non-fatal.
	CodeConflictDetected = "CONFLICT_DETECTED"

	// CodeOperationTimeout indicates the overall operation deadline expired.
	CodeOperationTimeout = "OPERATION_TIMEOUT"
)

// ErrorCategory represents a high-level error category.
type ErrorCategory string

const (
	// CategoryClient indicates a client-side error (4xx).
	CategoryClient ErrorCategory = "CLIENT_ERROR"

	// CategoryServer indicates a server-side error (5xx).
	CategoryServer ErrorCategory = "SERVER_ERROR"

	// CategoryNetwork indicates a network-related error.
	CategoryNetwork ErrorCategory = "NETWORK_ERROR"

	// CategoryTimeout indicates a timeout error.
	CategoryTimeout ErrorCategory = "TIMEOUT_ERROR"

	// CategoryProvider indicates the provider set could not serve the operation.
	CategoryProvider ErrorCategory = "PROVIDER_ERROR"
)

// GetCategory returns the category for an error code.
func GetCategory(code string) ErrorCategory {
	switch code {
	case CodeValidation, CodeNotFound, CodeConflict, CodeProviderRejected:
		return CategoryClient

	case CodeTimeout, CodeProviderTimeout, CodeOperationTimeout:
		return CategoryTimeout

	case CodeNetworkError, CodeServiceUnavailable:
		return CategoryNetwork

	case CodeNoProviderAvailable, CodeAllProvidersFailed, CodeQuorumNotReached:
		return CategoryProvider

	default:
		return CategoryServer
	}
}

// IsRetryable returns true if an error with the given code may succeed
// when retried against another provider.
func IsRetryable(code string) bool {
	switch code {
	case CodeTimeout, CodeProviderTimeout,
		CodeServiceUnavailable, CodeNetworkError,
		CodeDatabaseError, CodeStorageError:
		return true
	default:
		return false
	}
}

// IsClientError returns true if the error is a client error (4xx).
func IsClientError(code string) bool {
	return GetCategory(code) == CategoryClient
}

// IsServerError returns true if the error is a server error (5xx).
func IsServerError(code string) bool {
	return GetCategory(code) == CategoryServer
}
