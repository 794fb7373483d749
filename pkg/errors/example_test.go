package errors_test

import (
	"fmt"
	"net/http/httptest"

	"github.com/DeBrosOfficial/hyperdrive/pkg/errors"
)

// Example demonstrates creating and using validation errors.
func ExampleNewValidationError() {
	err := errors.NewValidationError("idempotency_key", "required for replicated operations", "")
	fmt.Println(err.Error())
	fmt.Println("Code:", err.Code())
	// Output:
	// validation error: idempotency_key: required for replicated operations
	// Code: VALIDATION_ERROR
}

// Example demonstrates classifying provider failures.
func ExampleShouldRetry() {
	timeout := errors.NewTimeoutError("ipfs add", "2s")
	rejected := errors.NewRejectedError("eth-main", "invalid signature", nil)

	fmt.Println("Timeout should retry:", errors.ShouldRetry(timeout))
	fmt.Println("Rejection should retry:", errors.ShouldRetry(rejected))
	// Output:
	// Timeout should retry: true
	// Rejection should retry: false
}

// Example demonstrates converting errors to HTTP responses.
func ExampleToHTTPError() {
	err := errors.NewNotFoundError("entity", "e-42")
	httpErr := errors.ToHTTPError(err, "trace-abc-123")

	fmt.Println("Status:", httpErr.Status)
	fmt.Println("Code:", httpErr.Code)
	fmt.Println("Message:", httpErr.Message)
	// Output:
	// Status: 404
	// Code: NOT_FOUND
	// Message: entity not found
}

func ExampleWriteHTTPError() {
	err := errors.NewCoded(errors.CodeNoProviderAvailable, "no provider for storage", nil)

	w := httptest.NewRecorder()
	errors.WriteHTTPError(w, err, "trace-xyz")

	fmt.Println("Status Code:", w.Code)
	fmt.Println("Content-Type:", w.Header().Get("Content-Type"))
	// Output:
	// Status Code: 503
	// Content-Type: application/json
}

// Example demonstrates getting the root cause of an error chain.
func ExampleCause() {
	root := fmt.Errorf("connection refused")
	level1 := errors.Wrap(root, "probe failed")
	level2 := errors.Wrap(level1, "health check failed")

	fmt.Println(errors.Cause(level2).Error())
	// Output:
	// connection refused
}
