package provider

import "context"

// Adapter is implemented by every backend client plugged into the manager.
// Adapters own their connection pools; the core never shares them.
type Adapter interface {
	// Activate prepares the adapter for use (open pools, dial endpoints).
	// Activating an already active adapter must succeed.
	Activate(ctx context.Context) error

	// Deactivate releases resources. The adapter may be activated again later.
	Deactivate(ctx context.Context) error

	// Execute performs one attempt of an operation. Implementations must treat
	// a repeated IdempotencyKey for a mutating call as a no-op when the first
	// delivery was already applied. Errors should be classified with the
	// pkg/errors types: timeouts and network failures are transient,
	// RejectedError and ValidationError are permanent, NotFoundError marks a
	// missing value.
	Execute(ctx context.Context, call Call) (Value, error)

	// Probe reports whether the backend currently answers requests.
	Probe(ctx context.Context) bool
}
