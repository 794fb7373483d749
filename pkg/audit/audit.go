// Package audit persists what the provider manager observes: consensus
// conflicts, provider health transitions and late replica answers.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/DeBrosOfficial/hyperdrive/pkg/hyperdrive"
	"github.com/DeBrosOfficial/hyperdrive/pkg/provider"
	"go.uber.org/zap"
)

// Backends accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRQLite = "rqlite"
)

// LateReply is a replica answer recorded after its operation was decided.
type LateReply struct {
	TargetID string                 `json:"target_id"`
	Kind     provider.OperationKind `json:"kind"`
	Attempt  provider.Attempt       `json:"attempt"`
	At       time.Time              `json:"at"`
}

// Log is a journal that can also be queried.
type Log interface {
	hyperdrive.Journal
	// HealthEvents returns up to limit transitions of providerID, newest
	// first. An empty providerID matches every provider.
	HealthEvents(ctx context.Context, providerID string, limit int) ([]provider.HealthEvent, error)
	// LateReplies returns the late answers for targetID, oldest first.
	LateReplies(ctx context.Context, targetID string) ([]LateReply, error)
	Close() error
}

// Open returns the log for backend. dsn is a file path for sqlite and a URL
// for rqlite; it is ignored for memory.
func Open(ctx context.Context, backend, dsn string, logger *zap.Logger) (Log, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch backend {
	case "", BackendMemory:
		return NewMemoryLog(), nil
	case BackendSQLite:
		return OpenSQLite(ctx, dsn, logger)
	case BackendRQLite:
		return OpenRQLite(ctx, dsn, logger)
	default:
		return nil, fmt.Errorf("unknown audit backend %q", backend)
	}
}
