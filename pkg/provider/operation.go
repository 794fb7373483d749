package provider

import (
	"fmt"
	"strings"
	"time"

	"github.com/DeBrosOfficial/hyperdrive/pkg/errors"
)

// ReplicationKind selects how an operation is spread across providers.
type ReplicationKind int

const (
	ReplicationNone ReplicationKind = iota
	ReplicationBestEffort
	ReplicationQuorum
)

func (k ReplicationKind) String() string {
	switch k {
	case ReplicationNone:
		return "none"
	case ReplicationBestEffort:
		return "best_effort"
	case ReplicationQuorum:
		return "quorum"
	default:
		return fmt.Sprintf("ReplicationKind(%d)", int(k))
	}
}

// ReplicationMode describes the replica set for an operation. For quorum
// modes Replicas is the size of the replica set and Required the number of
// acknowledgements needed.
type ReplicationMode struct {
	Kind     ReplicationKind `json:"kind"`
	Replicas int             `json:"replicas,omitempty"`
	Required int             `json:"required,omitempty"`
}

// None sends the operation to a single provider at a time.
func None() ReplicationMode { return ReplicationMode{Kind: ReplicationNone} }

// BestEffort writes through failover and replicates to further providers in
// the background.
func BestEffort() ReplicationMode { return ReplicationMode{Kind: ReplicationBestEffort} }

// Quorum fans out to n providers and requires a strict majority of them.
func Quorum(n int) ReplicationMode {
	return ReplicationMode{Kind: ReplicationQuorum, Replicas: n, Required: n/2 + 1}
}

// QuorumOf fans out to replicas providers and requires required acks.
func QuorumOf(replicas, required int) ReplicationMode {
	return ReplicationMode{Kind: ReplicationQuorum, Replicas: replicas, Required: required}
}

// ParseReplication builds a mode from its name. A zero required count
// means a strict majority of replicas.
func ParseReplication(name string, replicas, required int) (ReplicationMode, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return None(), nil
	case "best_effort":
		return BestEffort(), nil
	case "quorum":
		if required == 0 {
			return Quorum(replicas), nil
		}
		return QuorumOf(replicas, required), nil
	default:
		return ReplicationMode{}, errors.NewValidationError("replication",
			"replication must be none, best_effort or quorum", name)
	}
}

// Validate checks the majority invariant: required acks never exceed the
// replica set and always form a strict majority of it.
func (m ReplicationMode) Validate() error {
	if m.Kind != ReplicationQuorum {
		return nil
	}
	if m.Replicas < 1 {
		return errors.NewValidationError("replication.replicas", "quorum needs at least one replica", m.Replicas)
	}
	if m.Required > m.Replicas {
		return errors.NewValidationError("replication.required",
			fmt.Sprintf("required acks %d exceed replica count %d", m.Required, m.Replicas), m.Required)
	}
	if m.Required*2 <= m.Replicas {
		return errors.NewValidationError("replication.required",
			fmt.Sprintf("required acks %d are not a majority of %d replicas", m.Required, m.Replicas), m.Required)
	}
	return nil
}

func (m ReplicationMode) String() string {
	if m.Kind == ReplicationQuorum {
		return fmt.Sprintf("quorum(%d/%d)", m.Required, m.Replicas)
	}
	return m.Kind.String()
}

// Operation is one logical request submitted to the manager.
type Operation struct {
	Kind           OperationKind
	Category       Category
	TargetID       string
	Payload        []byte
	IdempotencyKey string
	Replication    ReplicationMode
	Timeout        time.Duration
	// VerifiedRead gathers the value from several providers and resolves
	// disagreements through consensus.
	VerifiedRead bool
	// Providers optionally restricts routing to the named providers.
	Providers []string
}

// Call returns the adapter-facing view of the operation for one attempt.
// The idempotency key is copied verbatim.
func (o Operation) Call(timeout time.Duration) Call {
	return Call{
		Kind:           o.Kind,
		TargetID:       o.TargetID,
		Payload:        o.Payload,
		IdempotencyKey: o.IdempotencyKey,
		Timeout:        timeout,
	}
}

// Call is what an adapter receives for a single attempt.
type Call struct {
	Kind           OperationKind
	TargetID       string
	Payload        []byte
	IdempotencyKey string
	Timeout        time.Duration
}

// Value is the data returned by a provider.
type Value struct {
	Data []byte `json:"data"`
	// Timestamp is the provider-reported modification time, zero if unknown.
	Timestamp time.Time `json:"timestamp,omitempty"`
	// Stale marks a value the provider knows may be outdated.
	Stale bool `json:"stale,omitempty"`
}
