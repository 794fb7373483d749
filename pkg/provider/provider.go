// Package provider defines the data-access contract shared by every backend
// adapter and the core: provider descriptors, operations, adapter calls and
// the immutable result envelope returned to callers.
package provider

import (
	"fmt"
	"strings"
	"time"
)

// Category groups providers that can serve the same kind of data.
type Category string

const (
	CategoryBlockchain    Category = "blockchain"
	CategoryDocumentStore Category = "document_store"
	CategoryObjectStore   Category = "object_store"
	CategoryContentStore  Category = "content_store"
	CategorySQLDatabase   Category = "sql_database"
	CategoryKeyValue      Category = "key_value"
)

var categories = []Category{
	CategoryBlockchain,
	CategoryDocumentStore,
	CategoryObjectStore,
	CategoryContentStore,
	CategorySQLDatabase,
	CategoryKeyValue,
}

// ParseCategory converts a configured category name into a Category.
func ParseCategory(s string) (Category, error) {
	normalized := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, c := range categories {
		if c == normalized {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown provider category %q", s)
}

// OperationKind names a single data-access verb.
type OperationKind string

const (
	KindSave            OperationKind = "save"
	KindLoad            OperationKind = "load"
	KindDelete          OperationKind = "delete"
	KindSearch          OperationKind = "search"
	KindSendTransaction OperationKind = "send_transaction"
)

var kinds = []OperationKind{KindSave, KindLoad, KindDelete, KindSearch, KindSendTransaction}

// ParseOperationKind converts a configured operation name into an OperationKind.
func ParseOperationKind(s string) (OperationKind, error) {
	normalized := OperationKind(strings.ToLower(strings.TrimSpace(s)))
	for _, k := range kinds {
		if k == normalized {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown operation kind %q", s)
}

// Mutating reports whether the kind produces a durable effect on the backend.
func (k OperationKind) Mutating() bool {
	switch k {
	case KindSave, KindDelete, KindSendTransaction:
		return true
	default:
		return false
	}
}

// Descriptor describes one registered backend.
//
// Health fields (Health, LastProbeAt, ConsecutiveFailures) are owned by the
// health monitor; Priority and Active are owned by the registry. Values
// handed out by the registry are copies.
type Descriptor struct {
	ID                  string          `json:"id"`
	Category            Category        `json:"category"`
	Priority            int             `json:"priority"`
	Capabilities        []OperationKind `json:"capabilities"`
	Active              bool            `json:"active"`
	Health              HealthState     `json:"health"`
	LastProbeAt         time.Time       `json:"last_probe_at,omitempty"`
	ConsecutiveFailures int             `json:"consecutive_failures"`
}

// Supports reports whether the provider declares the given capability.
func (d Descriptor) Supports(kind OperationKind) bool {
	for _, k := range d.Capabilities {
		if k == kind {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the descriptor.
func (d Descriptor) Clone() Descriptor {
	out := d
	if d.Capabilities != nil {
		out.Capabilities = append([]OperationKind(nil), d.Capabilities...)
	}
	return out
}
