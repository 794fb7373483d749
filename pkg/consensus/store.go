package consensus

import (
	"context"
	"sync"
	"time"
)

// ConflictRecord documents one disagreement between providers.
type ConflictRecord struct {
	ID            string      `json:"id"`
	TargetID      string      `json:"target_id"`
	Candidates    []Candidate `json:"candidates"`
	Rule          Rule        `json:"rule"`
	ResolvedValue []byte      `json:"resolved_value"`
	ResolvedBy    string      `json:"resolved_by"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Store persists conflict records. Implementations are append-only.
type Store interface {
	Append(ctx context.Context, rec ConflictRecord) error
	// ByTarget returns the records for targetID, oldest first.
	ByTarget(ctx context.Context, targetID string) ([]ConflictRecord, error)
}

// MemoryStore keeps conflict records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]ConflictRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]ConflictRecord)}
}

func (m *MemoryStore) Append(_ context.Context, rec ConflictRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.TargetID] = append(m.records[rec.TargetID], rec)
	return nil
}

func (m *MemoryStore) ByTarget(_ context.Context, targetID string) ([]ConflictRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ConflictRecord(nil), m.records[targetID]...), nil
}
