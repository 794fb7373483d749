package audit

import (
	"context"
	"sync"
	"time"

	"github.com/DeBrosOfficial/hyperdrive/pkg/consensus"
	"github.com/DeBrosOfficial/hyperdrive/pkg/provider"
)

// MemoryLog keeps the journal in process memory. Contents are lost on exit.
type MemoryLog struct {
	*consensus.MemoryStore

	mu     sync.RWMutex
	health []provider.HealthEvent
	late   []LateReply
	now    func() time.Time
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{MemoryStore: consensus.NewMemoryStore(), now: time.Now}
}

func (m *MemoryLog) AppendHealth(_ context.Context, ev provider.HealthEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.health = append(m.health, ev)
	return nil
}

func (m *MemoryLog) AppendLate(_ context.Context, targetID string, kind provider.OperationKind, a provider.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.late = append(m.late, LateReply{TargetID: targetID, Kind: kind, Attempt: a, At: m.now()})
	return nil
}

func (m *MemoryLog) HealthEvents(_ context.Context, providerID string, limit int) ([]provider.HealthEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []provider.HealthEvent
	for i := len(m.health) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		if providerID == "" || m.health[i].Provider == providerID {
			out = append(out, m.health[i])
		}
	}
	return out, nil
}

func (m *MemoryLog) LateReplies(_ context.Context, targetID string) ([]LateReply, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []LateReply
	for _, r := range m.late {
		if r.TargetID == targetID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryLog) Close() error { return nil }
