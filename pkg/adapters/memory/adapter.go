// Package memory is an in-process provider backed by a map. It serves any
// category and is used for demo setups and scratch replicas.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/DeBrosOfficial/hyperdrive/pkg/errors"
	"github.com/DeBrosOfficial/hyperdrive/pkg/provider"
)

type Adapter struct {
	id  string
	now func() time.Time

	mu      sync.RWMutex
	active  bool
	entries map[string]provider.Value
	applied map[string]bool
}

func New(id string) *Adapter {
	return &Adapter{
		id:      id,
		now:     time.Now,
		entries: make(map[string]provider.Value),
		applied: make(map[string]bool),
	}
}

func (a *Adapter) Activate(context.Context) error {
	a.mu.Lock()
	a.active = true
	a.mu.Unlock()
	return nil
}

// Deactivate keeps the stored entries; a later Activate serves them again.
func (a *Adapter) Deactivate(context.Context) error {
	a.mu.Lock()
	a.active = false
	a.mu.Unlock()
	return nil
}

func (a *Adapter) Probe(context.Context) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.active
}

// Len returns the number of stored entries.
func (a *Adapter) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

func (a *Adapter) Execute(ctx context.Context, call provider.Call) (provider.Value, error) {
	if err := ctx.Err(); err != nil {
		return provider.Value{}, errors.FromBackend("memory", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.active {
		return provider.Value{}, errors.NewServiceError("memory", fmt.Sprintf("provider %s is not active", a.id), 0, nil)
	}

	switch call.Kind {
	case provider.KindSave:
		if call.IdempotencyKey != "" && a.applied[call.IdempotencyKey] {
			return a.entries[call.TargetID], nil
		}
		v := provider.Value{Data: append([]byte(nil), call.Payload...), Timestamp: a.now().UTC()}
		a.entries[call.TargetID] = v
		a.markApplied(call.IdempotencyKey)
		return v, nil

	case provider.KindDelete:
		if call.IdempotencyKey != "" && a.applied[call.IdempotencyKey] {
			return provider.Value{}, nil
		}
		if _, ok := a.entries[call.TargetID]; !ok {
			return provider.Value{}, errors.NewNotFoundError("entity", call.TargetID)
		}
		delete(a.entries, call.TargetID)
		a.markApplied(call.IdempotencyKey)
		return provider.Value{}, nil

	case provider.KindLoad:
		v, ok := a.entries[call.TargetID]
		if !ok {
			return provider.Value{}, errors.NewNotFoundError("entity", call.TargetID)
		}
		return v, nil

	case provider.KindSearch:
		return a.search(call.TargetID)
	}
	return provider.Value{}, errors.NewRejectedError(a.id, fmt.Sprintf("unsupported operation %s", call.Kind), nil)
}

func (a *Adapter) markApplied(key string) {
	if key != "" {
		a.applied[key] = true
	}
}

func (a *Adapter) search(prefix string) (provider.Value, error) {
	var matches []provider.Match
	var newest time.Time
	for id, v := range a.entries {
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		matches = append(matches, provider.Match{ID: id, Data: v.Data})
		if v.Timestamp.After(newest) {
			newest = v.Timestamp
		}
	}
	return provider.Value{Data: provider.EncodeMatches(matches), Timestamp: newest}, nil
}
