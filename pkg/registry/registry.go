// Package registry holds every known provider, its adapter and its health,
// and answers routing queries with ordered snapshots.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/DeBrosOfficial/hyperdrive/pkg/errors"
	"github.com/DeBrosOfficial/hyperdrive/pkg/provider"
	"go.uber.org/zap"
)

// Candidate is a routing snapshot of one provider together with its adapter.
type Candidate struct {
	provider.Descriptor
	Adapter provider.Adapter
}

// circuit is the breaker bookkeeping behind the Unavailable state.
type circuit struct {
	trips    int
	openedAt time.Time
	cooldown time.Duration
}

type entry struct {
	desc    provider.Descriptor
	adapter provider.Adapter
	circuit circuit
}

// Registry is the provider table. Writers take the single mutex exclusively;
// every reader gets a copy.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  *zap.Logger
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// Register adds a provider. Health always starts Unknown regardless of the
// descriptor passed in.
func (r *Registry) Register(desc provider.Descriptor, adapter provider.Adapter) error {
	if desc.ID == "" {
		return errors.NewValidationError("id", "provider id must not be empty", desc.ID)
	}
	if _, err := provider.ParseCategory(string(desc.Category)); err != nil {
		return errors.NewValidationError("category", err.Error(), desc.Category)
	}
	if adapter == nil {
		return errors.NewValidationError("adapter", "adapter must not be nil", nil)
	}

	d := desc.Clone()
	d.Health = provider.HealthUnknown
	d.ConsecutiveFailures = 0
	d.LastProbeAt = time.Time{}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[d.ID]; exists {
		return errors.NewConflictError("provider", "id", d.ID)
	}
	r.entries[d.ID] = &entry{desc: d, adapter: adapter}

	r.logger.Info("Provider registered",
		zap.String("provider", d.ID),
		zap.String("category", string(d.Category)),
		zap.Int("priority", d.Priority),
		zap.Bool("active", d.Active),
	)
	return nil
}

// Deregister removes a provider. In-flight operations keep the snapshot they
// were routed with.
func (r *Registry) Deregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; !ok {
		return errors.NewNotFoundError("provider", id)
	}
	delete(r.entries, id)
	r.logger.Info("Provider deregistered", zap.String("provider", id))
	return nil
}

// Activate brings the adapter up and marks the provider routable.
func (r *Registry) Activate(ctx context.Context, id string) error {
	return r.setActive(ctx, id, true)
}

// Deactivate takes the provider out of routing and shuts its adapter down.
// Health is left untouched.
func (r *Registry) Deactivate(ctx context.Context, id string) error {
	return r.setActive(ctx, id, false)
}

func (r *Registry) setActive(ctx context.Context, id string, active bool) error {
	adapter, err := r.Adapter(id)
	if err != nil {
		return err
	}

	// The adapter call may block; it runs without the registry lock.
	if active {
		err = adapter.Activate(ctx)
	} else {
		// Unroute first so no new attempt lands on a closing adapter.
		if err := r.flipActive(id, false); err != nil {
			return err
		}
		err = adapter.Deactivate(ctx)
	}
	if err != nil {
		r.logger.Warn("Provider activation change failed",
			zap.String("provider", id),
			zap.Bool("active", active),
			zap.Error(err),
		)
		return errors.Wrapf(err, "failed to set provider %s active=%t", id, active)
	}

	if err := r.flipActive(id, active); err != nil {
		return err
	}
	r.logger.Info("Provider activation changed", zap.String("provider", id), zap.Bool("active", active))
	return nil
}

func (r *Registry) flipActive(id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return errors.NewNotFoundError("provider", id)
	}
	e.desc.Active = active
	return nil
}

// SetPriority changes the routing priority of a provider.
func (r *Registry) SetPriority(id string, priority int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return errors.NewNotFoundError("provider", id)
	}
	e.desc.Priority = priority
	return nil
}

// Get returns a copy of a provider descriptor.
func (r *Registry) Get(id string) (provider.Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return provider.Descriptor{}, errors.NewNotFoundError("provider", id)
	}
	return e.desc.Clone(), nil
}

// Adapter returns the adapter registered for id.
func (r *Registry) Adapter(id string) (provider.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, errors.NewNotFoundError("provider", id)
	}
	return e.adapter, nil
}

// List returns copies of every descriptor, sorted by id.
func (r *Registry) List() []provider.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]provider.Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.desc.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CandidatesFor returns the providers able to serve kind in category, ordered
// by health severity then priority (id breaks remaining ties). Inactive,
// incapable and Unavailable providers are filtered out. An empty category
// matches every category.
func (r *Registry) CandidatesFor(category provider.Category, kind provider.OperationKind) ([]Candidate, error) {
	r.mu.RLock()
	out := make([]Candidate, 0, len(r.entries))
	for _, e := range r.entries {
		d := e.desc
		if !d.Active || !d.Supports(kind) || d.Health == provider.HealthUnavailable {
			continue
		}
		if category != "" && d.Category != category {
			continue
		}
		out = append(out, Candidate{Descriptor: d.Clone(), Adapter: e.adapter})
	}
	r.mu.RUnlock()

	if len(out) == 0 {
		return nil, errors.NewCoded(errors.CodeNoProviderAvailable,
			fmt.Sprintf("no provider available for %s in category %q", kind, category), nil)
	}

	SortCandidates(out)
	return out, nil
}

// SortCandidates orders candidates by (health severity, priority, id).
func SortCandidates(c []Candidate) {
	sort.SliceStable(c, func(i, j int) bool {
		si, sj := c[i].Health.Severity(), c[j].Health.Severity()
		if si != sj {
			return si < sj
		}
		if c[i].Priority != c[j].Priority {
			return c[i].Priority < c[j].Priority
		}
		return c[i].ID < c[j].ID
	})
}
