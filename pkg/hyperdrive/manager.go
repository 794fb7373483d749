// Package hyperdrive is the single entry point to the provider layer. A
// Manager validates operations, routes them over the registry and hands them
// to the failover executor, the replication coordinator or the consensus
// resolver. It never talks to a backend directly.
package hyperdrive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/DeBrosOfficial/hyperdrive/pkg/consensus"
	"github.com/DeBrosOfficial/hyperdrive/pkg/errors"
	"github.com/DeBrosOfficial/hyperdrive/pkg/events"
	"github.com/DeBrosOfficial/hyperdrive/pkg/failover"
	"github.com/DeBrosOfficial/hyperdrive/pkg/provider"
	"github.com/DeBrosOfficial/hyperdrive/pkg/registry"
	"github.com/DeBrosOfficial/hyperdrive/pkg/replication"
	"github.com/DeBrosOfficial/hyperdrive/pkg/routing"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Journal persists conflicts, health transitions and late replica answers.
// pkg/audit provides SQL-backed implementations.
type Journal interface {
	consensus.Store
	AppendHealth(ctx context.Context, ev provider.HealthEvent) error
	AppendLate(ctx context.Context, targetID string, kind provider.OperationKind, a provider.Attempt) error
}

// Manager is the provider manager facade. Construct one with New; there is
// no package-level instance.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	registry   *registry.Registry
	health     *registry.HealthMonitor
	engine     *routing.Engine
	executor   *failover.Executor
	replicator *replication.Coordinator
	resolver   *consensus.Resolver
	journal    Journal
	bus        *events.Bus[provider.HealthEvent]
	clock      func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	bg      sync.WaitGroup
	closed  bool
	bgCtx   context.Context
	stopBg  context.CancelFunc
	started bool
}

// Option customises a Manager.
type Option func(*Manager)

// WithJournal persists conflicts, health changes and late responses.
func WithJournal(j Journal) Option {
	return func(m *Manager) { m.journal = j }
}

// WithBus publishes health events on an existing bus.
func WithBus(bus *events.Bus[provider.HealthEvent]) Option {
	return func(m *Manager) { m.bus = bus }
}

// WithClock replaces time.Now in the health monitor.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.clock = now }
}

// New wires a manager from cfg. Zero fields of cfg take their defaults.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultConfig().DefaultTimeout
	}
	if cfg.AutoReplicationMax < 0 {
		cfg.AutoReplicationMax = 0
	}

	m := &Manager{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	if m.bus == nil {
		m.bus = events.NewBus[provider.HealthEvent]()
	}

	monitorOpts := []registry.MonitorOption{registry.WithBus(m.bus)}
	if m.clock != nil {
		monitorOpts = append(monitorOpts, registry.WithClock(m.clock))
	}

	m.registry = registry.New(logger.Named("registry"))
	m.health = registry.NewHealthMonitor(m.registry, cfg.Health, logger.Named("health"), monitorOpts...)
	m.engine = routing.NewEngine(cfg.Routing, nil, logger.Named("routing"))
	m.executor = failover.New(cfg.Failover, m.health, m.engine.Performance(), logger.Named("failover"))
	m.replicator = replication.New(cfg.Replication, m.health, m.engine.Performance(), logger.Named("replication"),
		replication.WithLateHook(m.recordLate))

	var store consensus.Store
	if m.journal != nil {
		store = m.journal
	}
	m.resolver = consensus.NewResolver(store, logger.Named("consensus"))

	m.bgCtx, m.stopBg = context.WithCancel(context.Background())
	return m
}

// Registry exposes the provider table.
func (m *Manager) Registry() *registry.Registry { return m.registry }

// HealthMonitor exposes the health state machine.
func (m *Manager) HealthMonitor() *registry.HealthMonitor { return m.health }

// Events returns the health event bus.
func (m *Manager) Events() *events.Bus[provider.HealthEvent] { return m.bus }

// Performance returns latency statistics per provider.
func (m *Manager) Performance() []routing.Stats {
	return m.engine.Performance().Snapshot()
}

// Start launches the probe loop and the background consumers of health
// events. It is a no-op when already started.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.closed {
		return
	}
	m.started = true

	ctx, m.cancel = context.WithCancel(ctx)
	m.health.Start(ctx)

	routed, unsubRouting := m.bus.Subscribe(events.DefaultBuffer)
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		defer unsubRouting()
		m.engine.Watch(ctx, routed)
	}()

	if m.journal != nil {
		journaled, unsubJournal := m.bus.Subscribe(events.DefaultBuffer)
		m.bg.Add(1)
		go func() {
			defer m.bg.Done()
			defer unsubJournal()
			m.journalHealth(ctx, journaled)
		}()
	}
}

func (m *Manager) journalHealth(ctx context.Context, evs <-chan provider.HealthEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-evs:
			if !ok {
				return
			}
			if err := m.journal.AppendHealth(ctx, ev); err != nil {
				m.logger.Warn("Failed to journal health event", zap.String("provider", ev.Provider), zap.Error(err))
			}
		}
	}
}

// Close stops the probe loop and waits for background replication and
// read repair to finish.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.health.Stop()
	// Background writes finish under their own timeouts before bgCtx goes.
	m.bg.Wait()
	m.stopBg()
	return nil
}

// RegisterProvider adds a provider. When desc.Active is set its adapter is
// activated before the provider becomes routable; a failed activation leaves
// the provider unregistered.
func (m *Manager) RegisterProvider(ctx context.Context, desc provider.Descriptor, adapter provider.Adapter) error {
	activate := desc.Active
	desc.Active = false
	if err := m.registry.Register(desc, adapter); err != nil {
		return err
	}
	if !activate {
		return nil
	}
	if err := m.registry.Activate(ctx, desc.ID); err != nil {
		_ = m.registry.Deregister(desc.ID)
		return err
	}
	return nil
}

// DeregisterProvider removes a provider and shuts its adapter down.
func (m *Manager) DeregisterProvider(ctx context.Context, id string) error {
	d, err := m.registry.Get(id)
	if err != nil {
		return err
	}
	if d.Active {
		if err := m.registry.Deactivate(ctx, id); err != nil {
			m.logger.Warn("Adapter shutdown failed during deregistration", zap.String("provider", id), zap.Error(err))
		}
	}
	return m.registry.Deregister(id)
}

// ActivateProvider puts a provider back into routing.
func (m *Manager) ActivateProvider(ctx context.Context, id string) error {
	return m.registry.Activate(ctx, id)
}

// DeactivateProvider takes a provider out of routing.
func (m *Manager) DeactivateProvider(ctx context.Context, id string) error {
	return m.registry.Deactivate(ctx, id)
}

// Providers lists every registered provider.
func (m *Manager) Providers() []provider.Descriptor { return m.registry.List() }

// GetProviderHealth returns the current health of a provider.
func (m *Manager) GetProviderHealth(id string) (provider.HealthState, error) {
	return m.health.Health(id)
}

// GetConflicts returns every conflict recorded for targetID, oldest first.
func (m *Manager) GetConflicts(ctx context.Context, targetID string) ([]consensus.ConflictRecord, error) {
	return m.resolver.Store().ByTarget(ctx, targetID)
}

// Execute runs one logical operation and returns its immutable result.
func (m *Manager) Execute(ctx context.Context, op provider.Operation) provider.Result {
	op, err := m.prepare(op)
	if err != nil {
		return failure(err)
	}

	snapshot, err := m.registry.CandidatesFor(op.Category, op.Kind)
	if err != nil {
		return failure(err)
	}
	plan, err := m.engine.Route(snapshot, op)
	if err != nil {
		return failure(err)
	}

	log := m.logger.With(
		zap.String("op", string(op.Kind)),
		zap.String("target", op.TargetID),
		zap.Stringer("replication", op.Replication),
	)
	log.Debug("Operation routed", zap.Int("candidates", len(plan.Candidates)))

	var res provider.Result
	switch {
	case op.VerifiedRead || (op.Replication.Kind == provider.ReplicationQuorum && !op.Kind.Mutating()):
		res = m.verifiedRead(ctx, op, plan)
	case op.Replication.Kind == provider.ReplicationQuorum:
		res, _ = m.replicator.Write(ctx, plan.Candidates, op, plan.Required)
	case op.Replication.Kind == provider.ReplicationBestEffort:
		res = m.executor.Execute(ctx, plan.Candidates, op)
		if !res.IsError() && op.Kind.Mutating() {
			m.replicate(op, plan.Candidates, res.AuthoritativeProvider())
		}
	default:
		res = m.executor.Execute(ctx, plan.Candidates, op)
	}

	if res.IsError() {
		log.Warn("Operation failed",
			zap.String("error_kind", res.ErrorKind()),
			zap.Int("attempts", len(res.Attempts())),
			zap.String("error", res.Message()),
		)
	}
	return res
}

// prepare validates op and fills in defaults.
func (m *Manager) prepare(op provider.Operation) (provider.Operation, error) {
	if _, err := provider.ParseOperationKind(string(op.Kind)); err != nil {
		return op, errors.NewValidationError("kind", err.Error(), op.Kind)
	}
	if op.Category != "" {
		if _, err := provider.ParseCategory(string(op.Category)); err != nil {
			return op, errors.NewValidationError("category", err.Error(), op.Category)
		}
	}
	if op.TargetID == "" && op.Kind != provider.KindSearch {
		return op, errors.NewValidationError("target_id", "target id is required", nil)
	}
	if op.Timeout < 0 {
		return op, errors.NewValidationError("timeout", "timeout must not be negative", op.Timeout)
	}
	if err := op.Replication.Validate(); err != nil {
		return op, err
	}
	if op.Replication.Kind != provider.ReplicationNone && op.IdempotencyKey == "" {
		return op, errors.NewValidationError("idempotency_key",
			fmt.Sprintf("idempotency key is required for %s replication", op.Replication), nil)
	}
	if op.VerifiedRead && op.Kind.Mutating() {
		return op, errors.NewValidationError("verified_read", "verified reads apply to read operations only", op.Kind)
	}

	if op.IdempotencyKey == "" && op.Kind.Mutating() {
		// Generated once, so every failover attempt carries the same key.
		op.IdempotencyKey = uuid.NewString()
	}
	if op.Timeout == 0 {
		op.Timeout = m.cfg.DefaultTimeout
	}
	op.Payload = append([]byte(nil), op.Payload...)
	op.Providers = append([]string(nil), op.Providers...)
	return op, nil
}

func failure(err error) provider.Result {
	if opErr, ok := err.(*provider.OperationError); ok {
		return provider.Failure(opErr)
	}
	return provider.Failure(provider.NewOperationError(errors.GetErrorCode(err), errors.GetErrorMessage(err), nil, err))
}

func (m *Manager) recordLate(op provider.Operation, r replication.Response) {
	if m.journal == nil {
		return
	}
	if err := m.journal.AppendLate(m.bgCtx, op.TargetID, op.Kind, r.Attempt()); err != nil {
		m.logger.Warn("Failed to journal late response", zap.String("provider", r.Provider), zap.Error(err))
	}
}
