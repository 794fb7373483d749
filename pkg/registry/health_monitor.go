package registry

import (
	"context"
	"sync"
	"time"

	"github.com/DeBrosOfficial/hyperdrive/pkg/errors"
	"github.com/DeBrosOfficial/hyperdrive/pkg/events"
	"github.com/DeBrosOfficial/hyperdrive/pkg/provider"
	"go.uber.org/zap"
)

// HealthConfig tunes the health state machine and the probe loop.
type HealthConfig struct {
	FailureThreshold int           // consecutive failures before Unavailable
	CooldownBase     time.Duration // first cool-down after the circuit opens
	CooldownMax      time.Duration // cool-down cap
	ProbeInterval    time.Duration
	ProbeTimeout     time.Duration
	ProbeWorkers     int
}

// DefaultHealthConfig returns the default thresholds.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		FailureThreshold: 3,
		CooldownBase:     5 * time.Second,
		CooldownMax:      5 * time.Minute,
		ProbeInterval:    10 * time.Second,
		ProbeTimeout:     2 * time.Second,
		ProbeWorkers:     8,
	}
}

func (c HealthConfig) withDefaults() HealthConfig {
	d := DefaultHealthConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.CooldownBase <= 0 {
		c.CooldownBase = d.CooldownBase
	}
	if c.CooldownMax < c.CooldownBase {
		c.CooldownMax = c.CooldownBase
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = d.ProbeInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	if c.ProbeWorkers <= 0 {
		c.ProbeWorkers = d.ProbeWorkers
	}
	return c
}

// CircuitStatus exposes the breaker state of a provider.
type CircuitStatus struct {
	Trips    int           `json:"trips"`
	OpenedAt time.Time     `json:"opened_at,omitempty"`
	Cooldown time.Duration `json:"cooldown"`
	RetryAt  time.Time     `json:"retry_at,omitempty"`
}

// HealthMonitor is the only writer of provider health. It implements
//
//	Unknown -> Healthy <-> Degraded -> Unavailable -> (after cool-down) Healthy
//
// One failure degrades a provider, FailureThreshold consecutive failures
// open its circuit. A success while open is only honoured once the
// cool-down has elapsed (half-open); a failure while half-open re-opens the
// circuit with a doubled cool-down.
type HealthMonitor struct {
	reg    *Registry
	cfg    HealthConfig
	logger *zap.Logger
	bus    *events.Bus[provider.HealthEvent]
	now    func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// MonitorOption customises a HealthMonitor.
type MonitorOption func(*HealthMonitor)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) MonitorOption {
	return func(h *HealthMonitor) { h.now = now }
}

// WithBus publishes health events on an existing bus.
func WithBus(bus *events.Bus[provider.HealthEvent]) MonitorOption {
	return func(h *HealthMonitor) { h.bus = bus }
}

// NewHealthMonitor creates a monitor over reg.
func NewHealthMonitor(reg *Registry, cfg HealthConfig, logger *zap.Logger, opts ...MonitorOption) *HealthMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &HealthMonitor{
		reg:    reg,
		cfg:    cfg.withDefaults(),
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.bus == nil {
		h.bus = events.NewBus[provider.HealthEvent]()
	}
	return h
}

// Subscribe returns a channel of health transitions and its cancel func.
func (h *HealthMonitor) Subscribe(buffer int) (<-chan provider.HealthEvent, func()) {
	return h.bus.Subscribe(buffer)
}

// Bus returns the event bus the monitor publishes on.
func (h *HealthMonitor) Bus() *events.Bus[provider.HealthEvent] {
	return h.bus
}

// Health returns the current state of a provider.
func (h *HealthMonitor) Health(id string) (provider.HealthState, error) {
	d, err := h.reg.Get(id)
	if err != nil {
		return provider.HealthUnknown, err
	}
	return d.Health, nil
}

// Circuit returns the breaker status of a provider.
func (h *HealthMonitor) Circuit(id string) (CircuitStatus, error) {
	h.reg.mu.RLock()
	defer h.reg.mu.RUnlock()
	e, ok := h.reg.entries[id]
	if !ok {
		return CircuitStatus{}, errors.NewNotFoundError("provider", id)
	}
	st := CircuitStatus{Trips: e.circuit.trips, OpenedAt: e.circuit.openedAt, Cooldown: e.circuit.cooldown}
	if e.desc.Health == provider.HealthUnavailable {
		st.RetryAt = e.circuit.openedAt.Add(e.circuit.cooldown)
	}
	return st, nil
}

// RecordSuccess reports a successful operation or probe.
func (h *HealthMonitor) RecordSuccess(id string) error {
	return h.record(id, nil, false)
}

// RecordFailure reports a failed operation or probe.
func (h *HealthMonitor) RecordFailure(id string, cause error) error {
	if cause == nil {
		cause = errors.New("unspecified failure")
	}
	return h.record(id, cause, false)
}

func (h *HealthMonitor) record(id string, cause error, probe bool) error {
	now := h.now()

	h.reg.mu.Lock()
	e, ok := h.reg.entries[id]
	if !ok {
		h.reg.mu.Unlock()
		return errors.NewNotFoundError("provider", id)
	}
	if probe {
		e.desc.LastProbeAt = now
	}
	from := e.desc.Health
	if cause == nil {
		h.applySuccess(e, now)
	} else {
		h.applyFailure(e, now)
	}
	ev := provider.HealthEvent{
		Provider:            id,
		From:                from,
		To:                  e.desc.Health,
		ConsecutiveFailures: e.desc.ConsecutiveFailures,
		At:                  now,
	}
	retryAt := e.circuit.openedAt.Add(e.circuit.cooldown)
	h.reg.mu.Unlock()

	if cause != nil {
		ev.Cause = cause.Error()
	}
	if ev.From != ev.To {
		fields := []zap.Field{
			zap.String("provider", id),
			zap.Stringer("from", ev.From),
			zap.Stringer("state", ev.To),
			zap.Int("consecutive_failures", ev.ConsecutiveFailures),
		}
		if ev.To == provider.HealthUnavailable {
			h.logger.Warn("Provider circuit opened", append(fields, zap.Time("retry_at", retryAt), zap.String("error", ev.Cause))...)
		} else {
			h.logger.Info("Provider health changed", fields...)
		}
		h.bus.Publish(ev)
	}
	return nil
}

// applySuccess and applyFailure run with the registry lock held.
func (h *HealthMonitor) applySuccess(e *entry, now time.Time) {
	if e.desc.Health == provider.HealthUnavailable {
		// Ignored until the cool-down elapses.
		if now.Before(e.circuit.openedAt.Add(e.circuit.cooldown)) {
			return
		}
		e.circuit.trips = 0
	}
	e.desc.ConsecutiveFailures = 0
	e.desc.Health = provider.HealthHealthy
}

func (h *HealthMonitor) applyFailure(e *entry, now time.Time) {
	e.desc.ConsecutiveFailures++
	switch e.desc.Health {
	case provider.HealthUnavailable:
		if !now.Before(e.circuit.openedAt.Add(e.circuit.cooldown)) {
			h.open(e, now)
		}
	default:
		e.desc.Health = provider.HealthDegraded
		if e.desc.ConsecutiveFailures >= h.cfg.FailureThreshold {
			h.open(e, now)
		}
	}
}

func (h *HealthMonitor) open(e *entry, now time.Time) {
	e.circuit.trips++
	cooldown := h.cfg.CooldownBase
	for i := 1; i < e.circuit.trips && cooldown < h.cfg.CooldownMax; i++ {
		cooldown *= 2
	}
	if cooldown > h.cfg.CooldownMax {
		cooldown = h.cfg.CooldownMax
	}
	e.circuit.cooldown = cooldown
	e.circuit.openedAt = now
	e.desc.Health = provider.HealthUnavailable
}

type probeTarget struct {
	id      string
	adapter provider.Adapter
}

// dueForProbe lists active providers, skipping open circuits whose cool-down
// has not elapsed.
func (h *HealthMonitor) dueForProbe() []probeTarget {
	now := h.now()
	h.reg.mu.RLock()
	defer h.reg.mu.RUnlock()

	targets := make([]probeTarget, 0, len(h.reg.entries))
	for id, e := range h.reg.entries {
		if !e.desc.Active {
			continue
		}
		if e.desc.Health == provider.HealthUnavailable && now.Before(e.circuit.openedAt.Add(e.circuit.cooldown)) {
			continue
		}
		targets = append(targets, probeTarget{id: id, adapter: e.adapter})
	}
	return targets
}

// ProbeAll probes every due provider once using a bounded worker pool and
// returns how many were probed.
func (h *HealthMonitor) ProbeAll(ctx context.Context) int {
	targets := h.dueForProbe()

	sem := make(chan struct{}, h.cfg.ProbeWorkers)
	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		go func(t probeTarget) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			probeCtx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
			healthy := t.adapter.Probe(probeCtx)
			cancel()

			if ctx.Err() != nil {
				return
			}
			var cause error
			if !healthy {
				cause = errors.NewServiceError(t.id, "probe failed", 0, nil)
			}
			if err := h.record(t.id, cause, true); err != nil {
				h.logger.Debug("Probe result for removed provider dropped", zap.String("provider", t.id))
			}
		}(t)
	}
	wg.Wait()
	return len(targets)
}

// Start runs ProbeAll immediately and then every ProbeInterval until ctx is
// cancelled or Stop is called.
func (h *HealthMonitor) Start(ctx context.Context) {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.running = true
	h.wg.Add(1)
	h.mu.Unlock()

	h.logger.Info("Starting health monitor",
		zap.Duration("interval", h.cfg.ProbeInterval),
		zap.Int("workers", h.cfg.ProbeWorkers),
	)

	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.cfg.ProbeInterval)
		defer ticker.Stop()

		h.ProbeAll(ctx)
		for {
			select {
			case <-ctx.Done():
				h.logger.Info("Health monitor stopped")
				return
			case <-ticker.C:
				h.ProbeAll(ctx)
			}
		}
	}()
}

// Stop cancels the probe loop and waits for it to exit.
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.cancel()
	h.running = false
	h.mu.Unlock()
	h.wg.Wait()
}
