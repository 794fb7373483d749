// Package routing turns a registry snapshot and an operation into the
// ordered list of providers to contact.
package routing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/DeBrosOfficial/hyperdrive/pkg/errors"
	"github.com/DeBrosOfficial/hyperdrive/pkg/provider"
	"github.com/DeBrosOfficial/hyperdrive/pkg/registry"
	"go.uber.org/zap"
)

// Strategy reorders candidates that tie on (health, priority). It never
// moves a candidate across a health or priority boundary.
type Strategy string

const (
	StrategyPriority    Strategy = "priority"
	StrategyRoundRobin  Strategy = "round_robin"
	StrategyPerformance Strategy = "performance"
)

// ParseStrategy validates a configured strategy name. Empty means priority.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyPriority:
		return StrategyPriority, nil
	case StrategyRoundRobin:
		return StrategyRoundRobin, nil
	case StrategyPerformance:
		return StrategyPerformance, nil
	default:
		return "", fmt.Errorf("unknown load balancing strategy %q", s)
	}
}

// Config configures the engine.
type Config struct {
	Strategy             Strategy
	VerifiedReadReplicas int
}

// Plan is the routing decision for one operation.
type Plan struct {
	// Candidates in the order they must be tried, or the replica set.
	Candidates []registry.Candidate
	// Required is the number of acks needed for quorum writes and the number
	// of values to gather for verified reads; zero otherwise.
	Required int
}

// Engine is the routing engine. Route does no I/O.
type Engine struct {
	cfg    Config
	perf   *PerformanceTracker
	logger *zap.Logger

	mu      sync.Mutex
	cursors map[string]int
}

// NewEngine creates an engine. perf may be nil unless the strategy is
// performance.
func NewEngine(cfg Config, perf *PerformanceTracker, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyPriority
	}
	if cfg.VerifiedReadReplicas <= 0 {
		cfg.VerifiedReadReplicas = 3
	}
	if perf == nil {
		perf = NewPerformanceTracker(DefaultAlpha)
	}
	return &Engine{
		cfg:     cfg,
		perf:    perf,
		logger:  logger,
		cursors: make(map[string]int),
	}
}

// Performance returns the tracker used by the performance strategy.
func (e *Engine) Performance() *PerformanceTracker { return e.perf }

// Route builds the plan for op from a registry snapshot that is already
// ordered by (health, priority).
//
// None and BestEffort get the full ordered list. Quorum gets the top N
// candidates: Healthy ones first, topped up with Unknown then Degraded ones.
// A quorum that cannot be met by the available candidates fails here,
// before any provider is contacted.
func (e *Engine) Route(snapshot []registry.Candidate, op provider.Operation) (Plan, error) {
	cands := restrict(snapshot, op.Providers)
	if len(cands) == 0 {
		return Plan{}, errors.NewCoded(errors.CodeNoProviderAvailable,
			fmt.Sprintf("no provider available for %s in category %q", op.Kind, op.Category), nil)
	}
	e.balance(cands, op)

	switch {
	case op.Replication.Kind == provider.ReplicationQuorum:
		if err := op.Replication.Validate(); err != nil {
			return Plan{}, err
		}
		n := op.Replication.Replicas
		if n > len(cands) {
			n = len(cands)
		}
		if n < op.Replication.Required {
			return Plan{}, errors.NewCoded(errors.CodeQuorumNotReached,
				fmt.Sprintf("quorum needs %d acks but only %d providers are eligible",
					op.Replication.Required, len(cands)), nil)
		}
		return Plan{Candidates: cands[:n], Required: op.Replication.Required}, nil

	case op.VerifiedRead:
		n := e.cfg.VerifiedReadReplicas
		if n > len(cands) {
			n = len(cands)
		}
		return Plan{Candidates: cands[:n], Required: n}, nil

	default:
		return Plan{Candidates: cands}, nil
	}
}

func restrict(cands []registry.Candidate, only []string) []registry.Candidate {
	out := make([]registry.Candidate, 0, len(cands))
	if len(only) == 0 {
		return append(out, cands...)
	}
	allowed := make(map[string]bool, len(only))
	for _, id := range only {
		allowed[id] = true
	}
	for _, c := range cands {
		if allowed[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

// balance applies the strategy to each run of candidates tied on
// (health, priority).
func (e *Engine) balance(cands []registry.Candidate, op provider.Operation) {
	if e.cfg.Strategy == StrategyPriority {
		return
	}
	for start := 0; start < len(cands); {
		end := start + 1
		for end < len(cands) && tied(cands[start], cands[end]) {
			end++
		}
		if end-start > 1 {
			group := cands[start:end]
			switch e.cfg.Strategy {
			case StrategyRoundRobin:
				e.rotate(group, op)
			case StrategyPerformance:
				e.byLatency(group)
			}
		}
		start = end
	}
}

func tied(a, b registry.Candidate) bool {
	return a.Health.Severity() == b.Health.Severity() && a.Priority == b.Priority
}

func (e *Engine) rotate(group []registry.Candidate, op provider.Operation) {
	key := fmt.Sprintf("%s/%s/%s/%d", op.Category, op.Kind, group[0].Health, group[0].Priority)

	e.mu.Lock()
	shift := e.cursors[key] % len(group)
	e.cursors[key]++
	e.mu.Unlock()

	if shift == 0 {
		return
	}
	rotated := append(append([]registry.Candidate(nil), group[shift:]...), group[:shift]...)
	copy(group, rotated)
}

// byLatency puts unobserved providers first so they get measured, then the
// fastest smoothed latency.
func (e *Engine) byLatency(group []registry.Candidate) {
	sort.SliceStable(group, func(i, j int) bool {
		li, oki := e.perf.Latency(group[i].ID)
		lj, okj := e.perf.Latency(group[j].ID)
		if oki != okj {
			return !oki
		}
		return li < lj
	})
}

// ResetCursors clears round-robin state.
func (e *Engine) ResetCursors() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cursors = make(map[string]int)
}

// Watch consumes health events until ctx ends or the channel closes. Any
// transition changes tie groups, so round-robin cursors start over.
func (e *Engine) Watch(ctx context.Context, events <-chan provider.HealthEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			e.logger.Debug("Routing state reset after health change",
				zap.String("provider", ev.Provider),
				zap.Stringer("state", ev.To),
			)
			e.ResetCursors()
		}
	}
}
