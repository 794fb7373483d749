// Package replication fans an operation out to a replica set in parallel and
// settles on a decision as soon as the outcome is known.
package replication

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/DeBrosOfficial/hyperdrive/pkg/errors"
	"github.com/DeBrosOfficial/hyperdrive/pkg/provider"
	"github.com/DeBrosOfficial/hyperdrive/pkg/registry"
	"go.uber.org/zap"
)

// HealthReporter receives the outcome of every replica call, late ones included.
type HealthReporter interface {
	RecordSuccess(id string) error
	RecordFailure(id string, cause error) error
}

// LatencyObserver receives replica latencies.
type LatencyObserver interface {
	Observe(id string, latency time.Duration, ok bool)
}

// LateHook is called for every response that arrives after the decision.
type LateHook func(op provider.Operation, r Response)

// Config tunes replica timeouts.
type Config struct {
	// ReplicaTimeout caps each replica call. The operation deadline, when
	// earlier, wins.
	ReplicaTimeout time.Duration
}

// DefaultConfig returns the default coordinator settings.
func DefaultConfig() Config {
	return Config{ReplicaTimeout: 10 * time.Second}
}

// Response is one replica's answer.
type Response struct {
	Provider string
	Priority int
	Value    provider.Value
	Err      error
	Outcome  provider.Outcome
	Duration time.Duration
	// Late is set when the response arrived after the decision was made.
	Late bool
}

// OK reports whether the replica answered with a usable value.
func (r Response) OK() bool {
	return r.Outcome == provider.OutcomeSuccess
}

// Attempt converts the response to an attempt trail entry.
func (r Response) Attempt() provider.Attempt {
	a := provider.Attempt{
		Provider: r.Provider,
		Outcome:  r.Outcome,
		Duration: r.Duration,
		Late:     r.Late,
	}
	if r.Err != nil {
		a.Code = errors.GetErrorCode(r.Err)
		a.Message = r.Err.Error()
	}
	return a
}

// Set records every response of one fan-out. Replicas keep answering after
// the decision; those responses are appended with Late set.
type Set struct {
	// Providers is the replica set in routing order.
	Providers []string
	// Required is the number of acknowledgements the decision needed.
	Required int

	mu        sync.Mutex
	responses []Response
	decided   bool
	pending   int
	done      chan struct{}
}

func newSet(cands []registry.Candidate, required int) *Set {
	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.ID
	}
	s := &Set{Providers: ids, Required: required, pending: len(cands), done: make(chan struct{})}
	if len(cands) == 0 {
		close(s.done)
	}
	return s
}

// add stores r, marking it late when the decision was already made.
func (s *Set) add(r Response) Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.Late = s.decided
	s.responses = append(s.responses, r)
	s.pending--
	if s.pending == 0 {
		close(s.done)
	}
	return r
}

// decide freezes the on-time part of the set and returns its trail.
func (s *Set) decide() []provider.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decided = true
	out := make([]provider.Attempt, 0, len(s.responses))
	for _, r := range s.responses {
		out = append(out, r.Attempt())
	}
	return out
}

// Responses returns a copy of every response received so far.
func (s *Set) Responses() []Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Response(nil), s.responses...)
}

// Late returns the responses that arrived after the decision.
func (s *Set) Late() []Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Response
	for _, r := range s.responses {
		if r.Late {
			out = append(out, r)
		}
	}
	return out
}

// Wait blocks until every replica has answered or ctx ends.
func (s *Set) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Coordinator runs replica fan-outs.
type Coordinator struct {
	cfg    Config
	health HealthReporter
	perf   LatencyObserver
	logger *zap.Logger
	onLate LateHook
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLateHook registers a hook for responses arriving after the decision.
func WithLateHook(h LateHook) Option {
	return func(c *Coordinator) { c.onLate = h }
}

// New creates a coordinator. health and perf may be nil.
func New(cfg Config, health HealthReporter, perf LatencyObserver, logger *zap.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReplicaTimeout <= 0 {
		cfg.ReplicaTimeout = DefaultConfig().ReplicaTimeout
	}
	c := &Coordinator{cfg: cfg, health: health, perf: perf, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Write sends op to every candidate concurrently and succeeds once required
// replicas acknowledged. It fails with QUORUM_NOT_REACHED as soon as the
// remaining replicas can no longer make up the difference, and never waits
// for stragglers once the outcome is settled.
func (c *Coordinator) Write(ctx context.Context, cands []registry.Candidate, op provider.Operation, required int) (provider.Result, *Set) {
	n := len(cands)
	if required <= 0 {
		required = n/2 + 1
	}
	if required > n {
		set := newSet(nil, required)
		return provider.Failure(provider.NewOperationError(errors.CodeQuorumNotReached,
			fmt.Sprintf("quorum of %d needs more than the %d available replicas", required, n), nil, nil)), set
	}

	dctx, cancel := c.decisionContext(ctx, op)
	defer cancel()

	set, results := c.fanOut(ctx, dctx, cands, op, required)

	var (
		acks, failures int
		first          *Response
		lastErr        error
	)
	log := c.logger.With(
		zap.String("op", string(op.Kind)),
		zap.String("target", op.TargetID),
		zap.Int("replicas", n),
		zap.Int("required", required),
	)

	for {
		select {
		case r := <-results:
			if ack(op.Kind, r) {
				acks++
				if first == nil {
					rr := r
					first = &rr
				}
			} else {
				failures++
				lastErr = r.Err
			}

			if acks >= required {
				trail := set.decide()
				log.Debug("Quorum reached", zap.Int("acks", acks), zap.String("first", first.Provider))
				return provider.Success(&first.Value, first.Provider, trail), set
			}
			if failures > n-required {
				trail := set.decide()
				if dctx.Err() != nil {
					return c.ended(ctx, op, trail), set
				}
				log.Warn("Quorum no longer reachable", zap.Int("acks", acks), zap.Int("failures", failures))
				return provider.Failure(provider.NewOperationError(errors.CodeQuorumNotReached,
					fmt.Sprintf("%s on %q: %d of %d replicas failed, %d acks required",
						op.Kind, op.TargetID, failures, n, required),
					trail, lastErr)), set
			}

		case <-dctx.Done():
			return c.ended(ctx, op, set.decide()), set
		}
	}
}

// Gather sends op to every candidate concurrently and waits for all of them
// (or the operation deadline). Used by verified reads.
func (c *Coordinator) Gather(ctx context.Context, cands []registry.Candidate, op provider.Operation) ([]Response, *Set, error) {
	return c.collect(ctx, cands, op, 0)
}

// GatherQuorum is Gather for quorum reads: it returns as soon as required
// replicas answered with the same value, or as soon as failures > len -
// required. Replicas still running are recorded as late.
func (c *Coordinator) GatherQuorum(ctx context.Context, cands []registry.Candidate, op provider.Operation, required int) ([]Response, *Set, error) {
	if required <= 0 {
		required = len(cands)/2 + 1
	}
	if required > len(cands) {
		return nil, newSet(nil, required), nil
	}
	return c.collect(ctx, cands, op, required)
}

// collect waits for every response, or with required > 0 until the quorum
// read is settled.
func (c *Coordinator) collect(ctx context.Context, cands []registry.Candidate, op provider.Operation, required int) ([]Response, *Set, error) {
	dctx, cancel := c.decisionContext(ctx, op)
	defer cancel()

	n := len(cands)
	setRequired := required
	if setRequired == 0 {
		setRequired = n
	}
	set, results := c.fanOut(ctx, dctx, cands, op, setRequired)

	var (
		agree    = make(map[string]int)
		failures int
	)
	out := make([]Response, 0, n)
	for len(out) < n {
		select {
		case r := <-results:
			out = append(out, r)
			if required == 0 {
				continue
			}
			if r.OK() {
				key := string(r.Value.Data)
				agree[key]++
				if agree[key] >= required {
					set.decide()
					return out, set, nil
				}
			} else {
				failures++
				if failures > n-required {
					set.decide()
					return out, set, nil
				}
			}
		case <-dctx.Done():
			set.decide()
			return out, set, dctx.Err()
		}
	}
	set.decide()
	return out, set, nil
}

func (c *Coordinator) ended(ctx context.Context, op provider.Operation, trail []provider.Attempt) provider.Result {
	code := errors.CodeOperationTimeout
	cause := context.DeadlineExceeded
	if stderrors.Is(ctx.Err(), context.Canceled) {
		code = errors.CodeCancelled
		cause = context.Canceled
	}
	return provider.Failure(provider.NewOperationError(code,
		fmt.Sprintf("%s on %q ended before a decision", op.Kind, op.TargetID), trail, cause))
}

// decisionContext bounds the wait for a decision by the operation timeout.
func (c *Coordinator) decisionContext(ctx context.Context, op provider.Operation) (context.Context, context.CancelFunc) {
	if op.Timeout > 0 {
		return context.WithTimeout(ctx, op.Timeout)
	}
	return context.WithCancel(ctx)
}

// fanOut starts one goroutine per candidate. Replica calls are detached from
// caller cancellation so stragglers can still be recorded, but never outlive
// the operation deadline.
func (c *Coordinator) fanOut(ctx, dctx context.Context, cands []registry.Candidate, op provider.Operation, required int) (*Set, <-chan Response) {
	set := newSet(cands, required)
	results := make(chan Response, len(cands))

	opDeadline, hasDeadline := dctx.Deadline()
	base := context.WithoutCancel(ctx)

	for _, cand := range cands {
		deadline := time.Now().Add(c.cfg.ReplicaTimeout)
		if hasDeadline && opDeadline.Before(deadline) {
			deadline = opDeadline
		}

		go func(cand registry.Candidate, deadline time.Time) {
			rctx, cancel := context.WithDeadline(base, deadline)
			defer cancel()

			timeout := time.Until(deadline)
			start := time.Now()
			value, err := cand.Adapter.Execute(rctx, op.Call(timeout))
			elapsed := time.Since(start)

			blame := true
			if err != nil && stderrors.Is(rctx.Err(), context.DeadlineExceeded) {
				if hasDeadline && !deadline.Before(opDeadline) {
					err = errors.NewCoded(errors.CodeOperationTimeout,
						fmt.Sprintf("operation deadline reached while waiting for %s", cand.ID), err)
					blame = false
				} else {
					err = errors.NewCoded(errors.CodeProviderTimeout,
						fmt.Sprintf("provider %s timed out after %s", cand.ID, timeout), err)
				}
			}

			outcome := provider.Classify(err)
			if err == nil && value.Stale && !op.Kind.Mutating() {
				outcome = provider.OutcomeStale
			}

			r := set.add(Response{
				Provider: cand.ID,
				Priority: cand.Priority,
				Value:    value,
				Err:      err,
				Outcome:  outcome,
				Duration: elapsed,
			})
			if blame {
				c.report(r)
			}
			if r.Late {
				c.late(op, r)
			}
			results <- r
		}(cand, deadline)
	}
	return set, results
}

// ack reports whether r counts towards the quorum. Deleting an absent
// entity is already the desired state.
func ack(kind provider.OperationKind, r Response) bool {
	if r.Outcome == provider.OutcomeSuccess {
		return true
	}
	return kind == provider.KindDelete && r.Outcome == provider.OutcomeMissing
}

func (c *Coordinator) report(r Response) {
	// Rejected and missing answers still prove the provider is reachable.
	ok := !r.Outcome.Transient()
	if c.perf != nil {
		c.perf.Observe(r.Provider, r.Duration, ok)
	}
	if c.health == nil {
		return
	}
	var err error
	if ok {
		err = c.health.RecordSuccess(r.Provider)
	} else {
		err = c.health.RecordFailure(r.Provider, r.Err)
	}
	if err != nil {
		c.logger.Debug("Health report dropped", zap.String("provider", r.Provider), zap.Error(err))
	}
}

func (c *Coordinator) late(op provider.Operation, r Response) {
	c.logger.Debug("Late replica response",
		zap.String("provider", r.Provider),
		zap.String("op", string(op.Kind)),
		zap.String("target", op.TargetID),
		zap.String("state", string(r.Outcome)),
		zap.Duration("latency", r.Duration),
	)
	if c.onLate != nil {
		c.onLate(op, r)
	}
}
