// Package failover runs an operation against an ordered candidate list, one
// provider at a time, until the first success.
package failover

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/DeBrosOfficial/hyperdrive/pkg/errors"
	"github.com/DeBrosOfficial/hyperdrive/pkg/provider"
	"github.com/DeBrosOfficial/hyperdrive/pkg/registry"
	"go.uber.org/zap"
)

// HealthReporter receives the outcome of every attempt.
type HealthReporter interface {
	RecordSuccess(id string) error
	RecordFailure(id string, cause error) error
}

// LatencyObserver receives attempt latencies, e.g. a routing.PerformanceTracker.
type LatencyObserver interface {
	Observe(id string, latency time.Duration, ok bool)
}

// Config tunes attempt timeouts and backoff.
type Config struct {
	MinAttemptTimeout time.Duration
	// AttemptTimeout bounds each attempt when the operation has no deadline.
	AttemptTimeout time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// SingleAttempt disables failover: only the first candidate is tried.
	SingleAttempt bool
}

// DefaultConfig returns the default executor settings.
func DefaultConfig() Config {
	return Config{
		MinAttemptTimeout: 250 * time.Millisecond,
		AttemptTimeout:    10 * time.Second,
		BackoffInitial:    100 * time.Millisecond,
		BackoffMax:        2 * time.Second,
	}
}

// Executor is the failover executor.
type Executor struct {
	cfg    Config
	health HealthReporter
	perf   LatencyObserver
	logger *zap.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(time.Duration) time.Duration
}

// New creates an executor. health and perf may be nil.
func New(cfg Config, health HealthReporter, perf LatencyObserver, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := DefaultConfig()
	if cfg.MinAttemptTimeout <= 0 {
		cfg.MinAttemptTimeout = d.MinAttemptTimeout
	}
	if cfg.AttemptTimeout < cfg.MinAttemptTimeout {
		cfg.AttemptTimeout = max(d.AttemptTimeout, cfg.MinAttemptTimeout)
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = d.BackoffInitial
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		cfg.BackoffMax = cfg.BackoffInitial
	}
	return &Executor{
		cfg:    cfg,
		health: health,
		perf:   perf,
		logger: logger,
		sleep:  sleepCtx,
		jitter: addJitter,
	}
}

// Execute tries candidates strictly in order and returns on the first
// success. Transient failures move on to the next candidate after a jittered
// backoff; a permanent rejection aborts. Missing or stale reads move on
// without backoff. op.Timeout, when set, bounds the whole run.
func (x *Executor) Execute(ctx context.Context, cands []registry.Candidate, op provider.Operation) provider.Result {
	if op.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, op.Timeout)
		defer cancel()
	}

	limit := len(cands)
	if x.cfg.SingleAttempt && limit > 1 {
		limit = 1
	}

	var (
		attempts   []provider.Attempt
		firstStale *provider.Value
		staleFrom  string
		missing    int
		lastErr    error
		backoff    = x.cfg.BackoffInitial
	)

	for i := 0; i < limit; i++ {
		if ctx.Err() != nil {
			break
		}
		c := cands[i]
		perAttempt := x.attemptTimeout(ctx, limit-i)

		attemptCtx, cancel := context.WithTimeout(ctx, perAttempt)
		start := time.Now()
		value, err := c.Adapter.Execute(attemptCtx, op.Call(perAttempt))
		elapsed := time.Since(start)
		attemptErr := attemptCtx.Err()
		cancel()

		// The operation deadline or the caller ended the run; the provider is
		// not blamed.
		if err != nil && ctx.Err() != nil {
			attempts = append(attempts, provider.Attempt{
				Provider: c.ID,
				Outcome:  cancelledOutcome(ctx),
				Code:     terminalCode(ctx),
				Message:  err.Error(),
				Duration: elapsed,
			})
			break
		}

		if err != nil && stderrors.Is(attemptErr, context.DeadlineExceeded) {
			err = errors.NewCoded(errors.CodeProviderTimeout,
				fmt.Sprintf("provider %s timed out after %s", c.ID, perAttempt), err)
		}

		outcome := provider.Classify(err)
		if err == nil && value.Stale && !op.Kind.Mutating() {
			outcome = provider.OutcomeStale
		}

		attempt := provider.Attempt{Provider: c.ID, Outcome: outcome, Duration: elapsed}
		if err != nil {
			attempt.Code = errors.GetErrorCode(err)
			attempt.Message = err.Error()
		}
		attempts = append(attempts, attempt)

		log := x.logger.With(
			zap.String("provider", c.ID),
			zap.String("op", string(op.Kind)),
			zap.String("target", op.TargetID),
			zap.Int("attempt", i+1),
		)

		switch outcome {
		case provider.OutcomeSuccess:
			x.report(c.ID, elapsed, nil)
			log.Debug("Attempt succeeded", zap.Duration("latency", elapsed))
			return provider.Success(&value, c.ID, attempts)

		case provider.OutcomeStale, provider.OutcomeMissing:
			// The provider answered; it simply lacks a fresh value.
			x.report(c.ID, elapsed, nil)
			if outcome == provider.OutcomeMissing {
				missing++
				lastErr = err
			} else if firstStale == nil {
				v := value
				firstStale = &v
				staleFrom = c.ID
			}
			log.Debug("Value missing or stale, trying next provider", zap.String("state", string(outcome)))

		case provider.OutcomeRejected:
			// A rejection is an answer; the provider stays reachable.
			x.report(c.ID, elapsed, nil)
			log.Warn("Provider rejected operation", zap.Error(err))
			return provider.Failure(provider.NewOperationError(errors.CodeProviderRejected,
				fmt.Sprintf("operation rejected by provider %s", c.ID), attempts, err))

		default:
			x.report(c.ID, elapsed, err)
			lastErr = err
			log.Warn("Attempt failed", zap.String("state", string(outcome)), zap.Error(err))

			if i+1 < limit {
				if err := x.sleep(ctx, x.jitter(backoff)); err != nil {
					continue
				}
				backoff = nextBackoff(backoff, x.cfg.BackoffMax)
			}
		}
	}

	if ctx.Err() != nil {
		code := terminalCode(ctx)
		return provider.Failure(provider.NewOperationError(code,
			fmt.Sprintf("operation %s on %q ended after %d attempts", op.Kind, op.TargetID, len(attempts)),
			attempts, ctx.Err()))
	}

	if firstStale != nil {
		return provider.Success(firstStale, staleFrom, attempts)
	}

	if missing > 0 && missing == len(attempts) {
		return provider.Failure(provider.NewOperationError(errors.CodeNotFound,
			fmt.Sprintf("%q not found on any of %d providers", op.TargetID, missing), attempts, lastErr))
	}

	return provider.Failure(provider.NewOperationError(errors.CodeAllProvidersFailed,
		fmt.Sprintf("all %d providers failed for %s on %q", len(attempts), op.Kind, op.TargetID),
		attempts, lastErr))
}

// attemptTimeout splits the remaining budget evenly across the remaining
// attempts, never below the configured floor.
func (x *Executor) attemptTimeout(ctx context.Context, remaining int) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return x.cfg.AttemptTimeout
	}
	per := time.Until(deadline) / time.Duration(remaining)
	if per < x.cfg.MinAttemptTimeout {
		per = x.cfg.MinAttemptTimeout
	}
	return per
}

func (x *Executor) report(id string, elapsed time.Duration, err error) {
	if x.perf != nil {
		x.perf.Observe(id, elapsed, err == nil)
	}
	if x.health == nil {
		return
	}
	var rerr error
	if err == nil {
		rerr = x.health.RecordSuccess(id)
	} else {
		rerr = x.health.RecordFailure(id, err)
	}
	if rerr != nil {
		x.logger.Debug("Health report dropped", zap.String("provider", id), zap.Error(rerr))
	}
}

func terminalCode(ctx context.Context) string {
	if stderrors.Is(ctx.Err(), context.Canceled) {
		return errors.CodeCancelled
	}
	return errors.CodeOperationTimeout
}

func cancelledOutcome(ctx context.Context) provider.Outcome {
	if stderrors.Is(ctx.Err(), context.Canceled) {
		return provider.OutcomeCancelled
	}
	return provider.OutcomeTimeout
}
