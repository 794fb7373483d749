package hyperdrive

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/DeBrosOfficial/hyperdrive/pkg/consensus"
	"github.com/DeBrosOfficial/hyperdrive/pkg/errors"
	"github.com/DeBrosOfficial/hyperdrive/pkg/provider"
	"github.com/DeBrosOfficial/hyperdrive/pkg/registry"
	"github.com/DeBrosOfficial/hyperdrive/pkg/replication"
	"github.com/DeBrosOfficial/hyperdrive/pkg/routing"
	"go.uber.org/zap"
)

// verifiedRead gathers the value from the providers of the plan and lets
// the resolver pick the authoritative one. Quorum reads stop once settled. Disagreement is not an error: the
// result carries the conflict flag instead.
func (m *Manager) verifiedRead(ctx context.Context, op provider.Operation, plan routing.Plan) provider.Result {
	var (
		resps     []replication.Response
		gatherErr error
	)
	if op.Replication.Kind == provider.ReplicationQuorum {
		resps, _, gatherErr = m.replicator.GatherQuorum(ctx, plan.Candidates, op, plan.Required)
	} else {
		resps, _, gatherErr = m.replicator.Gather(ctx, plan.Candidates, op)
	}

	trail := make([]provider.Attempt, 0, len(resps))
	var (
		fresh, stale []consensus.Candidate
		missing      int
		lastErr      error
	)
	for _, r := range resps {
		trail = append(trail, r.Attempt())
		vote := consensus.Candidate{Provider: r.Provider, Priority: r.Priority, Value: r.Value}
		switch r.Outcome {
		case provider.OutcomeSuccess:
			fresh = append(fresh, vote)
		case provider.OutcomeStale:
			stale = append(stale, vote)
		case provider.OutcomeMissing:
			missing++
			lastErr = r.Err
		default:
			lastErr = r.Err
		}
	}

	if gatherErr != nil {
		code := errors.CodeOperationTimeout
		if stderrors.Is(ctx.Err(), context.Canceled) {
			code = errors.CodeCancelled
		}
		return provider.Failure(provider.NewOperationError(code,
			fmt.Sprintf("verified read of %q ended with %d of %d answers", op.TargetID, len(resps), len(plan.Candidates)),
			trail, gatherErr))
	}

	votes := fresh
	if len(votes) == 0 {
		votes = stale
	}

	if op.Replication.Kind == provider.ReplicationQuorum && len(votes) < plan.Required {
		return provider.Failure(provider.NewOperationError(errors.CodeQuorumNotReached,
			fmt.Sprintf("read of %q: %d values, %d required", op.TargetID, len(votes), plan.Required),
			trail, lastErr))
	}

	if len(votes) == 0 {
		if missing == len(resps) {
			return provider.Failure(provider.NewOperationError(errors.CodeNotFound,
				fmt.Sprintf("%q not found on any of %d providers", op.TargetID, missing), trail, lastErr))
		}
		return provider.Failure(provider.NewOperationError(errors.CodeAllProvidersFailed,
			fmt.Sprintf("no provider returned a value for %q", op.TargetID), trail, lastErr))
	}

	res, err := m.resolver.Resolve(ctx, op.TargetID, votes)
	if err != nil {
		return failure(err)
	}

	winner := res.Winner.Value
	out := provider.Success(&winner, res.Winner.Provider, trail)
	if res.Conflict != nil {
		out = out.WithConflict(provider.ConflictInfo{ID: res.Conflict.ID, Rule: string(res.Rule)})
		if m.cfg.ReadRepair {
			m.repair(op, plan.Candidates, res)
		}
	}
	return out
}

// repair writes the resolved value to dissenting providers that accept saves.
func (m *Manager) repair(op provider.Operation, cands []registry.Candidate, res consensus.Resolution) {
	dissent := make(map[string]bool, len(res.Dissenters))
	for _, id := range res.Dissenters {
		dissent[id] = true
	}

	var targets []registry.Candidate
	for _, c := range cands {
		if dissent[c.ID] && c.Supports(provider.KindSave) {
			targets = append(targets, c)
		}
	}
	if len(targets) == 0 {
		return
	}

	repairOp := provider.Operation{
		Kind:           provider.KindSave,
		TargetID:       op.TargetID,
		Payload:        append([]byte(nil), res.Winner.Value.Data...),
		IdempotencyKey: "repair-" + res.Conflict.ID,
		Timeout:        op.Timeout,
	}
	m.background("read repair", repairOp, targets)
}

// replicate copies a successful BestEffort write to further providers. The
// caller already has its result; outcomes only reach logs and health.
func (m *Manager) replicate(op provider.Operation, cands []registry.Candidate, primary string) {
	if m.cfg.AutoReplicationMax == 0 {
		return
	}
	var targets []registry.Candidate
	for _, c := range cands {
		if c.ID == primary {
			continue
		}
		targets = append(targets, c)
		if len(targets) == m.cfg.AutoReplicationMax {
			break
		}
	}
	if len(targets) == 0 {
		return
	}
	m.background("auto-replication", op, targets)
}

// background fans op out to targets detached from the caller. The manager
// waits for these on Close.
func (m *Manager) background(purpose string, op provider.Operation, targets []registry.Candidate) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.bg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.bg.Done()
		ctx, cancel := context.WithTimeout(m.bgCtx, op.Timeout)
		defer cancel()

		_, set, err := m.replicator.Gather(ctx, targets, op)
		// Replica calls end by their own deadline even when ctx is done.
		_ = set.Wait(context.Background())
		applied := 0
		for _, r := range set.Responses() {
			fields := []zap.Field{
				zap.String("purpose", purpose),
				zap.String("provider", r.Provider),
				zap.String("target", op.TargetID),
				zap.String("state", string(r.Outcome)),
			}
			if r.Err != nil {
				m.logger.Warn("Background write failed", append(fields, zap.Error(r.Err))...)
				continue
			}
			applied++
			m.logger.Debug("Background write applied", fields...)
		}
		if err != nil || applied < len(targets) {
			m.logger.Info("Background writes incomplete",
				zap.String("purpose", purpose),
				zap.String("target", op.TargetID),
				zap.Int("applied", applied),
				zap.Int("targets", len(targets)),
			)
		}
	}()
}
