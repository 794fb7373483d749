// Package consensus reconciles divergent values read from several providers
// into one authoritative value and records every disagreement.
package consensus

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"github.com/DeBrosOfficial/hyperdrive/pkg/errors"
	"github.com/DeBrosOfficial/hyperdrive/pkg/provider"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Rule names the resolution rule that decided.
type Rule string

const (
	RuleUnanimous  Rule = "unanimous"
	RuleMajority   Rule = "majority"
	RuleMostRecent Rule = "most_recent"
	RulePriority   Rule = "priority"
)

// Candidate is one provider's answer.
type Candidate struct {
	Provider string         `json:"provider"`
	Priority int            `json:"priority"`
	Value    provider.Value `json:"value"`
}

// Fingerprint identifies a value by content.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Decision is the outcome of Decide.
type Decision struct {
	Winner      Candidate
	Rule        Rule
	Fingerprint string
	// Dissenters lists providers whose value lost, sorted by ID.
	Dissenters []string
}

// Unanimous reports whether every candidate agreed.
func (d Decision) Unanimous() bool { return d.Rule == RuleUnanimous }

type group struct {
	fingerprint string
	members     []Candidate
	latest      time.Time
}

// Decide applies the rules in order: unanimity, strict majority, a unique
// most recent timestamp, then the lowest priority number (provider ID breaks
// ties). The result depends only on the set of candidates, not their order.
func Decide(cands []Candidate) (Decision, error) {
	if len(cands) == 0 {
		return Decision{}, errors.NewValidationError("candidates", "nothing to resolve", nil)
	}

	sorted := make([]Candidate, len(cands))
	copy(sorted, cands)
	sort.Slice(sorted, func(i, j int) bool {
		return less(sorted[i], sorted[j])
	})

	byPrint := make(map[string]*group)
	var groups []*group
	for _, c := range sorted {
		fp := Fingerprint(c.Value.Data)
		g, ok := byPrint[fp]
		if !ok {
			g = &group{fingerprint: fp}
			byPrint[fp] = g
			groups = append(groups, g)
		}
		g.members = append(g.members, c)
		if c.Value.Timestamp.After(g.latest) {
			g.latest = c.Value.Timestamp
		}
	}

	decide := func(g *group, rule Rule) Decision {
		d := Decision{Winner: g.members[0], Rule: rule, Fingerprint: g.fingerprint}
		for _, c := range sorted {
			if Fingerprint(c.Value.Data) != g.fingerprint {
				d.Dissenters = append(d.Dissenters, c.Provider)
			}
		}
		sort.Strings(d.Dissenters)
		return d
	}

	if len(groups) == 1 {
		return decide(groups[0], RuleUnanimous), nil
	}

	for _, g := range groups {
		if len(g.members)*2 > len(sorted) {
			return decide(g, RuleMajority), nil
		}
	}

	var (
		newest *group
		tied   bool
	)
	for _, g := range groups {
		if g.latest.IsZero() {
			continue
		}
		switch {
		case newest == nil || g.latest.After(newest.latest):
			newest, tied = g, false
		case g.latest.Equal(newest.latest):
			tied = true
		}
	}
	if newest != nil && !tied {
		return decide(newest, RuleMostRecent), nil
	}

	// sorted[0] has the lowest priority number overall.
	return decide(byPrint[Fingerprint(sorted[0].Value.Data)], RulePriority), nil
}

// less orders by priority, then provider ID.
func less(a, b Candidate) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.Provider < b.Provider
}

// Resolution is a decision plus the conflict it produced, if any.
type Resolution struct {
	Decision
	Conflict *ConflictRecord
}

// Resolver runs Decide and records every non-unanimous outcome.
type Resolver struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewResolver creates a resolver writing conflicts to store.
func NewResolver(store Store, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &Resolver{store: store, logger: logger, now: time.Now}
}

// Store returns the conflict store.
func (r *Resolver) Store() Store { return r.store }

// Resolve decides among cands for targetID. A conflict record is appended
// whenever the candidates disagree, even though a value is still returned.
func (r *Resolver) Resolve(ctx context.Context, targetID string, cands []Candidate) (Resolution, error) {
	d, err := Decide(cands)
	if err != nil {
		return Resolution{}, err
	}
	res := Resolution{Decision: d}
	if d.Unanimous() {
		return res, nil
	}

	rec := ConflictRecord{
		ID:            uuid.NewString(),
		TargetID:      targetID,
		Candidates:    append([]Candidate(nil), cands...),
		Rule:          d.Rule,
		ResolvedValue: append([]byte(nil), d.Winner.Value.Data...),
		ResolvedBy:    d.Winner.Provider,
		CreatedAt:     r.now().UTC(),
	}
	sort.Slice(rec.Candidates, func(i, j int) bool { return less(rec.Candidates[i], rec.Candidates[j]) })

	if err := r.store.Append(ctx, rec); err != nil {
		// The read still succeeds without the record.
		r.logger.Error("Failed to persist conflict record",
			zap.String("target", targetID),
			zap.String("conflict_id", rec.ID),
			zap.Error(err),
		)
	}
	r.logger.Warn("Providers disagree",
		zap.String("target", targetID),
		zap.String("rule", string(d.Rule)),
		zap.String("resolved_by", d.Winner.Provider),
		zap.Strings("dissenters", d.Dissenters),
	)

	res.Conflict = &rec
	return res, nil
}
