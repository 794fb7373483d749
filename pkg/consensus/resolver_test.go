package consensus

import (
	"context"
	stderrors "errors"
	"math/rand"
	"testing"
	"time"

	"github.com/DeBrosOfficial/hyperdrive/pkg/provider"
	"go.uber.org/zap"
)

var (
	t1 = time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	t2 = t1.Add(time.Minute)
	t3 = t1.Add(2 * time.Minute)
)

func cand(id string, prio int, data string, ts time.Time) Candidate {
	return Candidate{Provider: id, Priority: prio, Value: provider.Value{Data: []byte(data), Timestamp: ts}}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name       string
		cands      []Candidate
		wantValue  string
		wantRule   Rule
		wantWinner string
		dissenters []string
	}{
		{
			name:       "unanimous picks highest priority provider",
			cands:      []Candidate{cand("b", 2, "x", t1), cand("a", 1, "x", t2)},
			wantValue:  "x",
			wantRule:   RuleUnanimous,
			wantWinner: "a",
		},
		{
			name:       "majority beats recency",
			cands:      []Candidate{cand("A", 1, "x", t1), cand("B", 2, "y", t2), cand("C", 3, "x", t3)},
			wantValue:  "x",
			wantRule:   RuleMajority,
			wantWinner: "A",
			dissenters: []string{"B"},
		},
		{
			name:       "majority beats newer timestamp",
			cands:      []Candidate{cand("A", 1, "x", t1), cand("B", 2, "x", t1), cand("C", 3, "y", t3)},
			wantValue:  "x",
			wantRule:   RuleMajority,
			wantWinner: "A",
			dissenters: []string{"C"},
		},
		{
			name:       "no majority falls to most recent",
			cands:      []Candidate{cand("A", 1, "x", t1), cand("B", 2, "y", t3)},
			wantValue:  "y",
			wantRule:   RuleMostRecent,
			wantWinner: "B",
			dissenters: []string{"A"},
		},
		{
			name:       "half is not a majority",
			cands:      []Candidate{cand("A", 1, "x", t1), cand("B", 2, "x", t1), cand("C", 3, "y", t2), cand("D", 4, "z", t1)},
			wantValue:  "y",
			wantRule:   RuleMostRecent,
			wantWinner: "C",
			dissenters: []string{"A", "B", "D"},
		},
		{
			name:       "tied timestamps fall to priority",
			cands:      []Candidate{cand("A", 2, "x", t2), cand("B", 1, "y", t2)},
			wantValue:  "y",
			wantRule:   RulePriority,
			wantWinner: "B",
			dissenters: []string{"A"},
		},
		{
			name:       "missing timestamps fall to priority",
			cands:      []Candidate{cand("A", 5, "x", time.Time{}), cand("B", 3, "y", time.Time{})},
			wantValue:  "y",
			wantRule:   RulePriority,
			wantWinner: "B",
			dissenters: []string{"A"},
		},
		{
			name:       "equal priority breaks on provider id",
			cands:      []Candidate{cand("m", 1, "x", time.Time{}), cand("k", 1, "y", time.Time{})},
			wantValue:  "y",
			wantRule:   RulePriority,
			wantWinner: "k",
			dissenters: []string{"m"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Decide(tt.cands)
			if err != nil {
				t.Fatalf("Decide: %v", err)
			}
			if string(d.Winner.Value.Data) != tt.wantValue {
				t.Errorf("value = %q, want %q", d.Winner.Value.Data, tt.wantValue)
			}
			if d.Rule != tt.wantRule {
				t.Errorf("rule = %s, want %s", d.Rule, tt.wantRule)
			}
			if d.Winner.Provider != tt.wantWinner {
				t.Errorf("winner = %s, want %s", d.Winner.Provider, tt.wantWinner)
			}
			if len(d.Dissenters) != len(tt.dissenters) {
				t.Fatalf("dissenters = %v, want %v", d.Dissenters, tt.dissenters)
			}
			for i := range d.Dissenters {
				if d.Dissenters[i] != tt.dissenters[i] {
					t.Errorf("dissenters = %v, want %v", d.Dissenters, tt.dissenters)
				}
			}
		})
	}
}

func TestDecideIsOrderIndependent(t *testing.T) {
	base := []Candidate{
		cand("A", 3, "x", t1),
		cand("B", 1, "y", t2),
		cand("C", 2, "z", t2),
		cand("D", 4, "w", time.Time{}),
	}
	want, err := Decide(base)
	if err != nil {
		t.Fatal(err)
	}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		shuffled := append([]Candidate(nil), base...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got, err := Decide(shuffled)
		if err != nil {
			t.Fatal(err)
		}
		if got.Winner.Provider != want.Winner.Provider || got.Rule != want.Rule {
			t.Fatalf("order %d: got %s/%s, want %s/%s", i, got.Winner.Provider, got.Rule, want.Winner.Provider, want.Rule)
		}
	}
}

func TestDecideEmpty(t *testing.T) {
	if _, err := Decide(nil); err == nil {
		t.Error("expected error for empty candidate set")
	}
}

func TestResolverRecordsConflicts(t *testing.T) {
	store := NewMemoryStore()
	r := NewResolver(store, zap.NewNop())
	ctx := context.Background()

	res, err := r.Resolve(ctx, "doc-1", []Candidate{cand("A", 1, "x", t1), cand("B", 2, "x", t1)})
	if err != nil {
		t.Fatal(err)
	}
	if res.Conflict != nil {
		t.Error("unanimous reads must not record a conflict")
	}

	res, err = r.Resolve(ctx, "doc-1", []Candidate{cand("C", 3, "x", t3), cand("B", 2, "y", t2), cand("A", 1, "x", t1)})
	if err != nil {
		t.Fatal(err)
	}
	if res.Conflict == nil {
		t.Fatal("disagreement must produce a conflict record")
	}
	if string(res.Winner.Value.Data) != "x" || res.Rule != RuleMajority {
		t.Errorf("resolved %q by %s", res.Winner.Value.Data, res.Rule)
	}

	recs, err := store.ByTarget(ctx, "doc-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.ID == "" || rec.ResolvedBy != "A" || string(rec.ResolvedValue) != "x" || rec.Rule != RuleMajority {
		t.Errorf("record = %+v", rec)
	}
	if len(rec.Candidates) != 3 || rec.Candidates[0].Provider != "A" {
		t.Errorf("candidates should be stored in priority order: %+v", rec.Candidates)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	if other, _ := store.ByTarget(ctx, "doc-2"); len(other) != 0 {
		t.Error("records leaked across targets")
	}
}

type failingStore struct{ MemoryStore }

func (*failingStore) Append(context.Context, ConflictRecord) error {
	return stderrors.New("disk full")
}

func TestResolverSurvivesStoreFailure(t *testing.T) {
	r := NewResolver(&failingStore{}, nil)
	res, err := r.Resolve(context.Background(), "doc", []Candidate{cand("A", 1, "x", t1), cand("B", 2, "y", t2)})
	if err != nil {
		t.Fatalf("store failure must not fail the read: %v", err)
	}
	if res.Conflict == nil || string(res.Winner.Value.Data) != "y" {
		t.Errorf("unexpected resolution %+v", res)
	}
}
