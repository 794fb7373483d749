package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/DeBrosOfficial/hyperdrive/pkg/consensus"
	"github.com/DeBrosOfficial/hyperdrive/pkg/provider"
	"go.uber.org/zap"
)

var (
	_ Log = (*SQLLog)(nil)
	_ Log = (*MemoryLog)(nil)
)

func openLogs(t *testing.T) map[string]Log {
	t.Helper()
	ctx := context.Background()

	sqlLog, err := Open(ctx, BackendSQLite, filepath.Join(t.TempDir(), "audit", "audit.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sqlLog.Close() })

	mem, err := Open(ctx, BackendMemory, "", nil)
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	return map[string]Log{"sqlite": sqlLog, "memory": mem}
}

func conflict(id, target string, at time.Time) consensus.ConflictRecord {
	return consensus.ConflictRecord{
		ID:       id,
		TargetID: target,
		Candidates: []consensus.Candidate{
			{Provider: "a", Priority: 1, Value: provider.Value{Data: []byte("x")}},
			{Provider: "b", Priority: 2, Value: provider.Value{Data: []byte("y")}},
			{Provider: "c", Priority: 3, Value: provider.Value{Data: []byte("x")}},
		},
		Rule:          consensus.RuleMajority,
		ResolvedValue: []byte("x"),
		ResolvedBy:    "a",
		CreatedAt:     at,
	}
}

func TestConflictsRoundTrip(t *testing.T) {
	for name, log := range openLogs(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

			for i, id := range []string{"c1", "c2"} {
				if err := log.Append(ctx, conflict(id, "doc-1", at.Add(time.Duration(i)*time.Second))); err != nil {
					t.Fatalf("append %s: %v", id, err)
				}
			}
			if err := log.Append(ctx, conflict("c3", "doc-2", at)); err != nil {
				t.Fatalf("append c3: %v", err)
			}

			recs, err := log.ByTarget(ctx, "doc-1")
			if err != nil {
				t.Fatalf("by target: %v", err)
			}
			if len(recs) != 2 {
				t.Fatalf("expected 2 records, got %d", len(recs))
			}
			if recs[0].ID != "c1" || recs[1].ID != "c2" {
				t.Errorf("records out of order: %s, %s", recs[0].ID, recs[1].ID)
			}
			got := recs[0]
			if got.Rule != consensus.RuleMajority || got.ResolvedBy != "a" || string(got.ResolvedValue) != "x" {
				t.Errorf("unexpected record %+v", got)
			}
			if len(got.Candidates) != 3 || string(got.Candidates[1].Value.Data) != "y" {
				t.Errorf("candidates not preserved: %+v", got.Candidates)
			}
			if !got.CreatedAt.Equal(at) {
				t.Errorf("created_at = %v, want %v", got.CreatedAt, at)
			}

			none, err := log.ByTarget(ctx, "missing")
			if err != nil || len(none) != 0 {
				t.Errorf("expected no records, got %v, %v", none, err)
			}
		})
	}
}

func TestSQLAppendIsIdempotent(t *testing.T) {
	ctx := context.Background()
	log, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "audit.db"), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer log.Close()

	rec := conflict("c1", "doc-1", time.Now())
	for i := 0; i < 2; i++ {
		if err := log.Append(ctx, rec); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	recs, err := log.ByTarget(ctx, "doc-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Errorf("expected 1 record, got %d", len(recs))
	}
}

func TestHealthEvents(t *testing.T) {
	for name, log := range openLogs(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			events := []provider.HealthEvent{
				{Provider: "a", From: provider.HealthUnknown, To: provider.HealthHealthy, At: at},
				{Provider: "b", From: provider.HealthHealthy, To: provider.HealthDegraded, ConsecutiveFailures: 1, Cause: "timeout", At: at.Add(time.Second)},
				{Provider: "b", From: provider.HealthDegraded, To: provider.HealthUnavailable, ConsecutiveFailures: 3, Cause: "timeout", Origin: "node-2", At: at.Add(2 * time.Second)},
			}
			for _, ev := range events {
				if err := log.AppendHealth(ctx, ev); err != nil {
					t.Fatalf("append health: %v", err)
				}
			}

			all, err := log.HealthEvents(ctx, "", 0)
			if err != nil {
				t.Fatal(err)
			}
			if len(all) != 3 {
				t.Fatalf("expected 3 events, got %d", len(all))
			}
			if all[0].To != provider.HealthUnavailable {
				t.Errorf("expected newest first, got %v", all[0].To)
			}

			b, err := log.HealthEvents(ctx, "b", 1)
			if err != nil {
				t.Fatal(err)
			}
			if len(b) != 1 {
				t.Fatalf("expected 1 event, got %d", len(b))
			}
			if b[0].ConsecutiveFailures != 3 || b[0].Origin != "node-2" || b[0].From != provider.HealthDegraded {
				t.Errorf("unexpected event %+v", b[0])
			}
			if !b[0].At.Equal(at.Add(2 * time.Second)) {
				t.Errorf("at = %v", b[0].At)
			}
		})
	}
}

func TestLateReplies(t *testing.T) {
	for name, log := range openLogs(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			attempt := provider.Attempt{
				Provider: "c",
				Outcome:  provider.OutcomeTimeout,
				Code:     "PROVIDER_TIMEOUT",
				Duration: 1500 * time.Millisecond,
				Late:     true,
			}
			if err := log.AppendLate(ctx, "doc-1", provider.KindSave, attempt); err != nil {
				t.Fatalf("append late: %v", err)
			}

			replies, err := log.LateReplies(ctx, "doc-1")
			if err != nil {
				t.Fatal(err)
			}
			if len(replies) != 1 {
				t.Fatalf("expected 1 reply, got %d", len(replies))
			}
			r := replies[0]
			if r.Kind != provider.KindSave || r.Attempt.Provider != "c" || r.Attempt.Outcome != provider.OutcomeTimeout {
				t.Errorf("unexpected reply %+v", r)
			}
			if r.Attempt.Duration != 1500*time.Millisecond || !r.Attempt.Late {
				t.Errorf("attempt not preserved: %+v", r.Attempt)
			}

			if others, _ := log.LateReplies(ctx, "doc-2"); len(others) != 0 {
				t.Errorf("expected no replies for doc-2, got %d", len(others))
			}
		})
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), "postgres", "", nil); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestSQLLogSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.db")

	log, err := OpenSQLite(ctx, path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := log.Append(ctx, conflict("c1", "doc-1", time.Now())); err != nil {
		t.Fatal(err)
	}
	log.Close()

	log, err = OpenSQLite(ctx, path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer log.Close()
	recs, err := log.ByTarget(ctx, "doc-1")
	if err != nil || len(recs) != 1 {
		t.Errorf("expected 1 record after reopen, got %d, %v", len(recs), err)
	}
}
