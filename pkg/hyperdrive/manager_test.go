package hyperdrive

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DeBrosOfficial/hyperdrive/pkg/consensus"
	"github.com/DeBrosOfficial/hyperdrive/pkg/errors"
	"github.com/DeBrosOfficial/hyperdrive/pkg/provider"
	"github.com/DeBrosOfficial/hyperdrive/pkg/provider/providertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var allKinds = []provider.OperationKind{
	provider.KindSave, provider.KindLoad, provider.KindDelete, provider.KindSearch,
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Failover.BackoffInitial = time.Millisecond
	cfg.Failover.BackoffMax = 5 * time.Millisecond
	cfg.DefaultTimeout = 2 * time.Second
	return cfg
}

func newManager(t *testing.T, cfg Config, fakes ...*providertest.Adapter) *Manager {
	t.Helper()
	m := New(cfg, zap.NewNop())
	t.Cleanup(func() { _ = m.Close() })
	for i, f := range fakes {
		err := m.RegisterProvider(context.Background(), provider.Descriptor{
			ID:           f.ID(),
			Category:     provider.CategoryDocumentStore,
			Priority:     i + 1,
			Capabilities: allKinds,
			Active:       true,
		}, f)
		require.NoError(t, err)
	}
	return m
}

var errDown = errors.NewServiceError("backend", "connection refused", 503, nil)

func TestRegisterProvider(t *testing.T) {
	a := providertest.New("a")
	a.Deactivate(context.Background())
	m := newManager(t, testConfig(), a)

	assert.True(t, a.Active(), "adapter should be activated on registration")

	err := m.RegisterProvider(context.Background(), provider.Descriptor{
		ID: "a", Category: provider.CategoryDocumentStore, Capabilities: allKinds,
	}, providertest.New("a"))
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))

	state, err := m.GetProviderHealth("a")
	require.NoError(t, err)
	assert.Equal(t, provider.HealthUnknown, state)

	_, err = m.GetProviderHealth("missing")
	assert.True(t, errors.IsNotFound(err))

	require.NoError(t, m.DeregisterProvider(context.Background(), "a"))
	assert.False(t, a.Active())
	assert.Empty(t, m.Providers())
}

func TestExecuteValidation(t *testing.T) {
	a := providertest.New("a")
	m := newManager(t, testConfig(), a)

	tests := []struct {
		name string
		op   provider.Operation
	}{
		{"unknown kind", provider.Operation{Kind: "upsert", TargetID: "x"}},
		{"missing target", provider.Operation{Kind: provider.KindLoad}},
		{"quorum without key", provider.Operation{Kind: provider.KindSave, TargetID: "x", Replication: provider.Quorum(1)}},
		{"best effort without key", provider.Operation{Kind: provider.KindSave, TargetID: "x", Replication: provider.BestEffort()}},
		{"minority quorum", provider.Operation{Kind: provider.KindSave, TargetID: "x", IdempotencyKey: "k", Replication: provider.QuorumOf(4, 2)}},
		{"verified write", provider.Operation{Kind: provider.KindSave, TargetID: "x", VerifiedRead: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := m.Execute(context.Background(), tt.op)
			require.True(t, res.IsError())
			assert.Equal(t, errors.CodeValidation, res.ErrorKind())
			assert.Empty(t, res.Attempts())
		})
	}
	assert.Empty(t, a.Calls(), "invalid operations must not reach any provider")
}

func TestExecuteNoProviderAvailable(t *testing.T) {
	m := newManager(t, testConfig())
	res := m.Execute(context.Background(), provider.Operation{Kind: provider.KindLoad, TargetID: "x"})
	assert.Equal(t, errors.CodeNoProviderAvailable, res.ErrorKind())
	assert.Empty(t, res.Attempts())

	var opErr *provider.OperationError
	require.ErrorAs(t, res.Err(), &opErr)
}

func TestFailoverAssignsOneKeyAcrossAttempts(t *testing.T) {
	a := providertest.New("a").FailWith(errDown)
	b := providertest.New("b")
	m := newManager(t, testConfig(), a, b)

	res := m.Execute(context.Background(), provider.Operation{
		Kind: provider.KindSave, TargetID: "doc", Payload: []byte("v"),
	})
	require.False(t, res.IsError(), res.Message())
	assert.Equal(t, "b", res.AuthoritativeProvider())

	ka, kb := a.Keys(), b.Keys()
	require.Len(t, ka, 1)
	require.Len(t, kb, 1)
	assert.NotEmpty(t, ka[0])
	assert.Equal(t, ka[0], kb[0], "the generated key must be reused by every attempt")

	state, _ := m.GetProviderHealth("a")
	assert.Equal(t, provider.HealthDegraded, state)
	state, _ = m.GetProviderHealth("b")
	assert.Equal(t, provider.HealthHealthy, state)
}

func TestUnhealthyProvidersAreDeprioritizedThenSkipped(t *testing.T) {
	a := providertest.New("a").FailWith(errDown)
	b := providertest.New("b")
	m := newManager(t, testConfig(), a, b)
	ctx := context.Background()

	save := provider.Operation{Kind: provider.KindSave, TargetID: "doc", Payload: []byte("v")}
	require.False(t, m.Execute(ctx, save).IsError())
	require.False(t, m.Execute(ctx, save).IsError())
	assert.Len(t, a.Calls(), 1, "a Degraded provider moves behind Healthy ones")

	onlyA := save
	onlyA.Providers = []string{"a"}
	for i := 0; i < 2; i++ {
		assert.Equal(t, errors.CodeAllProvidersFailed, m.Execute(ctx, onlyA).ErrorKind())
	}
	state, _ := m.GetProviderHealth("a")
	require.Equal(t, provider.HealthUnavailable, state)

	res := m.Execute(ctx, onlyA)
	assert.Equal(t, errors.CodeNoProviderAvailable, res.ErrorKind())
	assert.Len(t, a.Calls(), 3, "an Unavailable provider is not contacted")
}

func TestQuorumWriteDoesNotWaitForStraggler(t *testing.T) {
	cfg := testConfig()
	cfg.Replication.ReplicaTimeout = 500 * time.Millisecond
	a := providertest.New("a").SetDelay(10 * time.Millisecond)
	b := providertest.New("b").SetDelay(20 * time.Millisecond)
	c := providertest.New("c").SetDelay(time.Second)
	m := newManager(t, cfg, a, b, c)

	start := time.Now()
	res := m.Execute(context.Background(), provider.Operation{
		Kind:           provider.KindSave,
		TargetID:       "order",
		Payload:        []byte("v"),
		IdempotencyKey: "order-1",
		Replication:    provider.QuorumOf(3, 2),
	})
	elapsed := time.Since(start)

	require.False(t, res.IsError(), res.Message())
	assert.Less(t, elapsed, 250*time.Millisecond)
	for _, f := range []*providertest.Adapter{a, b, c} {
		assert.Equal(t, []string{"order-1"}, f.Keys())
	}
}

func TestQuorumReadDoesNotWaitForStraggler(t *testing.T) {
	cfg := testConfig()
	cfg.Replication.ReplicaTimeout = 500 * time.Millisecond
	a := providertest.New("a").SetDelay(10*time.Millisecond).Put("doc", provider.Value{Data: []byte("x")})
	b := providertest.New("b").SetDelay(20*time.Millisecond).Put("doc", provider.Value{Data: []byte("x")})
	c := providertest.New("c").SetDelay(time.Second).Put("doc", provider.Value{Data: []byte("x")})
	m := newManager(t, cfg, a, b, c)

	start := time.Now()
	res := m.Execute(context.Background(), provider.Operation{
		Kind: provider.KindLoad, TargetID: "doc", Replication: provider.QuorumOf(3, 2),
	})
	elapsed := time.Since(start)

	require.False(t, res.IsError(), res.Message())
	assert.Less(t, elapsed, 250*time.Millisecond)
	v, ok := res.Value()
	require.True(t, ok)
	assert.Equal(t, "x", string(v.Data))
	assert.Len(t, res.Attempts(), 2)
}

func TestQuorumWriteNotReached(t *testing.T) {
	a := providertest.New("a").FailWith(errDown)
	b := providertest.New("b").FailWith(errDown)
	c := providertest.New("c")
	m := newManager(t, testConfig(), a, b, c)

	res := m.Execute(context.Background(), provider.Operation{
		Kind: provider.KindSave, TargetID: "order", IdempotencyKey: "k", Replication: provider.Quorum(3),
	})
	assert.Equal(t, errors.CodeQuorumNotReached, res.ErrorKind())
	assert.NotEmpty(t, res.Attempts())
}

func TestVerifiedReadResolvesAndRepairs(t *testing.T) {
	t1 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	a := providertest.New("A").Put("doc", provider.Value{Data: []byte("x"), Timestamp: t1})
	b := providertest.New("B").Put("doc", provider.Value{Data: []byte("y"), Timestamp: t1.Add(time.Minute)})
	c := providertest.New("C").Put("doc", provider.Value{Data: []byte("x"), Timestamp: t1.Add(2 * time.Minute)})
	m := newManager(t, testConfig(), a, b, c)

	res := m.Execute(context.Background(), provider.Operation{
		Kind: provider.KindLoad, TargetID: "doc", VerifiedRead: true,
	})
	require.False(t, res.IsError(), res.Message())

	v, ok := res.Value()
	require.True(t, ok)
	assert.Equal(t, "x", string(v.Data))
	assert.Equal(t, "A", res.AuthoritativeProvider())
	assert.Len(t, res.Attempts(), 3)

	conflict, ok := res.Conflict()
	require.True(t, ok, "disagreement must be flagged")
	assert.Equal(t, string(consensus.RuleMajority), conflict.Rule)

	recs, err := m.GetConflicts(context.Background(), "doc")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, conflict.ID, recs[0].ID)
	assert.Equal(t, "A", recs[0].ResolvedBy)

	require.NoError(t, m.Close())
	repaired, ok := b.Stored("doc")
	require.True(t, ok)
	assert.Equal(t, "x", string(repaired.Data), "dissenting provider should receive the resolved value")
	assert.Len(t, a.Calls(), 1, "agreeing providers are not rewritten")
}

func TestVerifiedReadUnanimous(t *testing.T) {
	a := providertest.New("a").Put("doc", provider.Value{Data: []byte("same")})
	b := providertest.New("b").Put("doc", provider.Value{Data: []byte("same")})
	m := newManager(t, testConfig(), a, b)

	res := m.Execute(context.Background(), provider.Operation{Kind: provider.KindLoad, TargetID: "doc", VerifiedRead: true})
	require.False(t, res.IsError())
	_, flagged := res.Conflict()
	assert.False(t, flagged)

	recs, err := m.GetConflicts(context.Background(), "doc")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestVerifiedReadNotFound(t *testing.T) {
	m := newManager(t, testConfig(), providertest.New("a"), providertest.New("b"))
	res := m.Execute(context.Background(), provider.Operation{Kind: provider.KindLoad, TargetID: "ghost", VerifiedRead: true})
	assert.Equal(t, errors.CodeNotFound, res.ErrorKind())
}

func TestBestEffortReplicatesInBackground(t *testing.T) {
	a := providertest.New("a")
	b := providertest.New("b").SetDelay(20 * time.Millisecond)
	c := providertest.New("c")
	d := providertest.New("d")
	cfg := testConfig()
	cfg.AutoReplicationMax = 2
	m := newManager(t, cfg, a, b, c, d)

	res := m.Execute(context.Background(), provider.Operation{
		Kind: provider.KindSave, TargetID: "doc", Payload: []byte("v"),
		IdempotencyKey: "be-1", Replication: provider.BestEffort(),
	})
	require.False(t, res.IsError())
	assert.Equal(t, "a", res.AuthoritativeProvider())
	assert.Len(t, res.Attempts(), 1, "replication is not part of the caller's trail")

	require.NoError(t, m.Close())
	assert.Equal(t, []string{"be-1"}, b.Keys())
	assert.Equal(t, []string{"be-1"}, c.Keys())
	assert.Empty(t, d.Keys(), "replication is capped")
}

func TestCloseWaitsForSlowBackgroundWrites(t *testing.T) {
	a := providertest.New("a")
	b := providertest.New("b").SetDelay(200 * time.Millisecond)
	cfg := testConfig()
	cfg.AutoReplicationMax = 1
	m := newManager(t, cfg, a, b)

	res := m.Execute(context.Background(), provider.Operation{
		Kind: provider.KindSave, TargetID: "doc", Payload: []byte("v"),
		IdempotencyKey: "slow-1", Replication: provider.BestEffort(),
	})
	require.False(t, res.IsError())

	start := time.Now()
	require.NoError(t, m.Close())
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond, "Close should wait for the pending replica")
	assert.Equal(t, []string{"slow-1"}, b.Keys())
}

func TestOperationTimeout(t *testing.T) {
	a := providertest.New("a").SetDelay(time.Second)
	cfg := testConfig()
	cfg.Failover.MinAttemptTimeout = time.Second
	m := newManager(t, cfg, a)

	res := m.Execute(context.Background(), provider.Operation{
		Kind: provider.KindLoad, TargetID: "doc", Timeout: 30 * time.Millisecond,
	})
	assert.Equal(t, errors.CodeOperationTimeout, res.ErrorKind())
	assert.Len(t, res.Attempts(), 1)
}

type memJournal struct {
	*consensus.MemoryStore
	mu     sync.Mutex
	health []provider.HealthEvent
	late   []provider.Attempt
}

func (j *memJournal) AppendHealth(_ context.Context, ev provider.HealthEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.health = append(j.health, ev)
	return nil
}

func (j *memJournal) AppendLate(_ context.Context, _ string, _ provider.OperationKind, a provider.Attempt) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.late = append(j.late, a)
	return nil
}

func (j *memJournal) counts() (int, int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.health), len(j.late)
}

func TestJournal(t *testing.T) {
	j := &memJournal{MemoryStore: consensus.NewMemoryStore()}
	m := New(testConfig(), zap.NewNop(), WithJournal(j))
	defer m.Close()

	fakes := []*providertest.Adapter{
		providertest.New("a").SetDelay(5 * time.Millisecond),
		providertest.New("b").SetDelay(5 * time.Millisecond),
		providertest.New("c").SetDelay(150 * time.Millisecond),
	}
	for i, f := range fakes {
		require.NoError(t, m.RegisterProvider(context.Background(), provider.Descriptor{
			ID: f.ID(), Category: provider.CategoryKeyValue, Priority: i, Capabilities: allKinds, Active: true,
		}, f))
	}
	m.Start(context.Background())

	res := m.Execute(context.Background(), provider.Operation{
		Kind: provider.KindSave, TargetID: "k", IdempotencyKey: "j-1", Replication: provider.QuorumOf(3, 2),
	})
	require.False(t, res.IsError(), res.Message())

	require.Eventually(t, func() bool {
		health, late := j.counts()
		return health >= 3 && late == 1
	}, 2*time.Second, 10*time.Millisecond, "health transitions and the late ack should be journaled")

	j.mu.Lock()
	defer j.mu.Unlock()
	assert.Equal(t, "c", j.late[0].Provider)
	assert.True(t, j.late[0].Late)
}
