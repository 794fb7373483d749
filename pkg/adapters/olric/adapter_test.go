package olric

import (
	"context"
	stderrors "errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DeBrosOfficial/hyperdrive/pkg/errors"
	"github.com/DeBrosOfficial/hyperdrive/pkg/provider"
	"go.uber.org/zap"
)

var _ provider.Adapter = (*Adapter)(nil)

// fakeBackend is an in-memory stand-in for a cluster.
type fakeBackend struct {
	mu      sync.Mutex
	data    map[string]entry
	applied map[string]bool
	down    error
	closed  bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{data: map[string]entry{}, applied: map[string]bool{}}
}

func (f *fakeBackend) put(_ context.Context, key string, e entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down != nil {
		return f.down
	}
	f.data[key] = e
	return nil
}

func (f *fakeBackend) get(_ context.Context, key string) (entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down != nil {
		return entry{}, f.down
	}
	e, ok := f.data[key]
	if !ok {
		return entry{}, errors.NewNotFoundError("entity", key)
	}
	return e, nil
}

func (f *fakeBackend) remove(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	delete(f.data, key)
	return ok, nil
}

func (f *fakeBackend) keys(_ context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeBackend) seen(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applied[key], nil
}

func (f *fakeBackend) markApplied(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applied[key] {
		return false, nil
	}
	f.applied[key] = true
	return true, nil
}

func (f *fakeBackend) Health(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.down
}

func (f *fakeBackend) Close(context.Context) error {
	f.closed = true
	return nil
}

func newAdapter(t *testing.T) (*Adapter, *fakeBackend) {
	t.Helper()
	fb := newFakeBackend()
	a := New(Config{ID: "cache", Servers: []string{"localhost:3320"}}, zap.NewNop())
	a.dial = func(context.Context) (backend, error) { return fb, nil }
	if err := a.Activate(context.Background()); err != nil {
		t.Fatal(err)
	}
	return a, fb
}

func TestDefaults(t *testing.T) {
	a := New(Config{ID: "cache"}, nil)
	if a.cfg.DMap != DefaultDMap {
		t.Errorf("dmap = %q", a.cfg.DMap)
	}
}

func TestSaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	a, _ := newAdapter(t)
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return at }

	if _, err := a.Execute(ctx, provider.Call{Kind: provider.KindSave, TargetID: "k", Payload: []byte("v"), IdempotencyKey: "s1"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	v, err := a.Execute(ctx, provider.Call{Kind: provider.KindLoad, TargetID: "k"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(v.Data) != "v" || !v.Timestamp.Equal(at) {
		t.Errorf("unexpected value %q at %v", v.Data, v.Timestamp)
	}

	if _, err := a.Execute(ctx, provider.Call{Kind: provider.KindDelete, TargetID: "k", IdempotencyKey: "d1"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := a.Execute(ctx, provider.Call{Kind: provider.KindLoad, TargetID: "k"}); !errors.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
	if _, err := a.Execute(ctx, provider.Call{Kind: provider.KindDelete, TargetID: "k", IdempotencyKey: "d1"}); err != nil {
		t.Errorf("replayed delete should succeed, got %v", err)
	}
	if _, err := a.Execute(ctx, provider.Call{Kind: provider.KindDelete, TargetID: "k", IdempotencyKey: "d2"}); !errors.IsNotFound(err) {
		t.Errorf("expected not found for a fresh delete, got %v", err)
	}
}

func TestReplayDoesNotOverwrite(t *testing.T) {
	ctx := context.Background()
	a, fb := newAdapter(t)

	calls := []provider.Call{
		{Kind: provider.KindSave, TargetID: "k", Payload: []byte("old"), IdempotencyKey: "s1"},
		{Kind: provider.KindSave, TargetID: "k", Payload: []byte("new"), IdempotencyKey: "s2"},
		{Kind: provider.KindSave, TargetID: "k", Payload: []byte("old"), IdempotencyKey: "s1"},
	}
	for _, c := range calls {
		if _, err := a.Execute(ctx, c); err != nil {
			t.Fatal(err)
		}
	}
	if got := string(fb.data["k"].Data); got != "new" {
		t.Errorf("stored %q", got)
	}
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	a, _ := newAdapter(t)
	for _, k := range []string{"user:2", "user:1", "order:9"} {
		if _, err := a.Execute(ctx, provider.Call{Kind: provider.KindSave, TargetID: k, Payload: []byte(k)}); err != nil {
			t.Fatal(err)
		}
	}
	v, err := a.Execute(ctx, provider.Call{Kind: provider.KindSearch, TargetID: "user:"})
	if err != nil {
		t.Fatal(err)
	}
	matches, err := provider.DecodeMatches(v.Data)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 || matches[0].ID != "user:1" {
		t.Errorf("unexpected matches %+v", matches)
	}
}

func TestBackendFailuresAreTransient(t *testing.T) {
	ctx := context.Background()
	a, fb := newAdapter(t)
	fb.down = stderrors.New("connection refused")

	_, err := a.Execute(ctx, provider.Call{Kind: provider.KindLoad, TargetID: "k"})
	if !errors.ShouldRetry(err) {
		t.Errorf("expected retryable error, got %v", err)
	}
	if a.Probe(ctx) {
		t.Error("probe should fail while the backend is down")
	}
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	a, fb := newAdapter(t)
	if !a.Probe(ctx) {
		t.Fatal("expected healthy probe")
	}
	if _, err := a.Execute(ctx, provider.Call{Kind: provider.KindSendTransaction, TargetID: "x"}); !errors.IsRejected(err) {
		t.Errorf("expected rejection, got %v", err)
	}
	if err := a.Deactivate(ctx); err != nil {
		t.Fatal(err)
	}
	if !fb.closed {
		t.Error("backend not closed")
	}
	if a.Probe(ctx) {
		t.Error("inactive adapter should not probe healthy")
	}
}
