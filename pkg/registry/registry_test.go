package registry

import (
	"context"
	"testing"

	"github.com/DeBrosOfficial/hyperdrive/pkg/errors"
	"github.com/DeBrosOfficial/hyperdrive/pkg/provider"
	"github.com/DeBrosOfficial/hyperdrive/pkg/provider/providertest"
	"go.uber.org/zap"
)

func desc(id string, priority int, kinds ...provider.OperationKind) provider.Descriptor {
	if len(kinds) == 0 {
		kinds = []provider.OperationKind{provider.KindSave, provider.KindLoad}
	}
	return provider.Descriptor{
		ID:           id,
		Category:     provider.CategoryDocumentStore,
		Priority:     priority,
		Capabilities: kinds,
		Active:       true,
	}
}

func ids(cands []Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.ID
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func setHealth(r *Registry, id string, s provider.HealthState) {
	r.mu.Lock()
	r.entries[id].desc.Health = s
	r.mu.Unlock()
}

func TestRegisterValidation(t *testing.T) {
	r := New(zap.NewNop())

	tests := []struct {
		name    string
		desc    provider.Descriptor
		adapter provider.Adapter
		check   func(error) bool
	}{
		{"empty id", desc("", 1), providertest.New("x"), errors.IsValidation},
		{"bad category", provider.Descriptor{ID: "x", Category: "tape"}, providertest.New("x"), errors.IsValidation},
		{"nil adapter", desc("x", 1), nil, errors.IsValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(tt.desc, tt.adapter)
			if err == nil || !tt.check(err) {
				t.Fatalf("unexpected error %v", err)
			}
		})
	}

	if err := r.Register(desc("a", 1), providertest.New("a")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(desc("a", 2), providertest.New("a")); !errors.IsConflict(err) {
		t.Fatalf("expected conflict on duplicate, got %v", err)
	}
}

func TestRegisterResetsHealth(t *testing.T) {
	r := New(nil)
	d := desc("a", 1)
	d.Health = provider.HealthHealthy
	d.ConsecutiveFailures = 9
	if err := r.Register(d, providertest.New("a")); err != nil {
		t.Fatal(err)
	}
	got, _ := r.Get("a")
	if got.Health != provider.HealthUnknown || got.ConsecutiveFailures != 0 {
		t.Errorf("health not reset: %+v", got)
	}
}

func TestCandidatesForOrdering(t *testing.T) {
	r := New(nil)
	for _, d := range []provider.Descriptor{desc("p1", 1), desc("p2", 2), desc("p3", 3)} {
		if err := r.Register(d, providertest.New(d.ID)); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("unavailable filtered", func(t *testing.T) {
		setHealth(r, "p1", provider.HealthUnavailable)
		setHealth(r, "p2", provider.HealthHealthy)
		setHealth(r, "p3", provider.HealthHealthy)

		cands, err := r.CandidatesFor(provider.CategoryDocumentStore, provider.KindSave)
		if err != nil {
			t.Fatal(err)
		}
		if got := ids(cands); !equal(got, []string{"p2", "p3"}) {
			t.Errorf("got %v, want [p2 p3]", got)
		}
	})

	t.Run("health before priority", func(t *testing.T) {
		setHealth(r, "p1", provider.HealthDegraded)
		setHealth(r, "p2", provider.HealthUnknown)
		setHealth(r, "p3", provider.HealthHealthy)

		cands, err := r.CandidatesFor(provider.CategoryDocumentStore, provider.KindLoad)
		if err != nil {
			t.Fatal(err)
		}
		if got := ids(cands); !equal(got, []string{"p3", "p2", "p1"}) {
			t.Errorf("got %v, want [p3 p2 p1]", got)
		}
	})

	t.Run("any category", func(t *testing.T) {
		cands, err := r.CandidatesFor("", provider.KindLoad)
		if err != nil || len(cands) != 3 {
			t.Fatalf("expected 3 candidates, got %d (%v)", len(cands), err)
		}
	})
}

func TestCandidatesForFilters(t *testing.T) {
	r := New(nil)
	inactive := desc("inactive", 1)
	inactive.Active = false
	_ = r.Register(inactive, providertest.New("inactive"))
	_ = r.Register(desc("readonly", 2, provider.KindLoad), providertest.New("readonly"))
	other := desc("chain", 0, provider.KindSave)
	other.Category = provider.CategoryBlockchain
	_ = r.Register(other, providertest.New("chain"))

	_, err := r.CandidatesFor(provider.CategoryDocumentStore, provider.KindSave)
	if errors.GetErrorCode(err) != errors.CodeNoProviderAvailable {
		t.Fatalf("expected NO_PROVIDER_AVAILABLE, got %v", err)
	}

	cands, err := r.CandidatesFor(provider.CategoryDocumentStore, provider.KindLoad)
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(cands); !equal(got, []string{"readonly"}) {
		t.Errorf("got %v, want [readonly]", got)
	}
}

func TestCandidatesAreSnapshots(t *testing.T) {
	r := New(nil)
	_ = r.Register(desc("a", 1), providertest.New("a"))
	_ = r.Register(desc("b", 2), providertest.New("b"))

	cands, err := r.CandidatesFor(provider.CategoryDocumentStore, provider.KindSave)
	if err != nil {
		t.Fatal(err)
	}

	_ = r.SetPriority("b", 0)
	_ = r.Deregister("a")
	cands[0].Capabilities[0] = provider.KindSearch

	if got := ids(cands); !equal(got, []string{"a", "b"}) {
		t.Errorf("snapshot changed: %v", got)
	}
	if cands[1].Priority != 2 {
		t.Errorf("snapshot priority changed to %d", cands[1].Priority)
	}
	if _, err := r.Get("b"); err != nil {
		t.Fatal(err)
	}
	d, _ := r.Get("b")
	if d.Capabilities[0] != provider.KindSave {
		t.Error("mutating a snapshot leaked into the registry")
	}
}

func TestActivateDeactivate(t *testing.T) {
	r := New(nil)
	fake := providertest.New("a")
	_ = r.Register(desc("a", 1), fake)
	ctx := context.Background()

	if err := r.Deactivate(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if fake.Active() {
		t.Error("adapter should be deactivated")
	}
	if _, err := r.CandidatesFor("", provider.KindSave); err == nil {
		t.Error("inactive provider must not be routed")
	}

	if err := r.Activate(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if !fake.Active() {
		t.Error("adapter should be active")
	}
	d, _ := r.Get("a")
	if !d.Active {
		t.Error("descriptor should be active")
	}

	if err := r.Activate(ctx, "missing"); !errors.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestListAndDeregister(t *testing.T) {
	r := New(nil)
	_ = r.Register(desc("b", 1), providertest.New("b"))
	_ = r.Register(desc("a", 1), providertest.New("a"))

	if got := r.List(); len(got) != 2 || got[0].ID != "a" {
		t.Errorf("List() = %+v", got)
	}
	if err := r.Deregister("a"); err != nil {
		t.Fatal(err)
	}
	if err := r.Deregister("a"); !errors.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
	if len(r.List()) != 1 {
		t.Error("expected one provider left")
	}
}
