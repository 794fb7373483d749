// Package providertest provides a scriptable in-memory provider.Adapter for
// tests. It behaves like a small key/value store by default; latency,
// failures and probe results can be scripted per adapter.
package providertest

import (
	"context"
	"sync"
	"time"

	"github.com/DeBrosOfficial/hyperdrive/pkg/errors"
	"github.com/DeBrosOfficial/hyperdrive/pkg/provider"
)

// Step scripts the outcome of one Execute call.
type Step struct {
	Delay time.Duration
	Err   error
	Value *provider.Value
}

// Adapter is a fake backend. The zero value is not usable; call New.
type Adapter struct {
	id string

	mu          sync.Mutex
	active      bool
	healthy     bool
	delay       time.Duration
	err         error
	script      []Step
	calls       []provider.Call
	probes      int
	inflight    int
	maxInflight int
	data        map[string]provider.Value
	applied     map[string]int
	effects     int
	onExecute   func(provider.Call)
	clock       func() time.Time
}

// New creates a healthy, active fake adapter.
func New(id string) *Adapter {
	return &Adapter{
		id:      id,
		active:  true,
		healthy: true,
		data:    make(map[string]provider.Value),
		applied: make(map[string]int),
		clock:   time.Now,
	}
}

// ID returns the adapter name.
func (a *Adapter) ID() string { return a.id }

// SetDelay makes every call wait d before answering (unless ctx ends first).
func (a *Adapter) SetDelay(d time.Duration) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.delay = d
	return a
}

// FailWith makes every call fail with err. nil restores normal behaviour.
func (a *Adapter) FailWith(err error) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
	return a
}

// Script queues per-call outcomes consumed before the default behaviour.
func (a *Adapter) Script(steps ...Step) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.script = append(a.script, steps...)
	return a
}

// SetHealthy controls what Probe returns.
func (a *Adapter) SetHealthy(ok bool) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.healthy = ok
	return a
}

// Put seeds the store directly.
func (a *Adapter) Put(target string, v provider.Value) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data[target] = v
	return a
}

// OnExecute registers a hook invoked at the start of every call.
func (a *Adapter) OnExecute(fn func(provider.Call)) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onExecute = fn
	return a
}

func (a *Adapter) Activate(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = true
	return nil
}

func (a *Adapter) Deactivate(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = false
	return nil
}

// Active reports the activation flag.
func (a *Adapter) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

func (a *Adapter) Probe(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.probes++
	return a.healthy
}

// Probes returns how many times Probe was called.
func (a *Adapter) Probes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.probes
}

func (a *Adapter) Execute(ctx context.Context, call provider.Call) (provider.Value, error) {
	a.mu.Lock()
	a.calls = append(a.calls, call)
	a.inflight++
	if a.inflight > a.maxInflight {
		a.maxInflight = a.inflight
	}
	step := Step{Delay: a.delay, Err: a.err}
	if len(a.script) > 0 {
		step = a.script[0]
		a.script = a.script[1:]
	}
	hook := a.onExecute
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.inflight--
		a.mu.Unlock()
	}()

	if hook != nil {
		hook(call)
	}

	if step.Delay > 0 {
		timer := time.NewTimer(step.Delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return provider.Value{}, ctx.Err()
		}
	}
	if step.Err != nil {
		return provider.Value{}, step.Err
	}
	if step.Value != nil {
		return *step.Value, nil
	}
	return a.apply(call)
}

func (a *Adapter) apply(call provider.Call) (provider.Value, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if call.Kind.Mutating() && call.IdempotencyKey != "" {
		a.applied[call.IdempotencyKey]++
		if a.applied[call.IdempotencyKey] > 1 {
			return a.data[call.TargetID], nil
		}
	}

	switch call.Kind {
	case provider.KindSave, provider.KindSendTransaction:
		v := provider.Value{Data: append([]byte(nil), call.Payload...), Timestamp: a.clock()}
		a.data[call.TargetID] = v
		a.effects++
		return v, nil
	case provider.KindDelete:
		if _, ok := a.data[call.TargetID]; !ok {
			return provider.Value{}, errors.NewNotFoundError("entity", call.TargetID)
		}
		delete(a.data, call.TargetID)
		a.effects++
		return provider.Value{}, nil
	default:
		v, ok := a.data[call.TargetID]
		if !ok {
			return provider.Value{}, errors.NewNotFoundError("entity", call.TargetID)
		}
		return v, nil
	}
}

// Calls returns every call received, in order.
func (a *Adapter) Calls() []provider.Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]provider.Call(nil), a.calls...)
}

// Keys returns the idempotency keys of every call received, in order.
func (a *Adapter) Keys() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	keys := make([]string, 0, len(a.calls))
	for _, c := range a.calls {
		keys = append(keys, c.IdempotencyKey)
	}
	return keys
}

// Effects counts durable writes actually applied, ignoring replays.
func (a *Adapter) Effects() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.effects
}

// MaxInflight returns the highest number of concurrent Execute calls seen.
func (a *Adapter) MaxInflight() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.maxInflight
}

// Stored returns the value currently held for target.
func (a *Adapter) Stored(target string) (provider.Value, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.data[target]
	return v, ok
}
