// Package olric serves key/value entities from an Olric distributed map.
package olric

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/DeBrosOfficial/hyperdrive/pkg/errors"
	"github.com/DeBrosOfficial/hyperdrive/pkg/provider"
	"go.uber.org/zap"
)

// DefaultDMap is used when Config.DMap is empty.
const DefaultDMap = "hyperdrive"

// Config holds configuration for the Olric adapter
type Config struct {
	ID string
	// Servers is a list of Olric server addresses (e.g., ["localhost:3320"])
	Servers []string
	DMap    string
}

// keyLedger tracks applied idempotency keys.
type keyLedger interface {
	seen(ctx context.Context, key string) (bool, error)
	markApplied(ctx context.Context, key string) (bool, error)
}

// backend is what Activate produces: the entity map plus its key ledger.
type backend interface {
	store
	keyLedger
	Health(ctx context.Context) error
	Close(ctx context.Context) error
}

// Adapter implements provider.Adapter on Olric.
type Adapter struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
	dial   func(ctx context.Context) (backend, error)

	mu sync.RWMutex
	be backend
}

func New(cfg Config, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DMap == "" {
		cfg.DMap = DefaultDMap
	}
	a := &Adapter{
		cfg:    cfg,
		logger: logger.With(zap.String("provider", cfg.ID)),
		now:    time.Now,
	}
	a.dial = func(ctx context.Context) (backend, error) {
		c, err := NewClient(a.cfg.Servers, a.cfg.DMap, a.logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return a
}

func (a *Adapter) Activate(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.be != nil {
		return nil
	}
	be, err := a.dial(ctx)
	if err != nil {
		return errors.FromBackend("olric", err)
	}
	a.be = be
	a.logger.Info("Olric provider activated", zap.Strings("servers", a.cfg.Servers), zap.String("dmap", a.cfg.DMap))
	return nil
}

func (a *Adapter) Deactivate(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.be == nil {
		return nil
	}
	err := a.be.Close(ctx)
	a.be = nil
	return err
}

func (a *Adapter) backend() (backend, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.be == nil {
		return nil, errors.NewServiceError("olric", fmt.Sprintf("provider %s is not active", a.cfg.ID), 0, nil)
	}
	return a.be, nil
}

func (a *Adapter) Probe(ctx context.Context) bool {
	be, err := a.backend()
	if err != nil {
		return false
	}
	if err := be.Health(ctx); err != nil {
		a.logger.Debug("Probe failed", zap.Error(err))
		return false
	}
	return true
}

func (a *Adapter) Execute(ctx context.Context, call provider.Call) (provider.Value, error) {
	be, err := a.backend()
	if err != nil {
		return provider.Value{}, err
	}

	var v provider.Value
	switch call.Kind {
	case provider.KindSave, provider.KindDelete:
		v, err = a.mutate(ctx, be, call)
	case provider.KindLoad:
		var e entry
		e, err = be.get(ctx, call.TargetID)
		v = provider.Value{Data: e.Data, Timestamp: e.UpdatedAt}
	case provider.KindSearch:
		v, err = a.search(ctx, be, call.TargetID)
	default:
		return provider.Value{}, errors.NewRejectedError(a.cfg.ID, fmt.Sprintf("unsupported operation %s", call.Kind), nil)
	}
	return v, errors.FromBackend("olric", err)
}

func (a *Adapter) mutate(ctx context.Context, be backend, call provider.Call) (provider.Value, error) {
	if call.IdempotencyKey != "" {
		replay, err := be.seen(ctx, call.IdempotencyKey)
		if err != nil {
			return provider.Value{}, err
		}
		if replay {
			a.logger.Debug("Replayed call ignored", zap.String("target", call.TargetID), zap.String("key", call.IdempotencyKey))
			if call.Kind == provider.KindDelete {
				return provider.Value{}, nil
			}
			e, err := be.get(ctx, call.TargetID)
			return provider.Value{Data: e.Data, Timestamp: e.UpdatedAt}, err
		}
	}

	var v provider.Value
	if call.Kind == provider.KindSave {
		e := entry{Data: append([]byte(nil), call.Payload...), UpdatedAt: a.now().UTC()}
		if err := be.put(ctx, call.TargetID, e); err != nil {
			return provider.Value{}, err
		}
		v = provider.Value{Data: e.Data, Timestamp: e.UpdatedAt}
	} else {
		found, err := be.remove(ctx, call.TargetID)
		if err != nil {
			return provider.Value{}, err
		}
		if !found {
			return provider.Value{}, errors.NewNotFoundError("entity", call.TargetID)
		}
	}

	if call.IdempotencyKey != "" {
		if _, err := be.markApplied(ctx, call.IdempotencyKey); err != nil {
			return provider.Value{}, err
		}
	}
	return v, nil
}

func (a *Adapter) search(ctx context.Context, be backend, prefix string) (provider.Value, error) {
	keys, err := be.keys(ctx, prefix)
	if err != nil {
		return provider.Value{}, err
	}

	var (
		matches []provider.Match
		latest  time.Time
	)
	for _, k := range keys {
		e, err := be.get(ctx, k)
		if errors.IsNotFound(err) {
			continue // deleted since the scan
		}
		if err != nil {
			return provider.Value{}, err
		}
		if e.UpdatedAt.After(latest) {
			latest = e.UpdatedAt
		}
		matches = append(matches, provider.Match{ID: k, Data: e.Data})
	}
	return provider.Value{Data: provider.EncodeMatches(matches), Timestamp: latest}, nil
}
