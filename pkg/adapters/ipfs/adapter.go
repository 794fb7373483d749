// Package ipfs serves content-addressed blobs from an IPFS Cluster. Save
// adds and pins the payload and answers with its CID; Load and Delete take
// the CID as target.
package ipfs

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/DeBrosOfficial/hyperdrive/pkg/errors"
	"github.com/DeBrosOfficial/hyperdrive/pkg/provider"
	"go.uber.org/zap"
)

// ReplicateEverywhere pins on every cluster peer.
const ReplicateEverywhere = -1

// Config holds configuration for the IPFS adapter
type Config struct {
	ID string
	// ClusterAPIURL is the IPFS Cluster HTTP API, e.g. http://localhost:9094
	ClusterAPIURL string
	// APIURL is the IPFS HTTP API used for retrieval, e.g. http://localhost:5001
	APIURL            string
	Timeout           time.Duration
	ReplicationFactor int
}

// Adapter implements provider.Adapter on IPFS Cluster. The HTTP client is
// stateless, so activation only toggles a flag.
type Adapter struct {
	cfg    Config
	client *Client
	logger *zap.Logger
	active atomic.Bool
}

func New(cfg Config, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReplicationFactor == 0 {
		cfg.ReplicationFactor = ReplicateEverywhere
	}
	logger = logger.With(zap.String("provider", cfg.ID))
	return &Adapter{
		cfg:    cfg,
		client: NewClient(cfg.ClusterAPIURL, cfg.APIURL, cfg.Timeout, logger),
		logger: logger,
	}
}

func (a *Adapter) Activate(ctx context.Context) error {
	a.active.Store(true)
	return nil
}

func (a *Adapter) Deactivate(ctx context.Context) error {
	a.active.Store(false)
	return nil
}

func (a *Adapter) Probe(ctx context.Context) bool {
	if !a.active.Load() {
		return false
	}
	if err := a.client.Health(ctx); err != nil {
		a.logger.Debug("Probe failed", zap.Error(err))
		return false
	}
	return true
}

func (a *Adapter) Execute(ctx context.Context, call provider.Call) (provider.Value, error) {
	if !a.active.Load() {
		return provider.Value{}, errors.NewServiceError("ipfs", fmt.Sprintf("provider %s is not active", a.cfg.ID), 0, nil)
	}
	v, err := a.execute(ctx, call)
	return v, errors.FromBackend("ipfs", err)
}

func (a *Adapter) execute(ctx context.Context, call provider.Call) (provider.Value, error) {
	switch call.Kind {
	case provider.KindSave:
		// Content addressing makes a replayed add land on the same CID.
		added, err := a.client.Add(ctx, call.Payload, call.TargetID)
		if err != nil {
			return provider.Value{}, err
		}
		if _, err := a.client.Pin(ctx, added.Cid, call.TargetID, a.cfg.ReplicationFactor); err != nil {
			return provider.Value{}, err
		}
		a.logger.Debug("Content pinned", zap.String("target", call.TargetID), zap.String("cid", added.Cid), zap.Int64("size", added.Size))
		return provider.Value{Data: []byte(added.Cid)}, nil

	case provider.KindLoad:
		data, err := a.client.Cat(ctx, call.TargetID)
		if err != nil {
			return provider.Value{}, err
		}
		return provider.Value{Data: data}, nil

	case provider.KindDelete:
		return provider.Value{}, a.client.Unpin(ctx, call.TargetID)

	default:
		return provider.Value{}, errors.NewRejectedError(a.cfg.ID, fmt.Sprintf("unsupported operation %s", call.Kind), nil)
	}
}
