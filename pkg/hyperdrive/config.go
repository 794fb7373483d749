package hyperdrive

import (
	"time"

	"github.com/DeBrosOfficial/hyperdrive/pkg/failover"
	"github.com/DeBrosOfficial/hyperdrive/pkg/registry"
	"github.com/DeBrosOfficial/hyperdrive/pkg/replication"
	"github.com/DeBrosOfficial/hyperdrive/pkg/routing"
)

// Config gathers the settings of every component the manager wires.
type Config struct {
	Health      registry.HealthConfig
	Routing     routing.Config
	Failover    failover.Config
	Replication replication.Config

	// DefaultTimeout applies to operations submitted without a timeout.
	DefaultTimeout time.Duration
	// AutoReplicationMax bounds background copies made for BestEffort writes.
	AutoReplicationMax int
	// ReadRepair pushes the resolved value to dissenting providers after a
	// verified read.
	ReadRepair bool
}

// DefaultConfig returns the default manager settings.
func DefaultConfig() Config {
	return Config{
		Health:             registry.DefaultHealthConfig(),
		Routing:            routing.Config{Strategy: routing.StrategyPriority, VerifiedReadReplicas: 3},
		Failover:           failover.DefaultConfig(),
		Replication:        replication.DefaultConfig(),
		DefaultTimeout:     30 * time.Second,
		AutoReplicationMax: 2,
		ReadRepair:         true,
	}
}
