package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/DeBrosOfficial/hyperdrive/pkg/failover"
	"github.com/DeBrosOfficial/hyperdrive/pkg/hyperdrive"
	"github.com/DeBrosOfficial/hyperdrive/pkg/logging"
	"github.com/DeBrosOfficial/hyperdrive/pkg/registry"
	"github.com/DeBrosOfficial/hyperdrive/pkg/replication"
	"github.com/DeBrosOfficial/hyperdrive/pkg/routing"
	"github.com/multiformats/go-multiaddr"
)

// Config is the configuration of a hyperdrive node.
type Config struct {
	Node       NodeConfig       `yaml:"node"`
	HyperDrive HyperDriveConfig `yaml:"hyperdrive"`
	Providers  []ProviderConfig `yaml:"providers"`
	Audit      AuditConfig      `yaml:"audit"`
	Events     EventsConfig     `yaml:"events"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ParseMultiaddrs converts the event listen addresses to multiaddr objects.
func (c *Config) ParseMultiaddrs() ([]multiaddr.Multiaddr, error) {
	var addrs []multiaddr.Multiaddr
	for _, addr := range c.Events.ListenAddresses {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, ma)
	}
	return addrs, nil
}

// Manager maps the hyperdrive section onto the manager settings.
func (c *Config) Manager() hyperdrive.Config {
	h := c.HyperDrive
	return hyperdrive.Config{
		Health: registry.HealthConfig{
			FailureThreshold: h.FailureThreshold,
			CooldownBase:     h.CooldownBase,
			CooldownMax:      h.CooldownMax,
			ProbeInterval:    h.ProbeInterval,
			ProbeTimeout:     h.ProbeTimeout,
			ProbeWorkers:     h.ProbeWorkers,
		},
		Routing: routing.Config{
			Strategy:             routing.Strategy(h.Strategy),
			VerifiedReadReplicas: h.VerifiedReadReplicas,
		},
		Failover: failover.Config{
			MinAttemptTimeout: h.MinAttemptTimeout,
			AttemptTimeout:    h.AttemptTimeout,
			BackoffInitial:    h.BackoffInitial,
			BackoffMax:        h.BackoffMax,
			SingleAttempt:     !h.AutoFailover,
		},
		Replication: replication.Config{
			ReplicaTimeout: h.ReplicaTimeout,
		},
		DefaultTimeout:     h.DefaultTimeout,
		AutoReplicationMax: h.AutoReplicationMax,
		ReadRepair:         h.ReadRepair,
	}
}

// Logger maps the logging section onto the logger settings.
func (c *Config) Logger() logging.Config {
	return logging.Config{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		OutputFile: c.Logging.OutputFile,
		Colors:     c.Logging.OutputFile == "" && c.Logging.Format != "json",
	}
}

// AuditDSN returns the audit database location. An empty sqlite DSN means
// audit.db inside the data directory.
func (c *Config) AuditDSN() string {
	if c.Audit.DSN != "" || c.Audit.Backend != AuditSQLite {
		return c.Audit.DSN
	}
	return filepath.Join(c.DataDir(), "audit.db")
}

// DataDir returns the data directory with ~ and environment variables
// expanded.
func (c *Config) DataDir() string {
	return expandPath(c.Node.DataDir)
}

// EnabledProviders returns the providers not marked disabled.
func (c *Config) EnabledProviders() []ProviderConfig {
	var out []ProviderConfig
	for _, p := range c.Providers {
		if !p.Disabled {
			out = append(out, p)
		}
	}
	return out
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	hostname, _ := os.Hostname()
	return &Config{
		Node: NodeConfig{
			ID:      hostname,
			DataDir: "./data",
		},
		HyperDrive: HyperDriveConfig{
			FailureThreshold:     3,
			CooldownBase:         5 * time.Second,
			CooldownMax:          5 * time.Minute,
			ProbeInterval:        10 * time.Second,
			ProbeTimeout:         2 * time.Second,
			ProbeWorkers:         8,
			DefaultTimeout:       30 * time.Second,
			MinAttemptTimeout:    250 * time.Millisecond,
			AttemptTimeout:       10 * time.Second,
			ReplicaTimeout:       10 * time.Second,
			BackoffInitial:       100 * time.Millisecond,
			BackoffMax:           2 * time.Second,
			Strategy:             string(routing.StrategyPriority),
			AutoFailover:         true,
			AutoReplicationMax:   2,
			ReadRepair:           true,
			VerifiedReadReplicas: 3,
		},
		Audit: AuditConfig{
			Backend: AuditMemory,
		},
		Events: EventsConfig{
			Enabled: false,
			ListenAddresses: []string{
				"/ip4/0.0.0.0/tcp/4101",
			},
			Topic:      "health",
			Namespace:  "hyperdrive",
			BufferSize: 64,
		},
		Gateway: GatewayConfig{
			Enabled:         true,
			ListenAddr:      ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
