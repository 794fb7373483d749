package config

import "time"

// HyperDriveConfig tunes health tracking, routing, failover and replication.
type HyperDriveConfig struct {
	// Health state machine
	FailureThreshold int           `yaml:"failure_threshold"` // Consecutive failures before a circuit opens
	CooldownBase     time.Duration `yaml:"cooldown_base"`     // First cool-down of an open circuit
	CooldownMax      time.Duration `yaml:"cooldown_max"`      // Cap for the doubling cool-down
	ProbeInterval    time.Duration `yaml:"probe_interval"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`
	ProbeWorkers     int           `yaml:"probe_workers"`

	// Timeouts and backoff
	DefaultTimeout    time.Duration `yaml:"default_timeout"`     // Applied to operations without a timeout
	MinAttemptTimeout time.Duration `yaml:"min_attempt_timeout"` // Floor of the per-attempt share of the budget
	AttemptTimeout    time.Duration `yaml:"attempt_timeout"`     // Per attempt when no deadline is known
	ReplicaTimeout    time.Duration `yaml:"replica_timeout"`     // Cap for each replica call
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMax        time.Duration `yaml:"backoff_max"`

	// Routing and replication
	Strategy             string `yaml:"strategy"`      // priority, round_robin, performance
	AutoFailover         bool   `yaml:"auto_failover"` // false: only the first candidate is tried
	AutoReplicationMax   int    `yaml:"auto_replication_max"`
	ReadRepair           bool   `yaml:"read_repair"`
	VerifiedReadReplicas int    `yaml:"verified_read_replicas"`
}
