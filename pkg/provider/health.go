package provider

import (
	"fmt"
	"time"
)

// HealthState is the position of a provider in the health state machine.
type HealthState int

const (
	HealthUnknown HealthState = iota
	HealthHealthy
	HealthDegraded
	HealthUnavailable
)

// Severity orders states for routing: Healthy, Unknown, Degraded, Unavailable.
func (s HealthState) Severity() int {
	switch s {
	case HealthHealthy:
		return 0
	case HealthUnknown:
		return 1
	case HealthDegraded:
		return 2
	default:
		return 3
	}
}

func (s HealthState) String() string {
	switch s {
	case HealthUnknown:
		return "unknown"
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("HealthState(%d)", int(s))
	}
}

// MarshalText renders the state by name in JSON and YAML.
func (s HealthState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *HealthState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "unknown":
		*s = HealthUnknown
	case "healthy":
		*s = HealthHealthy
	case "degraded":
		*s = HealthDegraded
	case "unavailable":
		*s = HealthUnavailable
	default:
		return fmt.Errorf("unknown health state %q", string(text))
	}
	return nil
}

// HealthEvent describes one health transition of a provider.
type HealthEvent struct {
	Provider            string      `json:"provider"`
	From                HealthState `json:"from"`
	To                  HealthState `json:"to"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	Cause               string      `json:"cause,omitempty"`
	At                  time.Time   `json:"at"`
	// Origin names the node that observed the transition; empty for local events.
	Origin string `json:"origin,omitempty"`
}
