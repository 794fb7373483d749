package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/DeBrosOfficial/hyperdrive/pkg/provider"
	"github.com/DeBrosOfficial/hyperdrive/pkg/routing"
	"github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

// ValidationError represents a single validation error with context.
type ValidationError struct {
	Path    string // e.g., "providers[2].servers[0]"
	Message string // e.g., "invalid host:port"
	Hint    string // e.g., "expected host:port"
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s; %s", e.Path, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validate performs comprehensive validation of the entire config.
// It aggregates all errors and returns them, allowing the caller to print all issues at once.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateNode()...)
	errs = append(errs, c.validateHyperDrive()...)
	errs = append(errs, c.validateProviders()...)
	errs = append(errs, c.validateAudit()...)
	errs = append(errs, c.validateEvents()...)
	errs = append(errs, c.validateGateway()...)
	errs = append(errs, c.validateLogging()...)

	return errs
}

func (c *Config) validateNode() []error {
	var errs []error

	if c.Node.DataDir == "" {
		errs = append(errs, ValidationError{
			Path:    "node.data_dir",
			Message: "must not be empty",
		})
	} else if err := validateDataDir(c.Node.DataDir); err != nil {
		errs = append(errs, ValidationError{
			Path:    "node.data_dir",
			Message: err.Error(),
		})
	}

	return errs
}

func (c *Config) validateHyperDrive() []error {
	var errs []error
	h := c.HyperDrive

	if h.FailureThreshold < 1 {
		errs = append(errs, ValidationError{
			Path:    "hyperdrive.failure_threshold",
			Message: fmt.Sprintf("must be >= 1; got %d", h.FailureThreshold),
		})
	}
	if h.CooldownBase <= 0 {
		errs = append(errs, ValidationError{
			Path:    "hyperdrive.cooldown_base",
			Message: fmt.Sprintf("must be > 0; got %v", h.CooldownBase),
		})
	}
	if h.CooldownMax < h.CooldownBase {
		errs = append(errs, ValidationError{
			Path:    "hyperdrive.cooldown_max",
			Message: fmt.Sprintf("must be >= cooldown_base (%v); got %v", h.CooldownBase, h.CooldownMax),
		})
	}
	if h.ProbeInterval <= 0 {
		errs = append(errs, ValidationError{
			Path:    "hyperdrive.probe_interval",
			Message: fmt.Sprintf("must be > 0; got %v", h.ProbeInterval),
		})
	}
	if h.ProbeTimeout <= 0 || (h.ProbeInterval > 0 && h.ProbeTimeout > h.ProbeInterval) {
		errs = append(errs, ValidationError{
			Path:    "hyperdrive.probe_timeout",
			Message: fmt.Sprintf("must be > 0 and <= probe_interval; got %v", h.ProbeTimeout),
		})
	}
	if h.ProbeWorkers < 1 {
		errs = append(errs, ValidationError{
			Path:    "hyperdrive.probe_workers",
			Message: fmt.Sprintf("must be >= 1; got %d", h.ProbeWorkers),
		})
	}
	if h.DefaultTimeout <= 0 {
		errs = append(errs, ValidationError{
			Path:    "hyperdrive.default_timeout",
			Message: fmt.Sprintf("must be > 0; got %v", h.DefaultTimeout),
		})
	}
	if h.MinAttemptTimeout <= 0 || (h.DefaultTimeout > 0 && h.MinAttemptTimeout > h.DefaultTimeout) {
		errs = append(errs, ValidationError{
			Path:    "hyperdrive.min_attempt_timeout",
			Message: fmt.Sprintf("must be > 0 and <= default_timeout; got %v", h.MinAttemptTimeout),
		})
	}
	if h.AttemptTimeout < 0 {
		errs = append(errs, ValidationError{
			Path:    "hyperdrive.attempt_timeout",
			Message: fmt.Sprintf("must not be negative; got %v", h.AttemptTimeout),
		})
	}
	if h.ReplicaTimeout <= 0 {
		errs = append(errs, ValidationError{
			Path:    "hyperdrive.replica_timeout",
			Message: fmt.Sprintf("must be > 0; got %v", h.ReplicaTimeout),
		})
	}
	if h.BackoffInitial <= 0 {
		errs = append(errs, ValidationError{
			Path:    "hyperdrive.backoff_initial",
			Message: fmt.Sprintf("must be > 0; got %v", h.BackoffInitial),
		})
	}
	if h.BackoffMax < h.BackoffInitial {
		errs = append(errs, ValidationError{
			Path:    "hyperdrive.backoff_max",
			Message: fmt.Sprintf("must be >= backoff_initial (%v); got %v", h.BackoffInitial, h.BackoffMax),
		})
	}
	if _, err := routing.ParseStrategy(h.Strategy); err != nil {
		errs = append(errs, ValidationError{
			Path:    "hyperdrive.strategy",
			Message: fmt.Sprintf("invalid value %q", h.Strategy),
			Hint:    "allowed values: priority, round_robin, performance",
		})
	}
	if h.AutoReplicationMax < 0 {
		errs = append(errs, ValidationError{
			Path:    "hyperdrive.auto_replication_max",
			Message: fmt.Sprintf("must be >= 0; got %d", h.AutoReplicationMax),
		})
	}
	if h.VerifiedReadReplicas < 1 {
		errs = append(errs, ValidationError{
			Path:    "hyperdrive.verified_read_replicas",
			Message: fmt.Sprintf("must be >= 1; got %d", h.VerifiedReadReplicas),
		})
	}

	return errs
}

func (c *Config) validateProviders() []error {
	var errs []error

	if len(c.EnabledProviders()) == 0 {
		errs = append(errs, ValidationError{
			Path:    "providers",
			Message: "must declare at least one enabled provider",
		})
	}

	seen := make(map[string]bool)
	for i, p := range c.Providers {
		path := fmt.Sprintf("providers[%d]", i)

		if p.ID == "" {
			errs = append(errs, ValidationError{Path: path + ".id", Message: "must not be empty"})
		} else if seen[p.ID] {
			errs = append(errs, ValidationError{Path: path + ".id", Message: fmt.Sprintf("duplicate provider id %q", p.ID)})
		}
		seen[p.ID] = true

		if !contains(providerTypes, p.Type) {
			errs = append(errs, ValidationError{
				Path:    path + ".type",
				Message: fmt.Sprintf("invalid value %q", p.Type),
				Hint:    "allowed values: " + strings.Join(providerTypes, ", "),
			})
			continue
		}

		if p.Category != "" {
			if _, err := provider.ParseCategory(p.Category); err != nil {
				errs = append(errs, ValidationError{Path: path + ".category", Message: err.Error()})
			}
		} else if p.Type == ProviderMemory {
			errs = append(errs, ValidationError{
				Path:    path + ".category",
				Message: "required for memory providers",
			})
		}

		for j, capName := range p.Capabilities {
			if _, err := provider.ParseOperationKind(capName); err != nil {
				errs = append(errs, ValidationError{
					Path:    fmt.Sprintf("%s.capabilities[%d]", path, j),
					Message: err.Error(),
					Hint:    "allowed values: save, load, delete, search, send_transaction",
				})
			}
		}

		if p.Priority < 0 {
			errs = append(errs, ValidationError{
				Path:    path + ".priority",
				Message: fmt.Sprintf("must be >= 0; got %d", p.Priority),
			})
		}
		if p.Timeout < 0 {
			errs = append(errs, ValidationError{
				Path:    path + ".timeout",
				Message: fmt.Sprintf("must not be negative; got %v", p.Timeout),
			})
		}

		errs = append(errs, validateProviderConnection(path, p)...)
	}

	return errs
}

func validateProviderConnection(path string, p ProviderConfig) []error {
	var errs []error

	switch p.Type {
	case ProviderSQLite:
		if p.DSN == "" {
			errs = append(errs, ValidationError{Path: path + ".dsn", Message: "must not be empty", Hint: "path to the sqlite database file"})
		}
	case ProviderRQLite:
		if err := validateHTTPURL(p.DSN); err != nil {
			errs = append(errs, ValidationError{Path: path + ".dsn", Message: err.Error(), Hint: "e.g. http://localhost:5001"})
		}
	case ProviderOlric:
		if len(p.Servers) == 0 {
			errs = append(errs, ValidationError{Path: path + ".servers", Message: "must not be empty", Hint: "list of host:port"})
		}
		for j, s := range p.Servers {
			if err := validateHostPort(s); err != nil {
				errs = append(errs, ValidationError{
					Path:    fmt.Sprintf("%s.servers[%d]", path, j),
					Message: err.Error(),
					Hint:    "expected host:port",
				})
			}
		}
	case ProviderIPFS:
		if err := validateHTTPURL(p.ClusterAPIURL); err != nil {
			errs = append(errs, ValidationError{Path: path + ".cluster_api_url", Message: err.Error(), Hint: "e.g. http://localhost:9094"})
		}
		if p.APIURL != "" {
			if err := validateHTTPURL(p.APIURL); err != nil {
				errs = append(errs, ValidationError{Path: path + ".api_url", Message: err.Error()})
			}
		}
	case ProviderEthereum:
		if p.RPCURL == "" {
			errs = append(errs, ValidationError{Path: path + ".rpc_url", Message: "must not be empty", Hint: "http(s):// or ws(s):// JSON-RPC endpoint"})
		}
	}

	return errs
}

func (c *Config) validateAudit() []error {
	var errs []error

	switch c.Audit.Backend {
	case AuditMemory, AuditSQLite:
	case AuditRQLite:
		if err := validateHTTPURL(c.Audit.DSN); err != nil {
			errs = append(errs, ValidationError{Path: "audit.dsn", Message: err.Error(), Hint: "e.g. http://localhost:5001"})
		}
	default:
		errs = append(errs, ValidationError{
			Path:    "audit.backend",
			Message: fmt.Sprintf("invalid value %q", c.Audit.Backend),
			Hint:    "allowed values: memory, sqlite, rqlite",
		})
	}

	return errs
}

func (c *Config) validateEvents() []error {
	var errs []error
	ev := c.Events

	if ev.BufferSize < 1 {
		errs = append(errs, ValidationError{
			Path:    "events.buffer_size",
			Message: fmt.Sprintf("must be >= 1; got %d", ev.BufferSize),
		})
	}
	if !ev.Enabled {
		return errs
	}

	if c.Node.ID == "" {
		errs = append(errs, ValidationError{
			Path:    "node.id",
			Message: "must not be empty when events are enabled",
			Hint:    "gossiped health events carry the node id",
		})
	}
	if ev.Topic == "" {
		errs = append(errs, ValidationError{Path: "events.topic", Message: "must not be empty"})
	}
	if ev.Namespace == "" {
		errs = append(errs, ValidationError{Path: "events.namespace", Message: "must not be empty"})
	}

	if len(ev.ListenAddresses) == 0 {
		errs = append(errs, ValidationError{
			Path:    "events.listen_addresses",
			Message: "must not be empty",
		})
	}

	seen := make(map[string]bool)
	for i, addr := range ev.ListenAddresses {
		path := fmt.Sprintf("events.listen_addresses[%d]", i)

		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			errs = append(errs, ValidationError{
				Path:    path,
				Message: fmt.Sprintf("invalid multiaddr: %v", err),
				Hint:    "expected /ip{4,6}/.../tcp/<port>",
			})
			continue
		}

		tcpAddr, err := manet.ToNetAddr(ma)
		if err != nil {
			errs = append(errs, ValidationError{
				Path:    path,
				Message: fmt.Sprintf("cannot convert multiaddr to network address: %v", err),
				Hint:    "ensure multiaddr contains /tcp/<port>",
			})
			continue
		}

		tcp, ok := tcpAddr.(*net.TCPAddr)
		if !ok || tcp.Port < 1 || tcp.Port > 65535 {
			errs = append(errs, ValidationError{
				Path:    path,
				Message: fmt.Sprintf("invalid TCP address %s", tcpAddr),
				Hint:    "port must be between 1 and 65535",
			})
		}

		if seen[addr] {
			errs = append(errs, ValidationError{
				Path:    path,
				Message: "duplicate listen address",
			})
		}
		seen[addr] = true
	}

	for i, peer := range ev.Peers {
		path := fmt.Sprintf("events.peers[%d]", i)

		if _, err := multiaddr.NewMultiaddr(peer); err != nil {
			errs = append(errs, ValidationError{
				Path:    path,
				Message: fmt.Sprintf("invalid multiaddr: %v", err),
				Hint:    "expected /ip{4,6}/.../tcp/<port>/p2p/<peerID>",
			})
			continue
		}
		if !strings.Contains(peer, "/p2p/") {
			errs = append(errs, ValidationError{
				Path:    path,
				Message: "missing /p2p/<peerID> component",
				Hint:    "expected /ip{4,6}/.../tcp/<port>/p2p/<peerID>",
			})
		}
	}

	return errs
}

func (c *Config) validateGateway() []error {
	var errs []error
	gw := c.Gateway

	if !gw.Enabled {
		return errs
	}
	if err := validateListenAddr(gw.ListenAddr); err != nil {
		errs = append(errs, ValidationError{
			Path:    "gateway.listen_addr",
			Message: err.Error(),
			Hint:    "expected [host]:port, e.g. :8080",
		})
	}
	if gw.ReadTimeout < 0 || gw.WriteTimeout < 0 || gw.ShutdownTimeout < 0 {
		errs = append(errs, ValidationError{
			Path:    "gateway",
			Message: "timeouts must not be negative",
		})
	}

	return errs
}

func (c *Config) validateLogging() []error {
	var errs []error
	log := c.Logging

	// Validate level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[log.Level] {
		errs = append(errs, ValidationError{
			Path:    "logging.level",
			Message: fmt.Sprintf("invalid value %q", log.Level),
			Hint:    "allowed values: debug, info, warn, error",
		})
	}

	// Validate format
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[log.Format] {
		errs = append(errs, ValidationError{
			Path:    "logging.format",
			Message: fmt.Sprintf("invalid value %q", log.Format),
			Hint:    "allowed values: json, console",
		})
	}

	// Validate output_file
	if log.OutputFile != "" {
		dir := filepath.Dir(log.OutputFile)
		if dir != "" && dir != "." {
			if err := validateDirWritable(dir); err != nil {
				errs = append(errs, ValidationError{
					Path:    "logging.output_file",
					Message: fmt.Sprintf("parent directory not writable: %v", err),
				})
			}
		}
	}

	return errs
}

// Helper validation functions

func expandPath(path string) string {
	expanded := os.ExpandEnv(path)
	if strings.HasPrefix(expanded, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			expanded = filepath.Join(home, expanded[1:])
		}
	}
	return expanded
}

func validateDataDir(path string) error {
	if path == "" {
		return fmt.Errorf("must not be empty")
	}

	expandedPath := expandPath(path)

	if info, err := os.Stat(expandedPath); err == nil {
		// Directory exists; check if it's a directory and writable
		if !info.IsDir() {
			return fmt.Errorf("path exists but is not a directory")
		}
		return validateDirWritable(expandedPath)
	} else if os.IsNotExist(err) {
		// Directory doesn't exist; it is created at startup if the parent allows it
		parent := filepath.Dir(expandedPath)
		if info, err := os.Stat(parent); err != nil {
			if !os.IsNotExist(err) {
				return fmt.Errorf("parent directory not accessible: %v", err)
			}
		} else if !info.IsDir() {
			return fmt.Errorf("parent path is not a directory")
		} else if err := validateDirWritable(parent); err != nil {
			return fmt.Errorf("parent directory not writable: %v", err)
		}
	} else {
		return fmt.Errorf("cannot access path: %v", err)
	}

	return nil
}

func validateDirWritable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot access directory: %v", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory")
	}

	// Try to write a test file
	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte(""), 0644); err != nil {
		return fmt.Errorf("directory not writable: %v", err)
	}
	os.Remove(testFile)

	return nil
}

func validateHostPort(hostPort string) error {
	host, port, err := net.SplitHostPort(hostPort)
	if err != nil {
		return fmt.Errorf("expected format host:port")
	}
	if host == "" {
		return fmt.Errorf("host must not be empty")
	}
	return validatePort(port)
}

// validateListenAddr accepts host:port with an optional host.
func validateListenAddr(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q", addr)
	}
	return validatePort(port)
}

func validatePort(port string) error {
	portNum, err := strconv.Atoi(port)
	if err != nil || portNum < 1 || portNum > 65535 {
		return fmt.Errorf("port must be a number between 1 and 65535; got %q", port)
	}
	return nil
}

func validateHTTPURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
