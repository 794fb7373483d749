package config

import "time"

// Provider types understood by pkg/adapters.
const (
	ProviderSQLite   = "sqlite"
	ProviderRQLite   = "rqlite"
	ProviderOlric    = "olric"
	ProviderIPFS     = "ipfs"
	ProviderEthereum = "ethereum"
	ProviderMemory   = "memory"
)

var providerTypes = []string{
	ProviderSQLite, ProviderRQLite, ProviderOlric, ProviderIPFS, ProviderEthereum, ProviderMemory,
}

// ProviderConfig declares one backend.
type ProviderConfig struct {
	ID           string   `yaml:"id"`
	Type         string   `yaml:"type"`
	Category     string   `yaml:"category"`     // Defaults per type
	Priority     int      `yaml:"priority"`     // Lower is tried first
	Capabilities []string `yaml:"capabilities"` // Defaults per type
	Disabled     bool     `yaml:"disabled"`

	// Connection settings; which ones apply depends on Type
	DSN           string        `yaml:"dsn"`             // sqlite file path or rqlite URL
	Table         string        `yaml:"table"`           // sqlite/rqlite entity table
	Servers       []string      `yaml:"servers"`         // olric host:port list
	DMap          string        `yaml:"dmap"`            // olric distributed map
	ClusterAPIURL string        `yaml:"cluster_api_url"` // IPFS Cluster HTTP API
	APIURL        string        `yaml:"api_url"`         // IPFS HTTP API for content retrieval
	RPCURL        string        `yaml:"rpc_url"`         // Ethereum JSON-RPC endpoint
	Timeout       time.Duration `yaml:"timeout"`         // Client-level timeout
}
