package config

// NodeConfig identifies this process.
type NodeConfig struct {
	ID      string `yaml:"id"`       // Defaults to the hostname; tags gossiped health events
	DataDir string `yaml:"data_dir"` // Holds the sqlite audit log and sqlite providers with relative DSNs
}
