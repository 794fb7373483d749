package config

// EventsConfig controls gossiping health events to other nodes over libp2p.
type EventsConfig struct {
	Enabled         bool     `yaml:"enabled"`
	ListenAddresses []string `yaml:"listen_addresses"` // libp2p multiaddrs
	Peers           []string `yaml:"peers"`            // Full multiaddrs including /p2p/<peerID>
	Topic           string   `yaml:"topic"`
	Namespace       string   `yaml:"namespace"`
	BufferSize      int      `yaml:"buffer_size"` // Per-subscriber buffer of the local bus
}
