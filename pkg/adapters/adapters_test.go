package adapters

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/DeBrosOfficial/hyperdrive/pkg/adapters/ethereum"
	"github.com/DeBrosOfficial/hyperdrive/pkg/adapters/ipfs"
	"github.com/DeBrosOfficial/hyperdrive/pkg/adapters/memory"
	"github.com/DeBrosOfficial/hyperdrive/pkg/adapters/olric"
	"github.com/DeBrosOfficial/hyperdrive/pkg/adapters/sqldb"
	"github.com/DeBrosOfficial/hyperdrive/pkg/config"
	"github.com/DeBrosOfficial/hyperdrive/pkg/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptorDefaults(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.ProviderConfig
		category provider.Category
		caps     []provider.OperationKind
	}{
		{"sqlite", config.ProviderConfig{ID: "a", Type: "sqlite", DSN: "a.db"}, provider.CategoryDocumentStore, crud},
		{"rqlite", config.ProviderConfig{ID: "b", Type: "rqlite"}, provider.CategorySQLDatabase, crud},
		{"olric", config.ProviderConfig{ID: "c", Type: "olric"}, provider.CategoryKeyValue, crud},
		{"ipfs", config.ProviderConfig{ID: "d", Type: "ipfs"}, provider.CategoryContentStore, content},
		{"ethereum", config.ProviderConfig{ID: "e", Type: "ethereum"}, provider.CategoryBlockchain, ledger},
		{"memory", config.ProviderConfig{ID: "f", Type: "memory", Category: "object_store"}, provider.CategoryObjectStore, crud},
		{
			"overrides",
			config.ProviderConfig{ID: "g", Type: "sqlite", Category: "key_value", Capabilities: []string{"load"}},
			provider.CategoryKeyValue,
			[]provider.OperationKind{provider.KindLoad},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Descriptor(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.cfg.ID, d.ID)
			assert.Equal(t, tt.category, d.Category)
			assert.Equal(t, tt.caps, d.Capabilities)
			assert.True(t, d.Active)
		})
	}
}

func TestDescriptorErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.ProviderConfig
	}{
		{"unknown type", config.ProviderConfig{ID: "x", Type: "mongo"}},
		{"memory without category", config.ProviderConfig{ID: "x", Type: "memory"}},
		{"bad category", config.ProviderConfig{ID: "x", Type: "sqlite", Category: "graph"}},
		{"bad capability", config.ProviderConfig{ID: "x", Type: "sqlite", Capabilities: []string{"upsert"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Descriptor(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestDisabledProviderStartsInactive(t *testing.T) {
	d, err := Descriptor(config.ProviderConfig{ID: "x", Type: "olric", Disabled: true})
	require.NoError(t, err)
	assert.False(t, d.Active)
}

func TestBuildAdapterTypes(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		cfg  config.ProviderConfig
		want provider.Adapter
	}{
		{config.ProviderConfig{ID: "a", Type: "sqlite", DSN: "a.db"}, &sqldb.Adapter{}},
		{config.ProviderConfig{ID: "b", Type: "rqlite", DSN: "http://localhost:5001"}, &sqldb.Adapter{}},
		{config.ProviderConfig{ID: "c", Type: "olric", Servers: []string{"localhost:3320"}}, &olric.Adapter{}},
		{config.ProviderConfig{ID: "d", Type: "ipfs", ClusterAPIURL: "http://localhost:9094"}, &ipfs.Adapter{}},
		{config.ProviderConfig{ID: "e", Type: "ethereum", RPCURL: "http://localhost:8545"}, &ethereum.Adapter{}},
		{config.ProviderConfig{ID: "f", Type: "memory", Category: "key_value"}, &memory.Adapter{}},
	}
	for _, tt := range tests {
		t.Run(tt.cfg.Type, func(t *testing.T) {
			_, a, err := Build(tt.cfg, dir, nil)
			require.NoError(t, err)
			assert.IsType(t, tt.want, a)
		})
	}
}

func TestBuildResolvesSQLitePathAgainstDataDir(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	_, a, err := Build(config.ProviderConfig{ID: "docs", Type: "sqlite", DSN: "nested/docs.db"}, dir, nil)
	require.NoError(t, err)
	require.NoError(t, a.Activate(ctx))
	defer a.Deactivate(ctx)

	assert.FileExists(t, filepath.Join(dir, "nested", "docs.db"))
	assert.True(t, a.Probe(ctx))
}

func TestBuildRejectsMissingDSN(t *testing.T) {
	_, _, err := Build(config.ProviderConfig{ID: "a", Type: "sqlite"}, t.TempDir(), nil)
	assert.Error(t, err)
}
