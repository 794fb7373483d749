// Package adapters builds provider adapters from configuration.
package adapters

import (
	"fmt"
	"path/filepath"

	"github.com/DeBrosOfficial/hyperdrive/pkg/adapters/ethereum"
	"github.com/DeBrosOfficial/hyperdrive/pkg/adapters/ipfs"
	"github.com/DeBrosOfficial/hyperdrive/pkg/adapters/memory"
	"github.com/DeBrosOfficial/hyperdrive/pkg/adapters/olric"
	"github.com/DeBrosOfficial/hyperdrive/pkg/adapters/sqldb"
	"github.com/DeBrosOfficial/hyperdrive/pkg/config"
	"github.com/DeBrosOfficial/hyperdrive/pkg/provider"
	"go.uber.org/zap"
)

var (
	crud     = []provider.OperationKind{provider.KindSave, provider.KindLoad, provider.KindDelete, provider.KindSearch}
	content  = []provider.OperationKind{provider.KindSave, provider.KindLoad, provider.KindDelete}
	ledger   = []provider.OperationKind{provider.KindSendTransaction, provider.KindLoad}
	defaults = map[string]struct {
		category     provider.Category
		capabilities []provider.OperationKind
	}{
		config.ProviderSQLite:   {provider.CategoryDocumentStore, crud},
		config.ProviderRQLite:   {provider.CategorySQLDatabase, crud},
		config.ProviderOlric:    {provider.CategoryKeyValue, crud},
		config.ProviderIPFS:     {provider.CategoryContentStore, content},
		config.ProviderEthereum: {provider.CategoryBlockchain, ledger},
		config.ProviderMemory:   {"", crud},
	}
)

// Descriptor derives the registry descriptor for a configured provider,
// filling in the per-type category and capabilities when omitted.
func Descriptor(cfg config.ProviderConfig) (provider.Descriptor, error) {
	def, ok := defaults[cfg.Type]
	if !ok {
		return provider.Descriptor{}, fmt.Errorf("provider %s: unknown type %q", cfg.ID, cfg.Type)
	}

	category := def.category
	if cfg.Category != "" {
		c, err := provider.ParseCategory(cfg.Category)
		if err != nil {
			return provider.Descriptor{}, fmt.Errorf("provider %s: %w", cfg.ID, err)
		}
		category = c
	}
	if category == "" {
		return provider.Descriptor{}, fmt.Errorf("provider %s: category is required for %s providers", cfg.ID, cfg.Type)
	}

	caps := append([]provider.OperationKind(nil), def.capabilities...)
	if len(cfg.Capabilities) > 0 {
		caps = caps[:0]
		for _, name := range cfg.Capabilities {
			k, err := provider.ParseOperationKind(name)
			if err != nil {
				return provider.Descriptor{}, fmt.Errorf("provider %s: %w", cfg.ID, err)
			}
			caps = append(caps, k)
		}
	}

	return provider.Descriptor{
		ID:           cfg.ID,
		Category:     category,
		Priority:     cfg.Priority,
		Capabilities: caps,
		Active:       !cfg.Disabled,
	}, nil
}

// Build constructs the descriptor and an inactive adapter for cfg. Relative
// sqlite paths are resolved against dataDir.
func Build(cfg config.ProviderConfig, dataDir string, logger *zap.Logger) (provider.Descriptor, provider.Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	desc, err := Descriptor(cfg)
	if err != nil {
		return provider.Descriptor{}, nil, err
	}

	var adapter provider.Adapter
	switch cfg.Type {
	case config.ProviderSQLite, config.ProviderRQLite:
		dsn := cfg.DSN
		driver := sqldb.DriverRQLite
		if cfg.Type == config.ProviderSQLite {
			driver = sqldb.DriverSQLite
			if dsn != "" && !filepath.IsAbs(dsn) && dataDir != "" {
				dsn = filepath.Join(dataDir, dsn)
			}
		}
		a, err := sqldb.New(sqldb.Config{ID: cfg.ID, Driver: driver, DSN: dsn, Table: cfg.Table}, logger)
		if err != nil {
			return provider.Descriptor{}, nil, err
		}
		adapter = a

	case config.ProviderOlric:
		adapter = olric.New(olric.Config{ID: cfg.ID, Servers: cfg.Servers, DMap: cfg.DMap}, logger)

	case config.ProviderIPFS:
		adapter = ipfs.New(ipfs.Config{
			ID:            cfg.ID,
			ClusterAPIURL: cfg.ClusterAPIURL,
			APIURL:        cfg.APIURL,
			Timeout:       cfg.Timeout,
		}, logger)

	case config.ProviderEthereum:
		adapter = ethereum.New(ethereum.Config{ID: cfg.ID, RPCURL: cfg.RPCURL}, logger)

	case config.ProviderMemory:
		adapter = memory.New(cfg.ID)
	}

	return desc, adapter, nil
}
