package node

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DeBrosOfficial/hyperdrive/pkg/config"
	"github.com/DeBrosOfficial/hyperdrive/pkg/logging"
	"github.com/DeBrosOfficial/hyperdrive/pkg/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Node.ID = "test-node"
	cfg.Node.DataDir = t.TempDir()
	cfg.Audit.Backend = config.AuditSQLite
	cfg.Gateway.ListenAddr = "127.0.0.1:0"
	cfg.Logging.Level = "error"
	cfg.Providers = []config.ProviderConfig{
		{ID: "docs", Type: config.ProviderSQLite, DSN: "docs.db", Priority: 1},
		{ID: "scratch", Type: config.ProviderMemory, Category: "document_store", Priority: 2},
	}
	return cfg
}

func startNode(t *testing.T, cfg *config.Config) *Node {
	t.Helper()
	logger, err := logging.NewLogger(cfg.Logger())
	require.NoError(t, err)
	n, err := NewNode(cfg, logger)
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	t.Cleanup(func() { n.Stop(context.Background()) })
	return n
}

func TestNodeServesConfiguredProviders(t *testing.T) {
	cfg := testConfig(t)
	n := startNode(t, cfg)
	ctx := context.Background()

	providers := n.Manager().Providers()
	require.Len(t, providers, 2)
	for _, p := range providers {
		assert.True(t, p.Active, p.ID)
		assert.Equal(t, provider.CategoryDocumentStore, p.Category)
	}
	assert.FileExists(t, filepath.Join(cfg.Node.DataDir, "docs.db"))
	assert.FileExists(t, filepath.Join(cfg.Node.DataDir, "audit.db"))

	res := n.Manager().Execute(ctx, provider.Operation{
		Kind:           provider.KindSave,
		Category:       provider.CategoryDocumentStore,
		TargetID:       "user-1",
		Payload:        []byte(`{"name":"ada"}`),
		IdempotencyKey: "save-user-1",
		Replication:    provider.Quorum(2),
	})
	require.False(t, res.IsError(), res.Message())

	res = n.Manager().Execute(ctx, provider.Operation{
		Kind:         provider.KindLoad,
		Category:     provider.CategoryDocumentStore,
		TargetID:     "user-1",
		VerifiedRead: true,
	})
	require.False(t, res.IsError(), res.Message())
	v, _ := res.Value()
	assert.JSONEq(t, `{"name":"ada"}`, string(v.Data))
	_, conflicted := res.Conflict()
	assert.False(t, conflicted)

	resp, err := http.Get("http://" + n.GatewayAddr() + "/v1/providers")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body struct {
		Providers []provider.Descriptor `json:"providers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Len(t, body.Providers, 2)
}

func TestUnreachableProviderRegistersInactive(t *testing.T) {
	cfg := testConfig(t)
	cfg.Gateway.Enabled = false
	cfg.Providers = append(cfg.Providers, config.ProviderConfig{
		ID: "remote", Type: config.ProviderRQLite, DSN: "http://127.0.0.1:1", Priority: 3,
	})
	n := startNode(t, cfg)

	d, err := n.Manager().Registry().Get("remote")
	require.NoError(t, err)
	assert.False(t, d.Active)
	assert.Empty(t, n.GatewayAddr())
}

func TestNodeGossipWritesPeerInfo(t *testing.T) {
	cfg := testConfig(t)
	cfg.Gateway.Enabled = false
	cfg.Events.Enabled = true
	cfg.Events.ListenAddresses = []string{"/ip4/127.0.0.1/tcp/0"}
	n := startNode(t, cfg)

	require.NotEmpty(t, n.PeerID())
	data, err := os.ReadFile(filepath.Join(cfg.Node.DataDir, peerInfoFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), "/p2p/"+n.PeerID())
	assert.True(t, strings.HasPrefix(string(data), "/ip4/127.0.0.1/tcp/"))
	assert.FileExists(t, filepath.Join(cfg.Node.DataDir, identityFile))
}

func TestStartFailsOnBadProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Gateway.Enabled = false
	cfg.Providers = []config.ProviderConfig{{ID: "x", Type: "mongo"}}

	n, err := NewNode(cfg, nil)
	require.NoError(t, err)
	assert.Error(t, n.Start(context.Background()))
}
