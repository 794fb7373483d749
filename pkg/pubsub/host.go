package pubsub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	libp2ppubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	noise "github.com/libp2p/go-libp2p/p2p/security/noise"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
)

// NodeConfig configures the libp2p host carrying the gossip layer.
type NodeConfig struct {
	ListenAddresses []string
	Peers           []string // full multiaddrs with /p2p/<id>
	Namespace       string
	// IdentityPath holds the host key; empty means a fresh identity per run
	IdentityPath string
	// ReconnectInterval is the delay between attempts to reach
	// disconnected peers; zero means 5s
	ReconnectInterval time.Duration
}

// Node owns a libp2p host, its gossipsub router and the namespaced Manager.
type Node struct {
	host    host.Host
	manager *Manager
	peers   []peer.AddrInfo
	logger  *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNode starts a libp2p host listening on cfg.ListenAddresses and joins
// gossipsub. Configured peers are dialled in the background until connected.
func NewNode(cfg NodeConfig, logger *zap.Logger) (*Node, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	listenAddrs := make([]multiaddr.Multiaddr, 0, len(cfg.ListenAddresses))
	for _, addr := range cfg.ListenAddresses {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid listen address %s: %w", addr, err)
		}
		listenAddrs = append(listenAddrs, ma)
	}

	peers := make([]peer.AddrInfo, 0, len(cfg.Peers))
	for _, addr := range cfg.Peers {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid peer address %s: %w", addr, err)
		}
		info, err := peer.AddrInfoFromP2pAddr(ma)
		if err != nil {
			return nil, fmt.Errorf("invalid peer address %s: %w", addr, err)
		}
		peers = append(peers, *info)
	}

	opts := []libp2p.Option{
		libp2p.ListenAddrs(listenAddrs...),
		libp2p.Security(noise.ID, noise.New),
		libp2p.DefaultMuxers,
	}
	if cfg.IdentityPath != "" {
		priv, id, err := LoadOrCreateIdentity(cfg.IdentityPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load identity: %w", err)
		}
		logger.Debug("Loaded host identity", zap.String("peer_id", id.String()))
		opts = append(opts, libp2p.Identity(priv))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ps, err := libp2ppubsub.NewGossipSub(ctx, h,
		libp2ppubsub.WithPeerExchange(true),
		libp2ppubsub.WithFloodPublish(true),
	)
	if err != nil {
		cancel()
		h.Close()
		return nil, fmt.Errorf("failed to create pubsub: %w", err)
	}

	n := &Node{
		host:    h,
		manager: NewManager(ps, h.ID(), cfg.Namespace, logger),
		peers:   peers,
		logger:  logger,
		cancel:  cancel,
	}
	for _, p := range peers {
		h.Peerstore().AddAddrs(p.ID, p.Addrs, 24*time.Hour)
	}

	logger.Info("Gossip host started",
		zap.String("peer_id", h.ID().String()),
		zap.Strings("listen", cfg.ListenAddresses),
		zap.Int("peers", len(peers)),
	)

	if len(peers) > 0 {
		interval := cfg.ReconnectInterval
		if interval <= 0 {
			interval = 5 * time.Second
		}
		n.wg.Add(1)
		go n.reconnectLoop(ctx, interval)
	}
	return n, nil
}

// Host exposes the libp2p host.
func (n *Node) Host() host.Host { return n.host }

// PubSub returns the namespaced manager.
func (n *Node) PubSub() *Manager { return n.manager }

// Addrs returns the full /p2p multiaddrs other nodes can dial.
func (n *Node) Addrs() []string {
	suffix := multiaddr.StringCast("/p2p/" + n.host.ID().String())
	out := make([]string, 0, len(n.host.Addrs()))
	for _, a := range n.host.Addrs() {
		out = append(out, a.Encapsulate(suffix).String())
	}
	return out
}

// ConnectedPeers counts live connections.
func (n *Node) ConnectedPeers() int {
	return len(n.host.Network().Peers())
}

func (n *Node) reconnectLoop(ctx context.Context, interval time.Duration) {
	defer n.wg.Done()

	n.connectPeers(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.connectPeers(ctx)
		}
	}
}

func (n *Node) connectPeers(ctx context.Context) {
	for _, p := range n.peers {
		if n.host.Network().Connectedness(p.ID) == network.Connected {
			continue
		}
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := n.host.Connect(dialCtx, p)
		cancel()
		if err != nil {
			n.logger.Debug("Failed to connect to peer", zap.String("peer_id", p.ID.String()), zap.Error(err))
			continue
		}
		n.logger.Info("Connected to peer", zap.String("peer_id", p.ID.String()))
	}
}

// Close stops reconnecting, leaves every topic and shuts the host down.
func (n *Node) Close() error {
	n.cancel()
	n.wg.Wait()
	n.manager.Close()
	return n.host.Close()
}
