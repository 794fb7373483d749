// Package node assembles a running HyperDrive process from configuration:
// audit log, provider adapters, the provider manager, health gossip and the
// HTTP gateway.
package node

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/DeBrosOfficial/hyperdrive/pkg/adapters"
	"github.com/DeBrosOfficial/hyperdrive/pkg/audit"
	"github.com/DeBrosOfficial/hyperdrive/pkg/config"
	"github.com/DeBrosOfficial/hyperdrive/pkg/events"
	"github.com/DeBrosOfficial/hyperdrive/pkg/gateway"
	"github.com/DeBrosOfficial/hyperdrive/pkg/hyperdrive"
	"github.com/DeBrosOfficial/hyperdrive/pkg/logging"
	"github.com/DeBrosOfficial/hyperdrive/pkg/provider"
	"github.com/DeBrosOfficial/hyperdrive/pkg/pubsub"
	"go.uber.org/zap"
)

// peerInfoFile is written to the data directory with the gossip addresses
// other nodes can list as peers.
const peerInfoFile = "peer.info"

// identityFile keeps the gossip host key so the peer ID survives restarts.
const identityFile = "identity.key"

// Node is one HyperDrive process.
type Node struct {
	config *config.Config
	logger *logging.ColoredLogger

	journal   audit.Log
	bus       *events.Bus[provider.HealthEvent]
	manager   *hyperdrive.Manager
	gossip    *pubsub.Node
	exchange  *pubsub.PeerExchange
	forwarder *events.Forwarder
	gateway   *gateway.Gateway
}

// NewNode prepares a node; nothing is opened until Start.
func NewNode(cfg *config.Config, logger *logging.ColoredLogger) (*Node, error) {
	if cfg == nil {
		return nil, fmt.Errorf("node config is required")
	}
	if logger == nil {
		var err error
		logger, err = logging.NewLogger(cfg.Logger())
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}
	return &Node{config: cfg, logger: logger}, nil
}

// Start brings every enabled component up. On error the components started
// so far are stopped again.
func (n *Node) Start(ctx context.Context) error {
	n.logger.ComponentInfo(logging.ComponentNode, "Starting HyperDrive node",
		zap.String("node_id", n.config.Node.ID),
		zap.String("data_dir", n.config.Node.DataDir),
	)

	if err := os.MkdirAll(n.config.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := n.start(ctx); err != nil {
		n.Stop(context.Background())
		return err
	}

	n.logger.ComponentInfo(logging.ComponentNode, "HyperDrive node started",
		zap.Int("providers", len(n.manager.Providers())),
		zap.Bool("events", n.gossip != nil),
		zap.Bool("gateway", n.gateway != nil),
	)
	return nil
}

func (n *Node) start(ctx context.Context) error {
	journal, err := audit.Open(ctx, n.config.Audit.Backend, n.config.AuditDSN(), n.logger.Named(logging.ComponentAudit))
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	n.journal = journal

	n.bus = events.NewBus[provider.HealthEvent]()
	n.manager = hyperdrive.New(n.config.Manager(), n.logger.Logger,
		hyperdrive.WithJournal(journal),
		hyperdrive.WithBus(n.bus),
	)

	if err := n.registerProviders(ctx); err != nil {
		return err
	}
	n.manager.Start(ctx)

	if n.config.Events.Enabled {
		if err := n.startEvents(ctx); err != nil {
			return fmt.Errorf("failed to start health gossip: %w", err)
		}
	}

	if n.config.Gateway.Enabled {
		if err := n.startGateway(); err != nil {
			return err
		}
	}
	return nil
}

// registerProviders builds an adapter per configured provider. A provider
// whose backend cannot be reached yet stays registered but inactive, so it
// can be activated later through the gateway.
func (n *Node) registerProviders(ctx context.Context) error {
	adapterLog := n.logger.Named(logging.ComponentAdapter)
	for _, p := range n.config.Providers {
		desc, adapter, err := adapters.Build(p, n.config.DataDir(), adapterLog)
		if err != nil {
			return fmt.Errorf("provider %s: %w", p.ID, err)
		}

		err = n.manager.RegisterProvider(ctx, desc, adapter)
		if err == nil {
			continue
		}
		if !desc.Active {
			return fmt.Errorf("provider %s: %w", p.ID, err)
		}

		n.logger.ComponentWarn(logging.ComponentNode, "Provider activation failed, registering inactive",
			zap.String("provider", p.ID), zap.Error(err))
		desc.Active = false
		if err := n.manager.RegisterProvider(ctx, desc, adapter); err != nil {
			return fmt.Errorf("provider %s: %w", p.ID, err)
		}
	}
	return nil
}

func (n *Node) startEvents(ctx context.Context) error {
	ev := n.config.Events
	eventsLog := n.logger.Named(logging.ComponentEvents)

	gossip, err := pubsub.NewNode(pubsub.NodeConfig{
		ListenAddresses: ev.ListenAddresses,
		Peers:           ev.Peers,
		Namespace:       ev.Namespace,
		IdentityPath:    filepath.Join(n.config.DataDir(), identityFile),
	}, eventsLog)
	if err != nil {
		return err
	}
	n.gossip = gossip

	n.exchange = pubsub.NewPeerExchange(gossip, 0, eventsLog)
	if err := n.exchange.Start(ctx); err != nil {
		return err
	}

	n.forwarder = events.NewForwarder(n.bus, gossip.PubSub(), n.config.Node.ID, ev.Topic, ev.BufferSize, eventsLog)
	if err := n.forwarder.Start(ctx); err != nil {
		return err
	}

	addrs := gossip.Addrs()
	path := filepath.Join(n.config.DataDir(), peerInfoFile)
	if err := os.WriteFile(path, []byte(strings.Join(addrs, "\n")+"\n"), 0644); err != nil {
		n.logger.ComponentWarn(logging.ComponentNode, "Failed to save peer info", zap.Error(err))
	} else {
		n.logger.ComponentInfo(logging.ComponentNode, "Peer info saved", zap.String("path", path), zap.Strings("addrs", addrs))
	}
	return nil
}

func (n *Node) startGateway() error {
	gw := n.config.Gateway
	deps := gateway.Dependencies{Manager: n.manager, Audit: n.journal}
	if n.gossip != nil {
		deps.Peers = n.gossip.ConnectedPeers
	}

	g, err := gateway.New(gateway.Config{
		ListenAddr:      gw.ListenAddr,
		NodeID:          n.config.Node.ID,
		ReadTimeout:     gw.ReadTimeout,
		WriteTimeout:    gw.WriteTimeout,
		ShutdownTimeout: gw.ShutdownTimeout,
	}, deps, n.logger)
	if err != nil {
		return err
	}
	if err := g.Start(); err != nil {
		return err
	}
	n.gateway = g
	return nil
}

// Manager returns the provider manager; nil before Start.
func (n *Node) Manager() *hyperdrive.Manager { return n.manager }

// GatewayAddr returns the bound gateway address, or empty when disabled.
func (n *Node) GatewayAddr() string {
	if n.gateway == nil {
		return ""
	}
	return n.gateway.Addr()
}

// PeerID returns the gossip peer ID, or empty when events are disabled.
func (n *Node) PeerID() string {
	if n.gossip == nil {
		return ""
	}
	return n.gossip.Host().ID().String()
}

// Stop shuts components down in reverse start order and deactivates every
// provider.
func (n *Node) Stop(ctx context.Context) error {
	n.logger.ComponentInfo(logging.ComponentNode, "Stopping HyperDrive node")

	if n.gateway != nil {
		if err := n.gateway.Shutdown(ctx); err != nil {
			n.logger.ComponentWarn(logging.ComponentNode, "Gateway shutdown failed", zap.Error(err))
		}
		n.gateway = nil
	}
	if n.forwarder != nil {
		n.forwarder.Stop()
		n.forwarder = nil
	}
	if n.exchange != nil {
		n.exchange.Stop()
		n.exchange = nil
	}
	if n.gossip != nil {
		n.gossip.Close()
		n.gossip = nil
	}
	if n.manager != nil {
		n.manager.Close()
		for _, d := range n.manager.Providers() {
			if !d.Active {
				continue
			}
			if err := n.manager.DeactivateProvider(ctx, d.ID); err != nil {
				n.logger.ComponentWarn(logging.ComponentNode, "Provider shutdown failed", zap.String("provider", d.ID), zap.Error(err))
			}
		}
	}
	if n.bus != nil {
		n.bus.Close()
		n.bus = nil
	}
	if n.journal != nil {
		if err := n.journal.Close(); err != nil {
			n.logger.ComponentWarn(logging.ComponentNode, "Audit log close failed", zap.Error(err))
		}
		n.journal = nil
	}

	n.logger.ComponentInfo(logging.ComponentNode, "HyperDrive node stopped")
	return nil
}
