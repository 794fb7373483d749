package pubsub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
)

// PeerTopic carries address announcements between nodes.
const PeerTopic = "peers"

// announcementTTL bounds how old an announcement may be before it is ignored.
const announcementTTL = 5 * time.Minute

// PeerAnnouncement represents a peer announcing its addresses
type PeerAnnouncement struct {
	PeerID    string   `json:"peer_id"`
	Addresses []string `json:"addresses"`
	Timestamp int64    `json:"timestamp"`
}

// PeerExchange lets nodes that share one configured peer find each other:
// every node periodically announces its addresses and dials the ones it
// hears about.
type PeerExchange struct {
	node     *Node
	interval time.Duration
	logger   *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPeerExchange creates a new peer exchange. interval <= 0 means 30s.
func NewPeerExchange(node *Node, interval time.Duration, logger *zap.Logger) *PeerExchange {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PeerExchange{node: node, interval: interval, logger: logger}
}

// Start subscribes to announcements and begins announcing this node.
func (px *PeerExchange) Start(ctx context.Context) error {
	ctx, px.cancel = context.WithCancel(ctx)
	if err := px.node.PubSub().Subscribe(ctx, PeerTopic, px.handleAnnouncement); err != nil {
		px.cancel()
		return err
	}

	px.wg.Add(1)
	go func() {
		defer px.wg.Done()
		px.announce(ctx)
		ticker := time.NewTicker(px.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				px.announce(ctx)
			}
		}
	}()
	return nil
}

// Stop stops announcing and unsubscribes.
func (px *PeerExchange) Stop() error {
	if px.cancel == nil {
		return nil
	}
	px.cancel()
	px.wg.Wait()
	return px.node.PubSub().Unsubscribe(context.Background(), PeerTopic)
}

func (px *PeerExchange) announce(ctx context.Context) {
	data, err := json.Marshal(PeerAnnouncement{
		PeerID:    px.node.Host().ID().String(),
		Addresses: px.node.Addrs(),
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return
	}
	if err := px.node.PubSub().Publish(ctx, PeerTopic, data); err != nil {
		px.logger.Debug("Failed to publish peer announcement", zap.Error(err))
	}
}

func (px *PeerExchange) handleAnnouncement(_ string, data []byte) error {
	var ann PeerAnnouncement
	if err := json.Unmarshal(data, &ann); err != nil {
		return nil
	}
	if time.Now().Unix()-ann.Timestamp > int64(announcementTTL/time.Second) {
		return nil
	}

	id, err := peer.Decode(ann.PeerID)
	if err != nil || id == px.node.Host().ID() {
		return nil
	}

	var addrs []multiaddr.Multiaddr
	for _, s := range ann.Addresses {
		ma, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			continue
		}
		transport, _ := peer.SplitAddr(ma)
		if transport != nil {
			addrs = append(addrs, transport)
		}
	}
	if len(addrs) == 0 {
		return nil
	}

	h := px.node.Host()
	h.Peerstore().AddAddrs(id, addrs, 24*time.Hour)
	if h.Network().Connectedness(id) == network.Connected {
		return nil
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := h.Connect(ctx, peer.AddrInfo{ID: id, Addrs: addrs}); err != nil {
			px.logger.Debug("Failed to connect to announced peer", zap.String("peer_id", id.String()), zap.Error(err))
			return
		}
		px.logger.Info("Connected to announced peer", zap.String("peer_id", id.String()))
	}()
	return nil
}
