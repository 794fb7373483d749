package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/DeBrosOfficial/hyperdrive/pkg/provider"
	"go.uber.org/zap"
)

// DefaultTopic carries health events between nodes.
const DefaultTopic = "health"

// Gossip is the transport a Forwarder publishes to; pkg/pubsub.Manager
// satisfies it.
type Gossip interface {
	Publish(ctx context.Context, topic string, data []byte) error
	Subscribe(ctx context.Context, topic string, handler func(topic string, data []byte) error) error
	Unsubscribe(ctx context.Context, topic string) error
}

// Forwarder mirrors health events between the local bus and other nodes.
// Local events (empty Origin) go out stamped with this node's ID; remote
// events are published on the local bus with their Origin preserved, which
// keeps them from being gossiped again.
type Forwarder struct {
	bus    *Bus[provider.HealthEvent]
	gossip Gossip
	nodeID string
	topic  string
	buffer int
	logger *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewForwarder creates a forwarder. An empty topic means DefaultTopic.
func NewForwarder(bus *Bus[provider.HealthEvent], gossip Gossip, nodeID, topic string, buffer int, logger *zap.Logger) *Forwarder {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Forwarder{
		bus:    bus,
		gossip: gossip,
		nodeID: nodeID,
		topic:  topic,
		buffer: buffer,
		logger: logger,
	}
}

// Start subscribes to both sides. It fails if the gossip subscription does.
func (f *Forwarder) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return nil
	}
	if f.nodeID == "" {
		return fmt.Errorf("forwarder needs a node id")
	}

	if err := f.gossip.Subscribe(ctx, f.topic, f.receive); err != nil {
		return fmt.Errorf("subscribe to %s: %w", f.topic, err)
	}

	ctx, f.cancel = context.WithCancel(ctx)
	local, unsubscribe := f.bus.Subscribe(f.buffer)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-local:
				if !ok {
					return
				}
				if ev.Origin != "" {
					continue
				}
				f.send(ctx, ev)
			}
		}
	}()

	f.started = true
	f.logger.Info("Forwarding health events", zap.String("topic", f.topic), zap.String("node", f.nodeID))
	return nil
}

func (f *Forwarder) send(ctx context.Context, ev provider.HealthEvent) {
	ev.Origin = f.nodeID
	data, err := json.Marshal(ev)
	if err != nil {
		f.logger.Warn("Failed to encode health event", zap.Error(err))
		return
	}
	if err := f.gossip.Publish(ctx, f.topic, data); err != nil {
		f.logger.Debug("Failed to gossip health event", zap.String("provider", ev.Provider), zap.Error(err))
	}
}

func (f *Forwarder) receive(_ string, data []byte) error {
	var ev provider.HealthEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("decode health event: %w", err)
	}
	if ev.Origin == "" || ev.Origin == f.nodeID {
		return nil
	}
	f.bus.Publish(ev)
	return nil
}

// Stop ends forwarding in both directions.
func (f *Forwarder) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return nil
	}
	f.started = false
	f.cancel()
	f.wg.Wait()
	return f.gossip.Unsubscribe(context.Background(), f.topic)
}
