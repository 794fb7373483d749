package pubsub

import (
	"context"
	"fmt"
	"strings"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"go.uber.org/zap"
)

// Subscribe registers handler on topic. Several handlers may share a topic;
// each Subscribe must be matched by one Unsubscribe.
func (m *Manager) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	if m.pubsub == nil {
		return fmt.Errorf("pubsub not initialized")
	}
	name := m.namespaced(topic)

	m.mu.Lock()
	defer m.mu.Unlock()

	if ts, exists := m.subscriptions[name]; exists {
		ts.mu.Lock()
		ts.handlers[ts.next] = handler
		ts.next++
		ts.mu.Unlock()
		return nil
	}

	libp2pTopic, err := m.getOrCreateTopic(name)
	if err != nil {
		return err
	}
	sub, err := libp2pTopic.Subscribe()
	if err != nil {
		return fmt.Errorf("failed to subscribe to topic: %w", err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	ts := &topicSubscription{
		sub:      sub,
		cancel:   cancel,
		handlers: map[uint64]MessageHandler{0: handler},
		next:     1,
	}
	m.subscriptions[name] = ts

	go m.deliver(subCtx, topic, ts)
	return nil
}

func (m *Manager) deliver(ctx context.Context, topic string, ts *topicSubscription) {
	defer ts.sub.Cancel()

	for {
		msg, err := ts.sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if msg.ReceivedFrom == m.self {
			continue
		}

		ts.mu.RLock()
		handlers := make([]MessageHandler, 0, len(ts.handlers))
		for _, h := range ts.handlers {
			handlers = append(handlers, h)
		}
		ts.mu.RUnlock()

		for _, h := range handlers {
			if err := h(topic, msg.Data); err != nil {
				m.logger.Debug("Pubsub handler failed", zap.String("topic", topic), zap.Error(err))
			}
		}
	}
}

// Unsubscribe drops one handler registration from topic. The libp2p
// subscription is cancelled with the last one.
func (m *Manager) Unsubscribe(ctx context.Context, topic string) error {
	name := m.namespaced(topic)

	m.mu.Lock()
	defer m.mu.Unlock()

	ts, exists := m.subscriptions[name]
	if !exists {
		return nil
	}

	ts.mu.Lock()
	for id := range ts.handlers {
		delete(ts.handlers, id)
		break
	}
	remaining := len(ts.handlers)
	ts.mu.Unlock()

	if remaining == 0 {
		ts.cancel()
		delete(m.subscriptions, name)
	}
	return nil
}

// ListTopics returns all subscribed topics without the namespace prefix.
func (m *Manager) ListTopics() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := m.namespace + "."
	var topics []string
	for name := range m.subscriptions {
		if t, ok := strings.CutPrefix(name, prefix); ok && t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}

// Close closes all subscriptions and topics
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sub := range m.subscriptions {
		sub.cancel()
	}
	m.subscriptions = make(map[string]*topicSubscription)

	for _, topic := range m.topics {
		topic.Close()
	}
	m.topics = make(map[string]*pubsub.Topic)
	return nil
}
