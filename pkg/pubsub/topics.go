package pubsub

import (
	"fmt"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
)

// getOrCreateTopic joins topicName once. Callers must hold m.mu.
func (m *Manager) getOrCreateTopic(topicName string) (*pubsub.Topic, error) {
	if topic, exists := m.topics[topicName]; exists {
		return topic, nil
	}

	topic, err := m.pubsub.Join(topicName)
	if err != nil {
		return nil, fmt.Errorf("failed to join topic %s: %w", topicName, err)
	}

	m.topics[topicName] = topic
	return topic, nil
}

// TopicPeers lists the peers currently known to be on topic.
func (m *Manager) TopicPeers(topic string) []peer.ID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.topics[m.namespaced(topic)]
	if !ok {
		return nil
	}
	return t.ListPeers()
}
