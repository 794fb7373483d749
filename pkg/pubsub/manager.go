// Package pubsub is a thin namespaced layer over libp2p gossipsub used to
// exchange health events between HyperDrive nodes.
package pubsub

import (
	"sync"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"
)

// MessageHandler receives the payload of a message published by another
// peer. Returned errors are logged and do not stop other handlers.
type MessageHandler = func(topic string, data []byte) error

// Manager handles pub/sub operations
type Manager struct {
	pubsub        *pubsub.PubSub
	self          peer.ID
	topics        map[string]*pubsub.Topic
	subscriptions map[string]*topicSubscription
	namespace     string
	logger        *zap.Logger
	mu            sync.RWMutex
}

// topicSubscription holds one libp2p subscription shared by every handler
// registered on the topic.
type topicSubscription struct {
	sub      *pubsub.Subscription
	cancel   func()
	handlers map[uint64]MessageHandler
	next     uint64
	mu       sync.RWMutex
}

// NewManager creates a new pubsub manager. Messages originating from self
// are not delivered to local handlers.
func NewManager(ps *pubsub.PubSub, self peer.ID, namespace string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		pubsub:        ps,
		self:          self,
		topics:        make(map[string]*pubsub.Topic),
		subscriptions: make(map[string]*topicSubscription),
		namespace:     namespace,
		logger:        logger,
	}
}

func (m *Manager) namespaced(topic string) string {
	return m.namespace + "." + topic
}
