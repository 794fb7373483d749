package pubsub

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestNode(t *testing.T, ns string, peers ...string) *Node {
	t.Helper()
	n, err := NewNode(NodeConfig{
		ListenAddresses:   []string{"/ip4/127.0.0.1/tcp/0"},
		Peers:             peers,
		Namespace:         ns,
		ReconnectInterval: 100 * time.Millisecond,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create node: %v", err)
	}
	t.Cleanup(func() { n.Close() })
	return n
}

func TestManager_Namespacing(t *testing.T) {
	n := newTestNode(t, "test-ns")
	mgr := n.PubSub()

	if err := mgr.Subscribe(context.Background(), "my-topic", func(string, []byte) error { return nil }); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	mgr.mu.RLock()
	_, exists := mgr.subscriptions["test-ns.my-topic"]
	mgr.mu.RUnlock()
	if !exists {
		t.Error("expected subscription for test-ns.my-topic to exist")
	}

	topics := mgr.ListTopics()
	if len(topics) != 1 || topics[0] != "my-topic" {
		t.Errorf("expected [my-topic], got %v", topics)
	}
}

func TestManager_HandlerCount(t *testing.T) {
	n := newTestNode(t, "test-ns")
	mgr := n.PubSub()
	ctx := context.Background()
	noop := func(string, []byte) error { return nil }

	if err := mgr.Subscribe(ctx, "ref-topic", noop); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Subscribe(ctx, "ref-topic", noop); err != nil {
		t.Fatal(err)
	}

	mgr.mu.RLock()
	ts := mgr.subscriptions["test-ns.ref-topic"]
	mgr.mu.RUnlock()
	if len(ts.handlers) != 2 {
		t.Errorf("expected 2 handlers, got %d", len(ts.handlers))
	}

	mgr.Unsubscribe(ctx, "ref-topic")
	mgr.mu.RLock()
	_, exists := mgr.subscriptions["test-ns.ref-topic"]
	mgr.mu.RUnlock()
	if !exists {
		t.Error("expected subscription to survive the first unsubscribe")
	}

	mgr.Unsubscribe(ctx, "ref-topic")
	mgr.mu.RLock()
	_, exists = mgr.subscriptions["test-ns.ref-topic"]
	mgr.mu.RUnlock()
	if exists {
		t.Error("expected subscription to be removed")
	}
}

func TestNode_RejectsBadAddresses(t *testing.T) {
	if _, err := NewNode(NodeConfig{ListenAddresses: []string{"not-a-multiaddr"}}, nil); err == nil {
		t.Error("expected invalid listen address to fail")
	}
	if _, err := NewNode(NodeConfig{Peers: []string{"/ip4/127.0.0.1/tcp/4001"}}, nil); err == nil {
		t.Error("expected peer without /p2p to fail")
	}
}

func TestManager_GossipBetweenNodes(t *testing.T) {
	ctx := context.Background()
	n1 := newTestNode(t, "test")
	n2 := newTestNode(t, "test", n1.Addrs()[0])

	received := make(chan []byte, 16)
	if err := n1.PubSub().Subscribe(ctx, "health", func(_ string, d []byte) error {
		received <- d
		return nil
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	ownEcho := make(chan []byte, 16)
	if err := n2.PubSub().Subscribe(ctx, "health", func(_ string, d []byte) error {
		ownEcho <- d
		return nil
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	// The mesh forms asynchronously; keep publishing until a copy lands.
	timeout := time.After(10 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

Loop:
	for {
		select {
		case <-timeout:
			t.Fatal("timed out waiting for message")
		case <-ticker.C:
			_ = n2.PubSub().Publish(ctx, "health", []byte("hello"))
		case data := <-received:
			if string(data) != "hello" {
				t.Errorf("expected hello, got %s", data)
			}
			break Loop
		}
	}

	select {
	case d := <-ownEcho:
		t.Errorf("publisher received its own message %q", d)
	default:
	}
}
