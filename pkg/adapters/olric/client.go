package olric

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"regexp"
	"time"

	"github.com/DeBrosOfficial/hyperdrive/pkg/errors"
	olriclib "github.com/olric-data/olric"
	"go.uber.org/zap"
)

// entry is the envelope stored under every key. Olric does not report
// modification times, so the adapter keeps its own.
type entry struct {
	Data      []byte    `json:"data"`
	UpdatedAt time.Time `json:"updated_at"`
}

// store is the subset of a DMap the adapter needs.
type store interface {
	put(ctx context.Context, key string, e entry) error
	get(ctx context.Context, key string) (entry, error)
	remove(ctx context.Context, key string) (bool, error)
	keys(ctx context.Context, prefix string) ([]string, error)
}

// Client wraps an Olric cluster client bound to one DMap.
type Client struct {
	client  olriclib.Client
	dm      olriclib.DMap
	applied olriclib.DMap
	logger  *zap.Logger
}

// NewClient dials the cluster and opens dmap plus its idempotency-key map.
func NewClient(servers []string, dmap string, logger *zap.Logger) (*Client, error) {
	if len(servers) == 0 {
		servers = []string{"localhost:3320"}
	}

	client, err := olriclib.NewClusterClient(servers)
	if err != nil {
		return nil, fmt.Errorf("failed to create Olric cluster client: %w", err)
	}

	dm, err := client.NewDMap(dmap)
	if err != nil {
		client.Close(context.Background())
		return nil, fmt.Errorf("failed to create DMap %s: %w", dmap, err)
	}
	applied, err := client.NewDMap(dmap + ".applied")
	if err != nil {
		client.Close(context.Background())
		return nil, fmt.Errorf("failed to create DMap %s.applied: %w", dmap, err)
	}

	return &Client{client: client, dm: dm, applied: applied, logger: logger}, nil
}

// Health runs a put/get round trip against a scratch DMap.
func (c *Client) Health(ctx context.Context) error {
	dm, err := c.client.NewDMap("_health_check")
	if err != nil {
		return fmt.Errorf("failed to create DMap for health check: %w", err)
	}

	testKey := fmt.Sprintf("_health_%d", time.Now().UnixNano())
	testValue := "ok"

	if err := dm.Put(ctx, testKey, testValue); err != nil {
		return fmt.Errorf("health check put failed: %w", err)
	}

	gr, err := dm.Get(ctx, testKey)
	if err != nil {
		return fmt.Errorf("health check get failed: %w", err)
	}

	val, err := gr.String()
	if err != nil {
		return fmt.Errorf("health check value decode failed: %w", err)
	}
	if val != testValue {
		return fmt.Errorf("health check value mismatch: expected %q, got %q", testValue, val)
	}

	_, _ = dm.Delete(ctx, testKey)
	return nil
}

// Close closes the Olric client connection
func (c *Client) Close(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	return c.client.Close(ctx)
}

func (c *Client) put(ctx context.Context, key string, e entry) error {
	doc, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.dm.Put(ctx, key, string(doc))
}

func (c *Client) get(ctx context.Context, key string) (entry, error) {
	gr, err := c.dm.Get(ctx, key)
	if err != nil {
		if stderrors.Is(err, olriclib.ErrKeyNotFound) {
			return entry{}, errors.NewNotFoundError("entity", key)
		}
		return entry{}, err
	}
	doc, err := gr.String()
	if err != nil {
		return entry{}, err
	}
	var e entry
	if err := json.Unmarshal([]byte(doc), &e); err != nil {
		return entry{}, errors.NewInternalError("corrupt olric entry", err)
	}
	return e, nil
}

func (c *Client) remove(ctx context.Context, key string) (bool, error) {
	n, err := c.dm.Delete(ctx, key)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *Client) keys(ctx context.Context, prefix string) ([]string, error) {
	it, err := c.dm.Scan(ctx, olriclib.Match("^"+regexp.QuoteMeta(prefix)))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []string
	for it.Next() {
		out = append(out, it.Key())
	}
	return out, nil
}

// markApplied records an idempotency key. It reports false when the key
// was already present.
func (c *Client) markApplied(ctx context.Context, key string) (bool, error) {
	err := c.applied.Put(ctx, key, "1", olriclib.NX())
	if stderrors.Is(err, olriclib.ErrKeyFound) {
		return false, nil
	}
	return err == nil, err
}

func (c *Client) seen(ctx context.Context, key string) (bool, error) {
	_, err := c.applied.Get(ctx, key)
	if stderrors.Is(err, olriclib.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}
