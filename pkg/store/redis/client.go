// Package redis adapts a Redis connection into the daemon's diagnostic
// snapshot store: a periodic JSON dump of per-client dmClock tag state,
// persisted outside the in-memory dispatcher so an operator can inspect
// fairness behavior without pausing it (SPEC_FULL §11).
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aresqos/qosd/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// Client wraps a redis.Client with the logging-wrapper shape the daemon's
// other storage adapters share.
type Client struct {
	cli *redis.Client
	log *logger.Logger
}

// New dials addr and verifies the connection before returning.
func New(addr, password string, db int) (*Client, error) {
	cli := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cli.Ping(ctx).Err(); err != nil {
		logger.Get().Error("failed to connect to redis at %s: %v", addr, err)
		return nil, fmt.Errorf("redis: connect %s: %w", addr, err)
	}

	logger.Get().Info("connected to redis at %s", addr)
	return &Client{cli: cli, log: logger.Get()}, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.cli.Close()
}

// snapshotKey is the hash holding one client's serialized tag state.
func snapshotKey(client string) string {
	return "qosd:snapshot:" + client
}

// PutSnapshot serializes snap as JSON and stores it in client's snapshot
// hash under field, expiring after ttl.
func (c *Client) PutSnapshot(ctx context.Context, client, field string, snap interface{}, ttl time.Duration) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot for %s: %w", client, err)
	}

	key := snapshotKey(client)
	if err := c.cli.HSet(ctx, key, field, data).Err(); err != nil {
		c.log.Error("failed to store snapshot %s:%s: %v", key, field, err)
		return fmt.Errorf("redis: hset %s: %w", key, err)
	}
	if ttl > 0 {
		if err := c.cli.Expire(ctx, key, ttl).Err(); err != nil {
			c.log.Error("failed to set expiry on %s: %v", key, err)
			return fmt.Errorf("redis: expire %s: %w", key, err)
		}
	}
	c.log.Debug("stored snapshot %s:%s (ttl %v)", key, field, ttl)
	return nil
}

// GetSnapshot retrieves and unmarshals the field previously stored by
// PutSnapshot into out.
func (c *Client) GetSnapshot(ctx context.Context, client, field string, out interface{}) (bool, error) {
	val, err := c.cli.HGet(ctx, snapshotKey(client), field).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.log.Error("failed to fetch snapshot %s:%s: %v", client, field, err)
		return false, fmt.Errorf("redis: hget %s:%s: %w", client, field, err)
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false, fmt.Errorf("redis: unmarshal snapshot %s:%s: %w", client, field, err)
	}
	return true, nil
}

// ListSnapshotClients returns every client id with a live snapshot hash.
func (c *Client) ListSnapshotClients(ctx context.Context) ([]string, error) {
	keys, err := c.cli.Keys(ctx, snapshotKey("*")).Result()
	if err != nil {
		c.log.Error("failed to list snapshot keys: %v", err)
		return nil, fmt.Errorf("redis: keys: %w", err)
	}
	prefix := len(snapshotKey(""))
	clients := make([]string, 0, len(keys))
	for _, k := range keys {
		clients = append(clients, k[prefix:])
	}
	return clients, nil
}

// DeleteSnapshot drops a client's entire snapshot hash, e.g. once it has
// been purged from the dmClock tier.
func (c *Client) DeleteSnapshot(ctx context.Context, client string) error {
	if err := c.cli.Del(ctx, snapshotKey(client)).Err(); err != nil {
		c.log.Error("failed to delete snapshot for %s: %v", client, err)
		return fmt.Errorf("redis: del %s: %w", client, err)
	}
	return nil
}
