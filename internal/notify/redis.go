package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"example.com/roster/internal/events"
)

// RedisNotifier publishes roster changes on a Redis pub/sub channel.
type RedisNotifier struct {
	rdb     *goredis.Client
	channel string
}

// NewRedisNotifier connects to addr and verifies the connection.
func NewRedisNotifier(ctx context.Context, addr, channel string) (*RedisNotifier, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if channel == "" {
		channel = "roster"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisNotifier{rdb: rdb, channel: channel}, nil
}

// Notify publishes the change as JSON.
func (n *RedisNotifier) Notify(ctx context.Context, change events.RosterChanged) error {
	raw, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return n.rdb.Publish(ctx, n.channel, raw).Err()
}

// Close releases the underlying client.
func (n *RedisNotifier) Close() error {
	return n.rdb.Close()
}
