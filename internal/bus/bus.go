// Package bus publishes and consumes domain events over Redis Streams.
// Streams give the pipeline durable, ordered delivery; consumer groups
// give each downstream service its own cursor and at-least-once semantics.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"uniplex.org/internal/ids"
	"uniplex.org/internal/obs"
)

const (
	connectAttempts = 15
	connectDelay    = 2 * time.Second
)

// Bus is a publishing handle over a single Redis connection pool.
type Bus struct {
	client *redis.Client
}

// Connect dials Redis and waits for it to answer pings. Brokers commonly
// come up after the services that depend on them, so the probe is retried
// a bounded number of times before giving up.
func Connect(ctx context.Context, addr string) (*Bus, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		if lastErr = client.Ping(ctx).Err(); lastErr == nil {
			return &Bus{client: client}, nil
		}
		obs.Log(map[string]any{
			"level":   "warn",
			"msg":     "redis not ready, retrying",
			"attempt": attempt,
			"error":   lastErr.Error(),
		})
		select {
		case <-ctx.Done():
			_ = client.Close()
			return nil, ctx.Err()
		case <-time.After(connectDelay):
		}
	}
	_ = client.Close()
	return nil, fmt.Errorf("bus: redis unreachable at %s: %w", addr, lastErr)
}

// New wraps an existing client (used by tests).
func New(client *redis.Client) *Bus { return &Bus{client: client} }

func (b *Bus) Close() error { return b.client.Close() }

// Ping reports broker health for readiness probes.
func (b *Bus) Ping(ctx context.Context) error { return b.client.Ping(ctx).Err() }

// Client exposes the underlying connection for consumers.
func (b *Bus) Client() *redis.Client { return b.client }

// Publish appends one event to stream with a routing key and a JSON payload.
// The generated entry id is returned so callers can correlate logs.
func (b *Bus) Publish(ctx context.Context, stream, key string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("bus: encode payload: %w", err)
	}
	entry, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{
			"id":      ids.New(),
			"key":     key,
			"payload": string(body),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("bus: xadd %s: %w", stream, err)
	}
	obs.EventsPublished.WithLabelValues(stream, key).Inc()
	return entry, nil
}
