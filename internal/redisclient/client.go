package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// ClaimWebhookEvent is the fast-path dedupe for gateway deliveries: the
// first claim for an event id wins, repeats within the TTL lose. The
// database webhook_events table remains the durable record; this only
// short-circuits the common duplicate before any database work.
func (c *Client) ClaimWebhookEvent(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("webhook:%s", eventID), "1", ttl).Result()
}

// ClaimRouteSlot implements the route-recompute throttle: one slot per order
// per window. Returns false while a previous recompute's window is open.
func (c *Client) ClaimRouteSlot(ctx context.Context, orderID string, window time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("route:throttle:%s", orderID), "1", window).Result()
}

// SetIdempotencyKey caches an order id under a client idempotency key
func (c *Client) SetIdempotencyKey(ctx context.Context, userID, key, orderID string, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s:%s", userID, key), orderID, ttl).Err()
}

// GetIdempotencyKey resolves a cached idempotency key to an order id.
// Returns "" on a miss.
func (c *Client) GetIdempotencyKey(ctx context.Context, userID, key string) (string, error) {
	val, err := c.rdb.Get(ctx, fmt.Sprintf("idempotency:%s:%s", userID, key)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

// AcquireLock acquires a distributed lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}
