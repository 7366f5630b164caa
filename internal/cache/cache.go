// Package cache provides the Redis lookaside caches used by the
// directory and blacklist services. Values are JSON; misses are cheap.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key builders. Everything lives under the mail: prefix so an operator
// can flush the namespace without touching locks or realtime channels.
func RootDomainKey() string                { return "mail:root_domain" }
func PostmasterKey() string                { return "mail:postmaster" }
func UserMailboxesKey(user string) string  { return "mail:user_mailboxes:" + user }
func UserDefaultKey(user string) string    { return "mail:user_default_mailbox:" + user }
func BlacklistGroupKey(group string) string { return "mail:blacklist:" + group }

// Cache wraps a Redis client with JSON marshalling.
type Cache struct {
	rdb *redis.Client
}

// New creates a cache over the given client.
func New(rdb *redis.Client) *Cache { return &Cache{rdb: rdb} }

// Get loads key into dest. Returns false on a miss.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return true, nil
}

// Set stores val under key with the given TTL (0 means no expiry).
func (c *Cache) Set(ctx context.Context, key string, val interface{}, ttl time.Duration) error {
	data, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// IncomingMailChannel is the pub/sub channel notified on every accepted
// incoming mail, so connected clients can pull without polling.
const IncomingMailChannel = "mail:incoming_mail_received"

// Publish fans a JSON event out on a pub/sub channel.
func (c *Cache) Publish(ctx context.Context, channel string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("event encode %s: %w", channel, err)
	}
	if err := c.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("event publish %s: %w", channel, err)
	}
	return nil
}

// Delete removes keys. Used as the invalidation hook on entity updates.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}
