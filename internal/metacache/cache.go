// Package metacache stores the last full update payload of every device so
// proximity queries can enrich their results.
package metacache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPrefix is prepended to the device ID to form the cache key.
const DefaultPrefix = "device_meta:"

// Cache is a get/set store keyed by device ID.
type Cache interface {
	Set(ctx context.Context, deviceID string, payload []byte) error
	// Get reports found=false, without an error, when nothing is cached.
	Get(ctx context.Context, deviceID string) (payload []byte, found bool, err error)
}

var (
	_ Cache = (*Memory)(nil)
	_ Cache = (*Redis)(nil)
)

// Key returns the cache key for deviceID under prefix.
func Key(prefix, deviceID string) string {
	return prefix + deviceID
}

// Redis keeps payloads as plain string keys.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedis returns a Cache using prefix for keys. A zero ttl keeps entries
// until overwritten.
func NewRedis(client redis.UniversalClient, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

// Set implements Cache.
func (c *Redis) Set(ctx context.Context, deviceID string, payload []byte) error {
	if err := c.client.Set(ctx, Key(c.prefix, deviceID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("set metadata %s: %w", deviceID, err)
	}
	return nil
}

// Get implements Cache.
func (c *Redis) Get(ctx context.Context, deviceID string) ([]byte, bool, error) {
	payload, err := c.client.Get(ctx, Key(c.prefix, deviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get metadata %s: %w", deviceID, err)
	}
	return payload, true, nil
}

// Memory is an in-process Cache.
type Memory struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemory creates an empty cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]byte)}
}

// Set implements Cache.
func (c *Memory) Set(_ context.Context, deviceID string, payload []byte) error {
	stored := append([]byte(nil), payload...)
	c.mu.Lock()
	c.entries[deviceID] = stored
	c.mu.Unlock()
	return nil
}

// Get implements Cache.
func (c *Memory) Get(_ context.Context, deviceID string) ([]byte, bool, error) {
	c.mu.RLock()
	payload, ok := c.entries[deviceID]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), payload...), true, nil
}
