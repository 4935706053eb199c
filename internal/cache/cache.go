// Package cache is a per-user read-through cache for computed views such as
// expense summaries and sync stats.
//
// Values are stored as JSON under keys of the form expsync:{userID}:...
// so that every key belonging to one user can be dropped at once after a
// write. When Redis is not configured or unreachable, Noop is used and
// every read falls through to storage.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces every key written by this package.
const KeyPrefix = "expsync"

// DefaultTTL is used when NewRedis is given a non-positive TTL.
const DefaultTTL = 5 * time.Minute

// Cache stores JSON-encoded values per user.
type Cache interface {
	// Get decodes the value at key into dest. It reports false on a miss.
	Get(ctx context.Context, key string, dest any) (bool, error)

	// Set stores value at key with the cache's TTL.
	Set(ctx context.Context, key string, value any) error

	// InvalidateUser removes every key belonging to userID.
	InvalidateUser(ctx context.Context, userID string) error

	Close() error
}

// Key builds a user-scoped key. The user id is wrapped in braces so all of a
// user's keys share one Redis Cluster hash slot.
func Key(userID string, parts ...string) string {
	return KeyPrefix + ":{" + userID + "}:" + strings.Join(parts, ":")
}

// globEscaper quotes the characters SCAN MATCH treats as wildcards.
var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// userPattern matches every key of userID and no other user's.
func userPattern(userID string) string {
	return KeyPrefix + ":{" + globEscaper.Replace(userID) + "}:*"
}

// redisCache implements Cache on Redis.
type redisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

// NewRedis connects to Redis at url and verifies the connection.
//
// url may be a full redis:// URL or a bare host:port. If logger is nil, a
// default logger writing to stderr is used.
func NewRedis(url string, ttl time.Duration, logger *log.Logger) (Cache, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[cache] ", log.LstdFlags)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	if !strings.Contains(url, "://") {
		url = "redis://" + url
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisClient(client, ttl, logger), nil
}

// NewRedisClient wraps an existing client without pinging it.
func NewRedisClient(client *redis.Client, ttl time.Duration, logger *log.Logger) Cache {
	if logger == nil {
		logger = log.New(os.Stderr, "[cache] ", log.LstdFlags)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &redisCache{client: client, ttl: ttl, logger: logger}
}

func (c *redisCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cache key %s: %w", key, err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		// A value we cannot decode is as good as a miss.
		c.logger.Printf("WARNING: Dropping undecodable cache key %s: %v", key, err)
		c.client.Del(ctx, key)
		return false, nil
	}
	return true, nil
}

func (c *redisCache) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	if err := c.client.SetEx(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache key %s: %w", key, err)
	}
	return nil
}

func (c *redisCache) InvalidateUser(ctx context.Context, userID string) error {
	iter := c.client.Scan(ctx, 0, userPattern(userID), 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys for %s: %w", userID, err)
	}
	if len(keys) == 0 {
		return nil
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cache for %s: %w", userID, err)
	}
	return nil
}

func (c *redisCache) Close() error {
	return c.client.Close()
}

// noop never stores anything.
type noop struct{}

// Noop returns a Cache that always misses.
func Noop() Cache {
	return noop{}
}

func (noop) Get(context.Context, string, any) (bool, error) { return false, nil }
func (noop) Set(context.Context, string, any) error         { return nil }
func (noop) InvalidateUser(context.Context, string) error   { return nil }
func (noop) Close() error                                   { return nil }

// Remember returns the cached value at key, or calls load and caches its
// result. Cache errors are logged and never fail the read.
func Remember[T any](ctx context.Context, c Cache, logger *log.Logger, key string, load func(ctx context.Context) (T, error)) (T, error) {
	var cached T
	hit, err := c.Get(ctx, key, &cached)
	if err != nil && logger != nil {
		logger.Printf("WARNING: cache read failed: %v", err)
	}
	if hit {
		return cached, nil
	}

	value, err := load(ctx)
	if err != nil {
		return value, err
	}

	if err := c.Set(ctx, key, value); err != nil && logger != nil {
		logger.Printf("WARNING: cache write failed: %v", err)
	}
	return value, nil
}
