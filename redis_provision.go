package cqlstore

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisProvisionRegistry shares the provisioned-collection set between
// instances through Redis. One set per namespace:
//
//	<prefix>:provisioned:<namespace> = {collection, ...}
type RedisProvisionRegistry struct {
	redis     *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisProvisionRegistry creates a registry. A positive ttl makes the
// set expire after the last write, which bounds how long a table dropped
// out-of-band stays remembered.
func NewRedisProvisionRegistry(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisProvisionRegistry {
	return &RedisProvisionRegistry{
		redis:     client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}
}

func (r *RedisProvisionRegistry) key(namespace string) string {
	return fmt.Sprintf("%s:provisioned:%s", r.keyPrefix, namespace)
}

func (r *RedisProvisionRegistry) IsProvisioned(ctx context.Context, namespace, collection string) (bool, error) {
	ok, err := r.redis.SIsMember(ctx, r.key(namespace), collection).Result()
	if err != nil {
		return false, fmt.Errorf("redis provision lookup: %w", err)
	}
	return ok, nil
}

func (r *RedisProvisionRegistry) MarkProvisioned(ctx context.Context, namespace, collection string) error {
	key := r.key(namespace)
	pipe := r.redis.TxPipeline()
	pipe.SAdd(ctx, key, collection)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis provision update: %w", err)
	}
	return nil
}

// Collections lists the collections recorded for namespace
func (r *RedisProvisionRegistry) Collections(ctx context.Context, namespace string) ([]string, error) {
	return r.redis.SMembers(ctx, r.key(namespace)).Result()
}

// RedisOptions returns redis.Options populated from standard environment variables.
//
// Environment variables read (with defaults):
//   - REDIS_ADDR (default: "localhost:6379")
//   - REDIS_PASSWORD (default: "")
//   - REDIS_DB (default: 0)
func RedisOptions() *redis.Options {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	return &redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       getEnvAsInt("REDIS_DB", 0),
	}
}

// getEnvAsInt reads an integer environment variable with a default fallback.
func getEnvAsInt(key string, defaultVal int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultVal
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultVal
	}

	return value
}
