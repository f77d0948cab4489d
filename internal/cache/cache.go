// Package cache keeps recently computed embeddings in Redis so repeated
// texts skip the inference backend.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "embedder:"

// Cache stores vectors keyed by table and text hash. A nil *Cache is valid
// and never hits.
type Cache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// New connects to Redis at redisURL.
func New(ctx context.Context, redisURL string, ttl time.Duration, logger *zap.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	logger.Info("Redis connected")
	return &Cache{rdb: rdb, ttl: ttl, logger: logger}, nil
}

// Key returns the cache key for text embedded into table.
func Key(table, text string) string {
	sum := sha256.Sum256([]byte(text))
	return keyPrefix + table + ":" + hex.EncodeToString(sum[:])
}

// GetMany returns cached vectors aligned with texts; misses are nil.
func (c *Cache) GetMany(ctx context.Context, table string, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	if c == nil || len(texts) == 0 {
		return out
	}

	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = Key(table, t)
	}
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("embedding cache read failed", zap.String("table", table), zap.Error(err))
		return out
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var vec []float32
		if err := json.Unmarshal([]byte(s), &vec); err != nil {
			continue
		}
		out[i] = vec
	}
	return out
}

// SetMany stores vectors for texts. Failures are logged, not returned.
func (c *Cache) SetMany(ctx context.Context, table string, texts []string, vectors [][]float32) {
	if c == nil || len(texts) == 0 {
		return
	}
	_, err := c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, t := range texts {
			data, err := json.Marshal(vectors[i])
			if err != nil {
				return err
			}
			pipe.Set(ctx, Key(table, t), data, c.ttl)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Warn("embedding cache write failed", zap.String("table", table), zap.Error(err))
	}
}

// Close releases the Redis client.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}
