package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/md-rashed-zaman/openhours/services/availability-service/internal/availability"
)

const scanBatch = 500

// Redis shares cached results between service instances. Every backend error
// is logged and reported as a miss.
type Redis struct {
	rdb        *redis.Client
	namespace  string
	defaultTTL time.Duration
	logger     *slog.Logger
}

func NewRedis(rdb *redis.Client, namespace string, defaultTTL time.Duration, logger *slog.Logger) *Redis {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = "availability"
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{rdb: rdb, namespace: namespace + ":", defaultTTL: defaultTTL, logger: logger}
}

func (c *Redis) Get(ctx context.Context, key string) (availability.Result, bool) {
	raw, err := c.rdb.Get(ctx, c.namespace+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("redis cache get failed", "key", key, "err", err)
		}
		return availability.Result{}, false
	}
	var res availability.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		c.logger.Warn("redis cache entry unreadable", "key", key, "err", err)
		return availability.Result{}, false
	}
	return res, true
}

func (c *Redis) Set(ctx context.Context, key string, value availability.Result, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("redis cache encode failed", "key", key, "err", err)
		return
	}
	if err := c.rdb.Set(ctx, c.namespace+key, raw, ttl).Err(); err != nil {
		c.logger.Warn("redis cache set failed", "key", key, "err", err)
	}
}

func (c *Redis) InvalidatePrefix(ctx context.Context, prefix string) {
	pattern := c.namespace + escapeGlob(prefix) + "*"
	iter := c.rdb.Scan(ctx, 0, pattern, scanBatch).Iterator()

	batch := make([]string, 0, scanBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := c.rdb.Del(ctx, batch...).Err(); err != nil {
			c.logger.Warn("redis cache invalidate failed", "prefix", prefix, "err", err)
		}
		batch = batch[:0]
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			flush()
		}
	}
	flush()
	if err := iter.Err(); err != nil {
		c.logger.Warn("redis cache scan failed", "prefix", prefix, "err", err)
	}
}

func (c *Redis) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
