package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/md-rashed-zaman/openhours/services/availability-service/internal/availability"
)

const (
	DefaultTTL      = 60 * time.Second
	DefaultCapacity = 10000
)

// Cache stores evaluation results by key. Misses, expiry and backend
// failures all look the same to callers: recompute.
type Cache interface {
	Get(ctx context.Context, key string) (availability.Result, bool)
	Set(ctx context.Context, key string, value availability.Result, ttl time.Duration)
	InvalidatePrefix(ctx context.Context, prefix string)
}

// EntityPrefix namespaces every key of one entity, e.g. "store:42:".
func EntityPrefix(kind, id string) string {
	return kind + ":" + id + ":"
}

// Key is "<kind>:<id>:<bucket>" where the bucket is the evaluation instant
// truncated to the minute.
func Key(kind, id string, at time.Time) string {
	return EntityPrefix(kind, id) + strconv.FormatInt(at.UTC().Truncate(time.Minute).Unix(), 10)
}
