package httpx

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter reports whether one more request under key fits the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// WithRateLimit rejects over-limit clients with 429. Limiter errors let the
// request through.
func WithRateLimit(l Limiter, logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := l.Allow(r.Context(), ClientKey(r))
			if err != nil {
				logger.WarnContext(r.Context(), "rate limiter unavailable", "err", err)
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				WriteError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MemoryLimiter is a per-process fixed window limiter.
type MemoryLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	clients map[string]*windowCount
}

type windowCount struct {
	count   int
	resetAt time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		clients: map[string]*windowCount{},
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c := l.clients[key]
	if c == nil || !now.Before(c.resetAt) {
		if len(l.clients) > 4*l.limit+1024 {
			l.sweep(now)
		}
		l.clients[key] = &windowCount{count: 1, resetAt: now.Add(l.window)}
		return true, nil
	}
	if c.count >= l.limit {
		return false, nil
	}
	c.count++
	return true, nil
}

func (l *MemoryLimiter) sweep(now time.Time) {
	for k, c := range l.clients {
		if !now.Before(c.resetAt) {
			delete(l.clients, k)
		}
	}
}

// RedisLimiter shares one fixed window across replicas.
type RedisLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	prefix string
}

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

func NewRedisLimiter(rdb *redis.Client, limit int, window time.Duration, prefix string) *RedisLimiter {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisLimiter{rdb: rdb, limit: limit, window: window, prefix: prefix}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	n, err := fixedWindowScript.Run(ctx, l.rdb, []string{l.prefix + ":" + key}, l.window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("rate limit incr: %w", err)
	}
	return n <= int64(l.limit), nil
}

// ClientKey is the first X-Forwarded-For hop, else the remote host.
func ClientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// ParseRateLimit reads "N/window" such as "120/1m". Empty or "0" disables.
func ParseRateLimit(s string) (int, time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, 0, nil
	}
	count, window, ok := strings.Cut(s, "/")
	if !ok {
		window = "1m"
	}
	n, err := strconv.Atoi(count)
	if err != nil || n < 0 {
		return 0, 0, fmt.Errorf("rate limit %q: count must be a non-negative integer", s)
	}
	d, err := time.ParseDuration(window)
	if err != nil || d <= 0 {
		return 0, 0, fmt.Errorf("rate limit %q: bad window", s)
	}
	return n, d, nil
}
