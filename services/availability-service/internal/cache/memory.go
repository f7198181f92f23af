package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/md-rashed-zaman/openhours/services/availability-service/internal/availability"
)

type memoryEntry struct {
	value     availability.Result
	expiresAt time.Time
}

// Memory is a process-local LRU bounded by entry count. Expiry is per entry
// and checked on read.
type Memory struct {
	entries    *lru.Cache[string, memoryEntry]
	defaultTTL time.Duration
	now        func() time.Time

	// mu orders writes against expiry removal so a Set racing a stale read
	// is never dropped.
	mu sync.Mutex
	// expired runs between seeing a stale entry and removing it.
	expired func(key string)
}

type MemoryOption func(*Memory)

// WithClock replaces the wall clock used for expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

func WithDefaultTTL(ttl time.Duration) MemoryOption {
	return func(m *Memory) {
		if ttl > 0 {
			m.defaultTTL = ttl
		}
	}
}

func NewMemory(capacity int, opts ...MemoryOption) (*Memory, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	entries, err := lru.New[string, memoryEntry](capacity)
	if err != nil {
		return nil, err
	}
	m := &Memory{entries: entries, defaultTTL: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Memory) Get(_ context.Context, key string) (availability.Result, bool) {
	e, ok := m.entries.Get(key)
	if !ok {
		return availability.Result{}, false
	}
	if !m.now().Before(e.expiresAt) {
		m.removeExpired(key)
		return availability.Result{}, false
	}
	return e.value, true
}

func (m *Memory) Set(_ context.Context, key string, value availability.Result, ttl time.Duration) {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries.Add(key, memoryEntry{value: value, expiresAt: m.now().Add(ttl)})
}

// removeExpired drops key only if the resident entry is still expired.
func (m *Memory) removeExpired(key string) {
	if m.expired != nil {
		m.expired(key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.entries.Peek(key); ok && !m.now().Before(cur.expiresAt) {
		m.entries.Remove(key)
	}
}

func (m *Memory) InvalidatePrefix(_ context.Context, prefix string) {
	for _, key := range m.entries.Keys() {
		if strings.HasPrefix(key, prefix) {
			m.entries.Remove(key)
		}
	}
}

// Len counts resident entries, expired ones included until they are read.
func (m *Memory) Len() int { return m.entries.Len() }
