package notify

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupStore records which notification keys were already delivered.
type DedupStore interface {
	// Claim marks key as delivered for ttl. It returns true when the caller
	// is the first to claim the key within the ttl.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// NewDedup picks the best available backend. Redis is preferred because it
// is shared across hosts; Postgres is the fallback; with neither the store
// is process local.
func NewDedup(redisClient *redis.Client, db *sql.DB) DedupStore {
	if redisClient != nil {
		return NewRedisDedup(redisClient, "")
	}
	if db != nil {
		return NewPGDedup(db)
	}
	return NewMemoryDedup()
}

// =============================================================================
// In-memory store
// =============================================================================

const evictEvery = 256

// MemoryDedup is a TTL map guarded by a mutex.
type MemoryDedup struct {
	mu      sync.Mutex
	entries map[string]time.Time
	claims  int
	now     func() time.Time
}

// NewMemoryDedup creates an empty in-memory store.
func NewMemoryDedup() *MemoryDedup {
	return &MemoryDedup{entries: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryDedup) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	return m.TryClaim(key, ttl), nil
}

// TryClaim is Claim without the error the shared stores need.
func (m *MemoryDedup) TryClaim(key string, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.claims++
	if m.claims%evictEvery == 0 {
		m.evictLocked(now)
	}
	if exp, ok := m.entries[key]; ok && now.Before(exp) {
		return false
	}
	m.entries[key] = now.Add(ttl)
	return true
}

// Evict drops expired keys and returns how many were removed.
func (m *MemoryDedup) Evict(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictLocked(now)
}

func (m *MemoryDedup) evictLocked(now time.Time) int {
	n := 0
	for k, exp := range m.entries {
		if !now.Before(exp) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of tracked keys, expired or not.
func (m *MemoryDedup) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
