// Package distlock elects a single replica to run periodic singleton jobs,
// such as archive uploads and dedup purges, when several hosts share the
// same stores.
package distlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/listing-live/internal/pkg/logger"
)

// KeyPrefix namespaces lock keys in Redis and seeds advisory lock ids.
const KeyPrefix = "livecore:lock:"

// Lock is a non-blocking mutual exclusion lock. A Lock value is held by one
// goroutine at a time.
type Lock interface {
	// TryLock reports whether the lock was taken.
	TryLock(ctx context.Context) (bool, error)
	// Unlock releases the lock if this holder still owns it.
	Unlock(ctx context.Context) error
}

// New picks the best shared backend: Redis, then Postgres advisory locks,
// then a process-local lock when neither is configured.
func New(rdb *redis.Client, db *sql.DB, name string, ttl time.Duration) Lock {
	switch {
	case rdb != nil:
		return NewRedisLock(rdb, name, ttl)
	case db != nil:
		return NewAdvisoryLock(db, name)
	default:
		return &LocalLock{}
	}
}

// RunExclusive runs fn only if l can be taken, and releases it afterwards.
// It reports whether fn ran.
func RunExclusive(ctx context.Context, l Lock, name string, fn func(context.Context) error) (bool, error) {
	ok, err := l.TryLock(ctx)
	if err != nil {
		return false, fmt.Errorf("acquiring %s lock: %w", name, err)
	}
	if !ok {
		logger.Debug("[DistLock] held elsewhere, skipping", "job", name)
		return false, nil
	}
	defer func() {
		// The job context may already be cancelled.
		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := l.Unlock(uctx); err != nil {
			logger.Warn("[DistLock] release failed", "job", name, "error", err)
		}
	}()
	return true, fn(ctx)
}

// LocalLock only excludes goroutines of this process.
type LocalLock struct {
	mu   sync.Mutex
	held bool
}

func (l *LocalLock) TryLock(context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

func (l *LocalLock) Unlock(context.Context) error {
	l.mu.Lock()
	l.held = false
	l.mu.Unlock()
	return nil
}

// AdvisoryLock uses a Postgres session-level advisory lock. The connection
// that took the lock is pinned until Unlock, since the lock belongs to that
// session and a pooled release could land on another connection.
type AdvisoryLock struct {
	db *sql.DB
	id int64

	mu   sync.Mutex
	conn *sql.Conn
}

// NewAdvisoryLock derives a stable lock id from name.
func NewAdvisoryLock(db *sql.DB, name string) *AdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(KeyPrefix + name))
	return &AdvisoryLock{db: db, id: int64(h.Sum64())}
}

// ID returns the advisory lock id.
func (l *AdvisoryLock) ID() int64 { return l.id }

func (l *AdvisoryLock) TryLock(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return false, nil
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.id).Scan(&ok); err != nil {
		conn.Close()
		return false, err
	}
	if !ok {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

func (l *AdvisoryLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.id)
	cerr := l.conn.Close()
	l.conn = nil
	return errors.Join(err, cerr)
}
