package profiles

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/listing-live/internal/domain"
	"github.com/ignite/listing-live/internal/pkg/logger"
)

// DefaultRefreshInterval is used by StartRefresh when interval <= 0.
const DefaultRefreshInterval = time.Minute

type entry struct {
	profile domain.PreferenceProfile
	refs    int
}

// Cache holds the profiles of subscribers with at least one active viewer.
type Cache struct {
	loader Loader

	mu      sync.RWMutex
	entries map[string]*entry

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	loads     atomic.Int64
	refreshes atomic.Int64
	failures  atomic.Int64
}

// NewCache creates a cache backed by loader.
func NewCache(loader Loader) *Cache {
	return &Cache{loader: loader, entries: make(map[string]*entry)}
}

// Acquire loads userID's profile (or bumps its reference count when already
// held) and returns a copy. A subscriber with no stored profile is held as a
// disabled profile so it never matches.
func (c *Cache) Acquire(ctx context.Context, userID string) (domain.PreferenceProfile, error) {
	c.mu.Lock()
	if e, ok := c.entries[userID]; ok {
		e.refs++
		p := e.profile.Clone()
		c.mu.Unlock()
		return p, nil
	}
	c.mu.Unlock()

	p, err := c.load(ctx, userID)
	if err != nil {
		return domain.PreferenceProfile{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[userID]; ok {
		// Another Acquire won the race; keep its copy.
		e.refs++
		return e.profile.Clone(), nil
	}
	c.entries[userID] = &entry{profile: p, refs: 1}
	return p.Clone(), nil
}

func (c *Cache) load(ctx context.Context, userID string) (domain.PreferenceProfile, error) {
	c.loads.Add(1)
	p, err := c.loader.Load(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return domain.PreferenceProfile{UserID: userID}, nil
	}
	if err != nil {
		c.failures.Add(1)
		return domain.PreferenceProfile{}, err
	}
	p.UserID = userID
	return p, nil
}

// Release drops one reference. The profile is evicted at zero.
func (c *Cache) Release(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[userID]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(c.entries, userID)
	}
}

// Refresh reloads every held profile. A profile whose reload fails keeps
// its previous value.
func (c *Cache) Refresh(ctx context.Context) error {
	c.mu.RLock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	var errs []error
	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p, err := c.load(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		c.mu.Lock()
		if e, ok := c.entries[id]; ok {
			e.profile = p
		}
		c.mu.Unlock()
	}
	c.refreshes.Add(1)
	return errors.Join(errs...)
}

// Snapshot returns copies of the held profiles ordered by user id.
func (c *Cache) Snapshot() []domain.PreferenceProfile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.PreferenceProfile, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.profile.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Len returns the number of held profiles.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// StartRefresh reloads held profiles every interval until Stop.
func (c *Cache) StartRefresh(interval time.Duration) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.running = true
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
					logger.Warn("[ProfileCache] refresh incomplete", "error", err)
				}
			}
		}
	}()
	logger.Info("[ProfileCache] refresh started", "interval", interval.String())
}

// Stop ends the refresh loop and waits for it.
func (c *Cache) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	c.wg.Wait()
	logger.Info("[ProfileCache] refresh stopped")
}

// Stats returns cache counters.
func (c *Cache) Stats() map[string]int64 {
	return map[string]int64{
		"held":      int64(c.Len()),
		"loads":     c.loads.Load(),
		"refreshes": c.refreshes.Load(),
		"failures":  c.failures.Load(),
	}
}
