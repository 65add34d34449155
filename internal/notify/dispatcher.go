package notify

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/listing-live/internal/domain"
	"github.com/ignite/listing-live/internal/pkg/logger"
)

// DefaultTTL is how long a delivered (listing, subscriber) pair is
// remembered. It must cover at least one poll cycle.
const DefaultTTL = 10 * time.Minute

// Options configures a Dispatcher. Zero values pick defaults.
type Options struct {
	TTL      time.Duration
	Dedup    DedupStore
	Renderer *Renderer
	Now      func() time.Time
}

// Dispatcher fans matches and presence changes out to observers.
type Dispatcher struct {
	ttl      time.Duration
	dedup    DedupStore
	local    *MemoryDedup
	renderer *Renderer
	now      func() time.Time

	mu        sync.RWMutex
	observers map[uint64]*Observer
	nextID    uint64

	countMu   sync.Mutex
	lastCount int
	haveCount bool

	sent           atomic.Int64
	suppressed     atomic.Int64
	dedupErrors    atomic.Int64
	renderErrors   atomic.Int64
	presenceEvents atomic.Int64
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(opts Options) *Dispatcher {
	d := &Dispatcher{
		ttl:       opts.TTL,
		dedup:     opts.Dedup,
		local:     NewMemoryDedup(),
		renderer:  opts.Renderer,
		now:       opts.Now,
		observers: make(map[uint64]*Observer),
	}
	if d.ttl <= 0 {
		d.ttl = DefaultTTL
	}
	if d.dedup == nil {
		d.dedup = d.local
	}
	if d.renderer == nil {
		d.renderer = MustDefaultRenderer()
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// TTL returns the dedup window.
func (d *Dispatcher) TTL() time.Duration { return d.ttl }

// Observe registers o and returns a function that removes it. After cancel
// returns, o receives no further callbacks from new dispatches.
func (d *Dispatcher) Observe(o Observer) (cancel func()) {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	obs := o
	d.observers[id] = &obs
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.observers, id)
			d.mu.Unlock()
		})
	}
}

// ObserverCount returns the number of registered observers.
func (d *Dispatcher) ObserverCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.observers)
}

func (d *Dispatcher) snapshotObservers() []*Observer {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := make([]uint64, 0, len(d.observers))
	for id := range d.observers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]*Observer, 0, len(ids))
	for _, id := range ids {
		out = append(out, d.observers[id])
	}
	return out
}

// OnMatch emits one notification per matched subscriber that has not been
// notified about this listing within the TTL, and returns what it emitted.
func (d *Dispatcher) OnMatch(ctx context.Context, profiles []domain.PreferenceProfile, listing domain.ListingEvent) []Notification {
	if len(profiles) == 0 {
		return nil
	}

	var emitted []Notification
	for _, p := range profiles {
		key := DedupKey(listing.ID, p.UserID)
		if !d.claim(ctx, key) {
			d.suppressed.Add(1)
			continue
		}

		n := Notification{
			DedupKey:     key,
			SubscriberID: p.UserID,
			ListingID:    listing.ID,
			CreatedAt:    d.now().UTC(),
		}
		title, desc, url, err := d.renderer.Render(listing, p.UserID)
		if err != nil {
			d.renderErrors.Add(1)
			logger.Warn("[Dispatcher] template render failed", "listing_id", listing.ID, "error", err)
			title, desc, url = "New listing", listing.Title, "/listings/"+listing.ID
		}
		n.Title, n.Description, n.TargetURL = title, desc, url

		emitted = append(emitted, n)
		d.sent.Add(1)
	}

	if len(emitted) == 0 {
		return nil
	}
	for _, o := range d.snapshotObservers() {
		if o.OnNotification == nil {
			continue
		}
		for _, n := range emitted {
			if o.SubscriberID == "" || o.SubscriberID == n.SubscriberID {
				o.OnNotification(n)
			}
		}
	}
	return emitted
}

func (d *Dispatcher) claim(ctx context.Context, key string) bool {
	ok, err := d.dedup.Claim(ctx, key, d.ttl)
	if err == nil {
		if ok && d.dedup != DedupStore(d.local) {
			// The fallback path consults only the local store.
			d.local.TryClaim(key, d.ttl)
		}
		return ok
	}
	d.dedupErrors.Add(1)
	logger.Warn("[Dispatcher] dedup store unavailable, using local store", "key", key, "error", err)
	return d.local.TryClaim(key, d.ttl)
}

// OnPresenceChange forwards count to observers when it differs from the
// last forwarded value. It reports whether observers were called.
func (d *Dispatcher) OnPresenceChange(count int) bool {
	d.countMu.Lock()
	if d.haveCount && d.lastCount == count {
		d.countMu.Unlock()
		return false
	}
	d.lastCount = count
	d.haveCount = true
	d.countMu.Unlock()

	d.presenceEvents.Add(1)
	for _, o := range d.snapshotObservers() {
		if o.OnPresenceChange != nil {
			o.OnPresenceChange(count)
		}
	}
	return true
}

// LastCount returns the last forwarded presence count.
func (d *Dispatcher) LastCount() (int, bool) {
	d.countMu.Lock()
	defer d.countMu.Unlock()
	return d.lastCount, d.haveCount
}

// OnVisitExpired forwards a synthetic end for a visit that aged out.
func (d *Dispatcher) OnVisitExpired(ev domain.VisitEnded) {
	for _, o := range d.snapshotObservers() {
		if o.OnVisitExpired != nil {
			o.OnVisitExpired(ev)
		}
	}
}

// OnMessage relays a chat message to observers.
func (d *Dispatcher) OnMessage(m domain.MessageEvent) {
	for _, o := range d.snapshotObservers() {
		if o.OnMessage != nil {
			o.OnMessage(m)
		}
	}
}

// Evict drops expired entries from process-local dedup state.
func (d *Dispatcher) Evict(now time.Time) int {
	return d.local.Evict(now)
}

// Stats returns dispatcher counters.
func (d *Dispatcher) Stats() map[string]int64 {
	return map[string]int64{
		"notifications_sent":       d.sent.Load(),
		"notifications_suppressed": d.suppressed.Load(),
		"dedup_errors":             d.dedupErrors.Load(),
		"render_errors":            d.renderErrors.Load(),
		"presence_events":          d.presenceEvents.Load(),
		"observers":                int64(d.ObserverCount()),
	}
}
