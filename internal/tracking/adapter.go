// Package tracking is the event source adapter: it keeps one push
// subscription and one poll timer per topic, merges both into a single
// ordered stream of deliveries, and degrades to polling when push fails.
//
// The adapter never surfaces transport or query failures to subscribers.
// They are logged and counted; the poll path keeps the state converging.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/listing-live/internal/domain"
	"github.com/ignite/listing-live/internal/pkg/logger"
)

// Defaults for Config.
const (
	DefaultPollInterval = 30 * time.Second
	rawBuffer           = 64
)

// ErrAlreadyRunning is returned by Start on a running adapter.
var ErrAlreadyRunning = errors.New("adapter already running")

// Config configures an Adapter.
type Config struct {
	// Push is the push path; nil means poll only.
	Push PushSource
	// Poll is the pull path; nil means push only.
	Poll SnapshotSource
	// PollInterval is the snapshot period. The first poll runs at start.
	PollInterval time.Duration
	// PushRetryInterval re-establishes a failed push path after this delay.
	// Zero leaves the topic poll-only until the next Start.
	PushRetryInterval time.Duration
	// Topics to run. Empty means domain.Topics.
	Topics []domain.Topic
	// Now overrides the clock passed to snapshot queries.
	Now func() time.Time
}

type subscription struct {
	mu     sync.Mutex
	active bool
	fn     func(Delivery)
}

type feed struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type topicStats struct {
	pushEvents      atomic.Int64
	snapshots       atomic.Int64
	malformed       atomic.Int64
	transportErrors atomic.Int64
	queryErrors     atomic.Int64
	degraded        atomic.Bool
}

// Adapter merges the push and poll paths of each topic.
type Adapter struct {
	cfg Config

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	feeds   map[domain.Topic]*feed

	subsMu sync.RWMutex
	subs   map[domain.Topic]map[uint64]*subscription
	nextID uint64

	stats map[domain.Topic]*topicStats
}

// NewAdapter creates an adapter. It does nothing until Start.
func NewAdapter(cfg Config) *Adapter {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if len(cfg.Topics) == 0 {
		cfg.Topics = domain.Topics
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	a := &Adapter{
		cfg:   cfg,
		feeds: make(map[domain.Topic]*feed),
		subs:  make(map[domain.Topic]map[uint64]*subscription),
		stats: make(map[domain.Topic]*topicStats),
	}
	for _, t := range append(append([]domain.Topic(nil), domain.Topics...), cfg.Topics...) {
		if a.stats[t] == nil {
			a.stats[t] = &topicStats{}
		}
	}
	return a
}

// Subscribe registers onEvent for topic and returns a function that stops
// delivery. Deliveries for one topic are serialized on that topic's merge
// loop. After unsubscribe returns, onEvent is not called again; calling
// unsubscribe from inside onEvent itself is not supported.
func (a *Adapter) Subscribe(topic domain.Topic, onEvent func(Delivery)) (unsubscribe func()) {
	sub := &subscription{active: true, fn: onEvent}

	a.subsMu.Lock()
	a.nextID++
	id := a.nextID
	if a.subs[topic] == nil {
		a.subs[topic] = make(map[uint64]*subscription)
	}
	a.subs[topic][id] = sub
	a.subsMu.Unlock()

	return func() {
		a.subsMu.Lock()
		delete(a.subs[topic], id)
		a.subsMu.Unlock()

		sub.mu.Lock()
		sub.active = false
		sub.mu.Unlock()
	}
}

// Start launches a feed for every configured topic.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return ErrAlreadyRunning
	}
	a.running = true
	a.ctx, a.cancel = context.WithCancel(ctx)

	for _, topic := range a.cfg.Topics {
		a.startFeedLocked(topic)
	}
	logger.Info("[Adapter] started",
		"topics", fmt.Sprint(a.cfg.Topics),
		"poll_interval", a.cfg.PollInterval.String(),
		"push", a.pushName())
	return nil
}

// Restart tears down the topic's current feed, if any, and starts a new one.
func (a *Adapter) Restart(topic domain.Topic) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return errors.New("adapter not running")
	}
	a.stopFeedLocked(topic)
	a.startFeedLocked(topic)
	return nil
}

// Stop cancels every feed and waits for the merge loops to exit. No
// callback runs after Stop returns.
func (a *Adapter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return
	}
	a.running = false
	for topic := range a.feeds {
		a.stopFeedLocked(topic)
	}
	a.cancel()
	logger.Info("[Adapter] stopped")
}

// IsRunning reports whether Start has been called without a matching Stop.
func (a *Adapter) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Degraded reports whether the topic's push path has failed.
func (a *Adapter) Degraded(topic domain.Topic) bool {
	st, ok := a.stats[topic]
	return ok && st.degraded.Load()
}

// Stats returns per-topic counters keyed "<topic>.<counter>".
func (a *Adapter) Stats() map[string]int64 {
	out := make(map[string]int64)
	for topic, st := range a.stats {
		p := string(topic) + "."
		out[p+"push_events"] = st.pushEvents.Load()
		out[p+"snapshots"] = st.snapshots.Load()
		out[p+"malformed"] = st.malformed.Load()
		out[p+"transport_errors"] = st.transportErrors.Load()
		out[p+"query_errors"] = st.queryErrors.Load()
		if st.degraded.Load() {
			out[p+"degraded"] = 1
		} else {
			out[p+"degraded"] = 0
		}
	}
	return out
}

func (a *Adapter) pushName() string {
	if a.cfg.Push == nil {
		return "none"
	}
	return a.cfg.Push.Name()
}

func (a *Adapter) startFeedLocked(topic domain.Topic) {
	ctx, cancel := context.WithCancel(a.ctx)
	f := &feed{cancel: cancel, done: make(chan struct{})}
	a.feeds[topic] = f
	a.stats[topic].degraded.Store(false)
	go a.run(ctx, topic, f)
}

func (a *Adapter) stopFeedLocked(topic domain.Topic) {
	f, ok := a.feeds[topic]
	if !ok {
		return
	}
	f.cancel()
	<-f.done
	delete(a.feeds, topic)
}

// run is the merge loop for one topic. It is the only goroutine that calls
// the topic's subscribers.
func (a *Adapter) run(ctx context.Context, topic domain.Topic, f *feed) {
	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		close(f.done)
	}()

	st := a.stats[topic]
	raw := make(chan []byte, rawBuffer)
	pushErr := make(chan error, 1)
	snaps := make(chan *Snapshot, 1)

	startPush := func() {
		if a.cfg.Push == nil {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			pushErr <- a.cfg.Push.Listen(ctx, topic, raw)
		}()
	}
	startPush()

	if a.cfg.Poll != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.pollLoop(ctx, topic, snaps)
		}()
	}

	var retry <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return

		case payload := <-raw:
			a.handlePayload(topic, payload)

		case snap := <-snaps:
			st.snapshots.Add(1)
			a.dispatch(topic, Delivery{Topic: topic, Origin: OriginPoll, Snapshot: sanitize(snap)})

		case err := <-pushErr:
			if ctx.Err() != nil {
				continue
			}
			if errors.Is(err, ErrUnsupportedTopic) {
				logger.Info("[Adapter] no push path for topic, polling only", "topic", topic, "push", a.pushName())
				continue
			}
			if err == nil {
				err = errors.New("push stream ended")
			}
			terr := &domain.TransportError{Source: a.pushName(), Topic: topic, Err: err}
			st.transportErrors.Add(1)
			st.degraded.Store(true)
			logger.Error("[Adapter] push subscription dropped, continuing on poll", "topic", topic, "error", terr)
			if a.cfg.PushRetryInterval > 0 {
				retry = time.After(a.cfg.PushRetryInterval)
			}

		case <-retry:
			retry = nil
			st.degraded.Store(false)
			logger.Info("[Adapter] retrying push subscription", "topic", topic)
			startPush()
		}
	}
}

func (a *Adapter) pollLoop(ctx context.Context, topic domain.Topic, out chan<- *Snapshot) {
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		a.pollOnce(ctx, topic, out)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *Adapter) pollOnce(ctx context.Context, topic domain.Topic, out chan<- *Snapshot) {
	now := a.cfg.Now()
	snap, err := a.cfg.Poll.Snapshot(ctx, topic, now)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		a.stats[topic].queryErrors.Add(1)
		logger.Warn("[Adapter] snapshot failed, keeping previous state", "topic", topic,
			"error", &domain.QueryError{Topic: topic, Err: err})
		return
	}
	if snap == nil {
		return
	}
	snap.Topic = topic
	if snap.TakenAt.IsZero() {
		snap.TakenAt = now
	}
	select {
	case out <- snap:
	case <-ctx.Done():
	}
}

func (a *Adapter) handlePayload(topic domain.Topic, payload []byte) {
	st := a.stats[topic]
	ev, err := domain.DecodeChange(topic, payload)
	if err != nil {
		st.malformed.Add(1)
		logger.Warn("[Adapter] dropping malformed event", "topic", topic, "error", err)
		return
	}
	if ev == nil {
		return
	}
	st.pushEvents.Add(1)
	a.dispatch(topic, Delivery{Topic: topic, Origin: OriginPush, Event: ev})
}

func (a *Adapter) dispatch(topic domain.Topic, d Delivery) {
	a.subsMu.RLock()
	ids := make([]uint64, 0, len(a.subs[topic]))
	for id := range a.subs[topic] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	subs := make([]*subscription, 0, len(ids))
	for _, id := range ids {
		subs = append(subs, a.subs[topic][id])
	}
	a.subsMu.RUnlock()

	for _, s := range subs {
		s.mu.Lock()
		if s.active {
			s.fn(d)
		}
		s.mu.Unlock()
	}
}

// sanitize drops rows that would fail validation as push events.
func sanitize(s *Snapshot) *Snapshot {
	out := &Snapshot{Topic: s.Topic, TakenAt: s.TakenAt}
	for _, v := range s.Visits {
		if (domain.VisitCreated{Visit: v}).Validate() == nil {
			out.Visits = append(out.Visits, v)
		}
	}
	for _, l := range s.Listings {
		if (domain.ListingCreated{Listing: l}).Validate() == nil {
			out.Listings = append(out.Listings, l)
		}
	}
	for _, m := range s.Messages {
		if (domain.MessageCreated{Message: m}).Validate() == nil {
			out.Messages = append(out.Messages, m)
		}
	}
	return out
}
