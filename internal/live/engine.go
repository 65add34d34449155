// Package live wires the event source adapter to presence, matching and
// dispatch.
//
// The adapter's callbacks only forward deliveries into the engine's inbox.
// A single goroutine drains the inbox and owns every state transition, so
// the aggregator, matcher and dispatcher never see concurrent writers.
package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/listing-live/internal/domain"
	"github.com/ignite/listing-live/internal/matcher"
	"github.com/ignite/listing-live/internal/notify"
	"github.com/ignite/listing-live/internal/pkg/logger"
	"github.com/ignite/listing-live/internal/presence"
	"github.com/ignite/listing-live/internal/profiles"
	"github.com/ignite/listing-live/internal/tracking"
)

// Defaults for Config.
const (
	DefaultSweepInterval = 15 * time.Second
	DefaultInboxSize     = 256
	DefaultMessageTTL    = 3 * time.Minute
)

// ErrAlreadyStarted is returned by Start on a running engine.
var ErrAlreadyStarted = errors.New("live engine already started")

// Source is the adapter surface the engine needs.
type Source interface {
	Subscribe(topic domain.Topic, onEvent func(tracking.Delivery)) (unsubscribe func())
	Start(ctx context.Context) error
	Stop()
	Stats() map[string]int64
}

// Config configures an Engine.
type Config struct {
	SweepInterval time.Duration
	// SyntheticVisitEnd reports visits that age out of the horizon to
	// observers as VisitEnded with Synthetic set.
	SyntheticVisitEnd bool
	InboxSize         int
	// MessageTTL is how long a delivered message id is remembered so the
	// poll path does not replay it.
	MessageTTL time.Duration
	Now        func() time.Time
}

// Engine is the live event core.
type Engine struct {
	cfg        Config
	source     Source
	aggregator *presence.Aggregator
	matcher    matcher.Matcher
	dispatcher *notify.Dispatcher
	profiles   *profiles.Cache
	seen       *notify.MemoryDedup

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	unsubs  []func()
	done    chan struct{}
	inbox   chan tracking.Delivery

	visitEvents    atomic.Int64
	reconciles     atomic.Int64
	listingsSeen   atomic.Int64
	matches        atomic.Int64
	messages       atomic.Int64
	expiredVisits  atomic.Int64
	droppedInbound atomic.Int64
}

// NewEngine creates an engine. It does nothing until Start.
func NewEngine(cfg Config, source Source, agg *presence.Aggregator, m matcher.Matcher, d *notify.Dispatcher, cache *profiles.Cache) *Engine {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = DefaultInboxSize
	}
	if cfg.MessageTTL <= 0 {
		cfg.MessageTTL = DefaultMessageTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		cfg:        cfg,
		source:     source,
		aggregator: agg,
		matcher:    m,
		dispatcher: d,
		profiles:   cache,
		seen:       notify.NewMemoryDedup(),
	}
}

// Start subscribes to every topic, starts the consumer loop and then the
// source.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	inbox := make(chan tracking.Delivery, e.cfg.InboxSize)
	forward := func(d tracking.Delivery) {
		select {
		case inbox <- d:
		case <-runCtx.Done():
			e.droppedInbound.Add(1)
		}
	}

	unsubs := make([]func(), 0, len(domain.Topics))
	for _, topic := range domain.Topics {
		unsubs = append(unsubs, e.source.Subscribe(topic, forward))
	}

	e.inbox = inbox
	e.cancel = cancel
	e.unsubs = unsubs
	e.done = make(chan struct{})
	go e.run(runCtx, inbox, e.done)

	if err := e.source.Start(runCtx); err != nil {
		cancel()
		for _, u := range unsubs {
			u()
		}
		<-e.done
		return fmt.Errorf("starting event source: %w", err)
	}

	e.running = true
	logger.Info("[LiveEngine] started",
		"horizon", e.aggregator.Horizon().String(),
		"sweep_interval", e.cfg.SweepInterval.String(),
		"missing_field_policy", string(e.matcher.Missing),
		"synthetic_visit_end", e.cfg.SyntheticVisitEnd)
	return nil
}

// Stop tears everything down and waits for it. No observer callback runs
// after Stop returns.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}
	e.running = false

	// Callbacks blocked on a full inbox hold their subscription lock until
	// the run context is cancelled.
	e.cancel()
	for _, u := range e.unsubs {
		u()
	}
	e.unsubs = nil
	e.source.Stop()
	<-e.done
	logger.Info("[LiveEngine] stopped")
}

// IsRunning reports whether the engine is started.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) run(ctx context.Context, inbox <-chan tracking.Delivery, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-inbox:
			e.handle(ctx, d)
		case <-ticker.C:
			e.sweep()
		}
	}
}

func (e *Engine) handle(ctx context.Context, d tracking.Delivery) {
	if d.Snapshot != nil {
		e.handleSnapshot(ctx, d.Snapshot)
		return
	}
	switch ev := d.Event.(type) {
	case domain.VisitCreated, domain.VisitEnded:
		e.visitEvents.Add(1)
		if e.aggregator.Apply(ev) {
			e.publishPresence()
		}
	case domain.ListingCreated:
		e.handleListing(ctx, ev.Listing)
	case domain.MessageCreated:
		e.handleMessage(ev.Message)
	}
}

func (e *Engine) handleSnapshot(ctx context.Context, s *tracking.Snapshot) {
	switch s.Topic {
	case domain.TopicVisits:
		e.reconciles.Add(1)
		e.aggregator.Reconcile(s.Visits)
		e.publishPresence()
	case domain.TopicListings:
		for _, l := range s.Listings {
			e.handleListing(ctx, l)
		}
	case domain.TopicMessages:
		for _, m := range s.Messages {
			e.handleMessage(m)
		}
	}
}

func (e *Engine) handleListing(ctx context.Context, l domain.ListingEvent) {
	e.listingsSeen.Add(1)
	held := e.profiles.Snapshot()
	if len(held) == 0 {
		return
	}
	matched := e.matcher.Match(l, held)
	if len(matched) == 0 {
		return
	}
	e.matches.Add(int64(len(matched)))
	sent := e.dispatcher.OnMatch(ctx, matched, l)
	logger.Debug("[LiveEngine] listing matched",
		"listing_id", l.ID, "matched", len(matched), "sent", len(sent))
}

func (e *Engine) handleMessage(m domain.MessageEvent) {
	if !e.seen.TryClaim("message:"+m.ID, e.cfg.MessageTTL) {
		return
	}
	e.messages.Add(1)
	e.dispatcher.OnMessage(m)
}

func (e *Engine) publishPresence() {
	e.dispatcher.OnPresenceChange(e.aggregator.DistinctSessionCount(e.cfg.Now()))
}

func (e *Engine) sweep() {
	now := e.cfg.Now()
	expired := e.aggregator.Sweep(now)
	if len(expired) > 0 {
		e.expiredVisits.Add(int64(len(expired)))
		if e.cfg.SyntheticVisitEnd {
			for _, v := range expired {
				e.dispatcher.OnVisitExpired(domain.VisitEnded{
					VisitID:   v.ID,
					SessionID: v.SessionID,
					EndedAt:   v.CreatedAt.Add(e.aggregator.Horizon()),
					Synthetic: true,
				})
			}
		}
	}
	e.publishPresence()
	e.dispatcher.Evict(now)
	e.seen.Evict(now)
}

// Presence returns the current presence snapshot.
func (e *Engine) Presence() presence.Snapshot {
	return e.aggregator.Snapshot(e.cfg.Now())
}

// Observe registers an observer on the dispatcher.
func (e *Engine) Observe(o notify.Observer) (cancel func()) {
	return e.dispatcher.Observe(o)
}

// Profiles returns the profile cache viewers acquire through.
func (e *Engine) Profiles() *profiles.Cache {
	return e.profiles
}

// Stats merges engine, source, dispatcher and profile cache counters.
func (e *Engine) Stats() map[string]int64 {
	out := map[string]int64{
		"engine.visit_events":    e.visitEvents.Load(),
		"engine.reconciles":      e.reconciles.Load(),
		"engine.listings_seen":   e.listingsSeen.Load(),
		"engine.matches":         e.matches.Load(),
		"engine.messages":        e.messages.Load(),
		"engine.expired_visits":  e.expiredVisits.Load(),
		"engine.dropped_inbound": e.droppedInbound.Load(),
		"engine.tracked_visits":  int64(e.aggregator.Len()),
	}
	for k, v := range e.source.Stats() {
		out["source."+k] = v
	}
	for k, v := range e.dispatcher.Stats() {
		out["dispatch."+k] = v
	}
	for k, v := range e.profiles.Stats() {
		out["profiles."+k] = v
	}
	return out
}

// Acquire holds userID's profile for matching while a viewer is connected.
func (e *Engine) Acquire(ctx context.Context, userID string) (domain.PreferenceProfile, error) {
	return e.profiles.Acquire(ctx, userID)
}

// Release drops a hold taken by Acquire.
func (e *Engine) Release(userID string) {
	e.profiles.Release(userID)
}
