// Package presence derives the live visitor count from the visit stream.
//
// The aggregator keeps one record per visit id. A session is present when at
// least one of its visits is open and was created within the horizon. Poll
// snapshots replace the state wholesale; push events are applied on top and
// are idempotent under replay.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/ignite/listing-live/internal/domain"
)

// DefaultHorizon is how long an open visit counts without a heartbeat.
const DefaultHorizon = 5 * time.Minute

// SessionPresence summarises one present session.
type SessionPresence struct {
	SessionID  string               `json:"session_id"`
	OpenVisits int                  `json:"open_visits"`
	Paths      []string             `json:"paths"`
	DeviceType domain.DeviceType    `json:"device_type"`
	Source     domain.TrafficSource `json:"source"`
	FirstSeen  time.Time            `json:"first_seen"`
	LastSeen   time.Time            `json:"last_seen"`
}

// Snapshot is a read-only copy of the presence window.
type Snapshot struct {
	Count    int                          `json:"count"`
	Sessions []SessionPresence            `json:"sessions"`
	ByDevice map[domain.DeviceType]int    `json:"by_device"`
	BySource map[domain.TrafficSource]int `json:"by_source"`
	AsOf     time.Time                    `json:"as_of"`
}

// Aggregator holds the visit records inside the presence window.
type Aggregator struct {
	mu      sync.RWMutex
	horizon time.Duration
	visits  map[string]domain.VisitRecord
}

// NewAggregator creates an aggregator. A non-positive horizon falls back to
// DefaultHorizon.
func NewAggregator(horizon time.Duration) *Aggregator {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	return &Aggregator{
		horizon: horizon,
		visits:  make(map[string]domain.VisitRecord),
	}
}

// Horizon returns the staleness horizon.
func (a *Aggregator) Horizon() time.Duration { return a.horizon }

// Apply folds a visit event into the window and reports whether the stored
// state changed. Events for other topics are ignored.
func (a *Aggregator) Apply(ev domain.Event) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch e := ev.(type) {
	case domain.VisitCreated:
		return a.applyCreated(e.Visit)
	case domain.VisitEnded:
		return a.applyEnded(e)
	}
	return false
}

func (a *Aggregator) applyCreated(v domain.VisitRecord) bool {
	existing, ok := a.visits[v.ID]
	if !ok {
		a.visits[v.ID] = cloneVisit(v)
		return true
	}
	// An end that arrived first leaves a tombstone; fill in the details but
	// keep it ended.
	merged := cloneVisit(v)
	if existing.EndedAt != nil {
		merged.EndedAt = existing.EndedAt
	}
	if sameVisit(existing, merged) {
		return false
	}
	a.visits[v.ID] = merged
	return true
}

func (a *Aggregator) applyEnded(e domain.VisitEnded) bool {
	ended := e.EndedAt
	existing, ok := a.visits[e.VisitID]
	if !ok {
		a.visits[e.VisitID] = domain.VisitRecord{
			ID:        e.VisitID,
			SessionID: e.SessionID,
			CreatedAt: e.EndedAt,
			EndedAt:   &ended,
		}
		return true
	}
	if existing.EndedAt != nil {
		return false
	}
	existing.EndedAt = &ended
	a.visits[e.VisitID] = existing
	return true
}

// Reconcile replaces the window with the rows of a poll snapshot.
func (a *Aggregator) Reconcile(rows []domain.VisitRecord) {
	next := make(map[string]domain.VisitRecord, len(rows))
	for _, r := range rows {
		if r.ID == "" || r.SessionID == "" {
			continue
		}
		next[r.ID] = cloneVisit(r)
	}

	a.mu.Lock()
	a.visits = next
	a.mu.Unlock()
}

// DistinctSessionCount returns the number of distinct sessions with at least
// one active visit at now.
func (a *Aggregator) DistinctSessionCount(now time.Time) int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, v := range a.visits {
		if v.Active(now, a.horizon) {
			seen[v.SessionID] = struct{}{}
		}
	}
	return len(seen)
}

// Snapshot returns the present sessions at now, sorted by most recent
// activity first.
func (a *Aggregator) Snapshot(now time.Time) Snapshot {
	a.mu.RLock()
	bySession := make(map[string]*SessionPresence)
	for _, v := range a.visits {
		if !v.Active(now, a.horizon) {
			continue
		}
		sp, ok := bySession[v.SessionID]
		if !ok {
			sp = &SessionPresence{SessionID: v.SessionID, FirstSeen: v.CreatedAt}
			bySession[v.SessionID] = sp
		}
		sp.OpenVisits++
		if v.Path != "" {
			sp.Paths = append(sp.Paths, v.Path)
		}
		if v.CreatedAt.Before(sp.FirstSeen) {
			sp.FirstSeen = v.CreatedAt
		}
		if !v.CreatedAt.Before(sp.LastSeen) {
			sp.LastSeen = v.CreatedAt
			sp.DeviceType = v.DeviceType
			sp.Source = v.Source
		}
	}
	a.mu.RUnlock()

	snap := Snapshot{
		Count:    len(bySession),
		Sessions: make([]SessionPresence, 0, len(bySession)),
		ByDevice: make(map[domain.DeviceType]int),
		BySource: make(map[domain.TrafficSource]int),
		AsOf:     now,
	}
	for _, sp := range bySession {
		sort.Strings(sp.Paths)
		snap.Sessions = append(snap.Sessions, *sp)
		snap.ByDevice[sp.DeviceType]++
		snap.BySource[sp.Source]++
	}
	sort.Slice(snap.Sessions, func(i, j int) bool {
		if snap.Sessions[i].LastSeen.Equal(snap.Sessions[j].LastSeen) {
			return snap.Sessions[i].SessionID < snap.Sessions[j].SessionID
		}
		return snap.Sessions[i].LastSeen.After(snap.Sessions[j].LastSeen)
	})
	return snap
}

// Sweep drops records that fell outside the horizon and returns the ones
// that were still open, i.e. visits that expired without an end event.
func (a *Aggregator) Sweep(now time.Time) []domain.VisitRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	var expired []domain.VisitRecord
	for id, v := range a.visits {
		if v.WithinHorizon(now, a.horizon) {
			continue
		}
		if v.IsOpen() {
			expired = append(expired, v)
		}
		delete(a.visits, id)
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ID < expired[j].ID })
	return expired
}

// Len returns the number of stored visit records, including ended ones.
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.visits)
}

func cloneVisit(v domain.VisitRecord) domain.VisitRecord {
	if v.EndedAt != nil {
		t := *v.EndedAt
		v.EndedAt = &t
	}
	return v
}

func sameVisit(a, b domain.VisitRecord) bool {
	if (a.EndedAt == nil) != (b.EndedAt == nil) {
		return false
	}
	if a.EndedAt != nil && !a.EndedAt.Equal(*b.EndedAt) {
		return false
	}
	return a.ID == b.ID && a.SessionID == b.SessionID && a.Path == b.Path &&
		a.DeviceType == b.DeviceType && a.Source == b.Source && a.CreatedAt.Equal(b.CreatedAt)
}
