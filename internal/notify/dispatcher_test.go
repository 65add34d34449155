package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/listing-live/internal/domain"
)

type failingDedup struct{ calls int }

func (f *failingDedup) Claim(context.Context, string, time.Duration) (bool, error) {
	f.calls++
	return false, errors.New("connection refused")
}

func price(v float64) *float64 { return &v }

func testListing() domain.ListingEvent {
	return domain.ListingEvent{ID: "l1", Title: "Bright flat", PropertyType: "apartment", Region: "north", Price: price(1500)}
}

func profiles(ids ...string) []domain.PreferenceProfile {
	out := make([]domain.PreferenceProfile, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.PreferenceProfile{UserID: id, IsEnabled: true})
	}
	return out
}

func TestOnMatch_DedupAcrossPaths(t *testing.T) {
	d := NewDispatcher(Options{})

	var got []Notification
	d.Observe(Observer{OnNotification: func(n Notification) { got = append(got, n) }})

	// Push delivery, then the same listing again from the next poll.
	first := d.OnMatch(context.Background(), profiles("A"), testListing())
	second := d.OnMatch(context.Background(), profiles("A"), testListing())

	require.Len(t, first, 1)
	assert.Empty(t, second)
	require.Len(t, got, 1)
	assert.Equal(t, "listing:l1:A", got[0].DedupKey)
	assert.Equal(t, "New Apartment in North", got[0].Title)
	assert.Equal(t, "Bright flat · $1,500", got[0].Description)
	assert.Equal(t, "/listings/l1", got[0].TargetURL)
	assert.Equal(t, int64(1), d.Stats()["notifications_suppressed"])
}

func TestOnMatch_OnePerSubscriber(t *testing.T) {
	d := NewDispatcher(Options{})

	out := d.OnMatch(context.Background(), profiles("A", "B", "A"), testListing())
	require.Len(t, out, 2)
	assert.Equal(t, "A", out[0].SubscriberID)
	assert.Equal(t, "B", out[1].SubscriberID)
}

func TestOnMatch_TTLExpiry(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	local := NewMemoryDedup()
	local.now = func() time.Time { return now }

	d := NewDispatcher(Options{TTL: time.Minute, Dedup: local})
	require.Len(t, d.OnMatch(context.Background(), profiles("A"), testListing()), 1)

	now = now.Add(30 * time.Second)
	assert.Empty(t, d.OnMatch(context.Background(), profiles("A"), testListing()))

	now = now.Add(31 * time.Second)
	assert.Len(t, d.OnMatch(context.Background(), profiles("A"), testListing()), 1)
}

func TestOnMatch_ObserverFilter(t *testing.T) {
	d := NewDispatcher(Options{})

	var forA, all int
	d.Observe(Observer{SubscriberID: "A", OnNotification: func(Notification) { forA++ }})
	d.Observe(Observer{OnNotification: func(Notification) { all++ }})

	d.OnMatch(context.Background(), profiles("A", "B"), testListing())
	assert.Equal(t, 1, forA)
	assert.Equal(t, 2, all)
}

func TestOnMatch_DedupStoreFailureFallsBackToLocal(t *testing.T) {
	store := &failingDedup{}
	d := NewDispatcher(Options{Dedup: store})

	assert.Len(t, d.OnMatch(context.Background(), profiles("A"), testListing()), 1)
	assert.Empty(t, d.OnMatch(context.Background(), profiles("A"), testListing()))
	assert.Equal(t, 2, store.calls)
	assert.Equal(t, int64(2), d.Stats()["dedup_errors"])
}

func TestOnMatch_NoProfiles(t *testing.T) {
	d := NewDispatcher(Options{})
	assert.Nil(t, d.OnMatch(context.Background(), nil, testListing()))
}

func TestOnPresenceChange_OnlyOnChange(t *testing.T) {
	d := NewDispatcher(Options{})

	var counts []int
	d.Observe(Observer{OnPresenceChange: func(c int) { counts = append(counts, c) }})

	for _, c := range []int{3, 3, 4, 4, 4, 2, 3} {
		d.OnPresenceChange(c)
	}
	assert.Equal(t, []int{3, 4, 2, 3}, counts)

	last, ok := d.LastCount()
	assert.True(t, ok)
	assert.Equal(t, 3, last)
}

func TestObserve_Cancel(t *testing.T) {
	d := NewDispatcher(Options{})

	calls := 0
	cancel := d.Observe(Observer{OnPresenceChange: func(int) { calls++ }})
	d.OnPresenceChange(1)
	cancel()
	cancel()
	d.OnPresenceChange(2)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, d.ObserverCount())
}

func TestOnVisitExpiredAndMessage(t *testing.T) {
	d := NewDispatcher(Options{})

	var expired []domain.VisitEnded
	var messages []domain.MessageEvent
	d.Observe(Observer{
		OnVisitExpired: func(e domain.VisitEnded) { expired = append(expired, e) },
		OnMessage:      func(m domain.MessageEvent) { messages = append(messages, m) },
	})

	d.OnVisitExpired(domain.VisitEnded{VisitID: "v1", Synthetic: true})
	d.OnMessage(domain.MessageEvent{ID: "m1"})

	require.Len(t, expired, 1)
	assert.True(t, expired[0].Synthetic)
	require.Len(t, messages, 1)
}
