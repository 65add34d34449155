package tracking

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/listing-live/internal/domain"
	"github.com/ignite/listing-live/internal/pkg/httpretry"
)

func partnerFeed(now time.Time) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Partner listings</title>
  <link>https://partner.example</link>
  <description>New listings</description>
  <item>
    <title>Sunny two-bed</title>
    <link>https://partner.example/l/100</link>
    <guid>partner-100</guid>
    <pubDate>%s</pubDate>
    <category>property_type:apartment</category>
    <category>region:north</category>
    <category>price:1800</category>
    <category>bedrooms:2</category>
  </item>
  <item>
    <title>Old barn</title>
    <link>https://partner.example/l/99</link>
    <pubDate>%s</pubDate>
    <category>region:south</category>
  </item>
</channel>
</rss>`, now.Add(-time.Minute).Format(time.RFC1123Z), now.Add(-time.Hour).Format(time.RFC1123Z))
}

func TestFeedSnapshotter(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, partnerFeed(now))
	}))
	defer srv.Close()

	f := NewFeedSnapshotter([]string{srv.URL}, 5*time.Minute)
	snap, err := f.Snapshot(context.Background(), domain.TopicListings, now)
	require.NoError(t, err)
	require.Len(t, snap.Listings, 1)

	l := snap.Listings[0]
	assert.Equal(t, "partner-100", l.ID)
	assert.Equal(t, "Sunny two-bed", l.Title)
	assert.Equal(t, "apartment", l.PropertyType)
	assert.Equal(t, "north", l.Region)
	require.NotNil(t, l.Price)
	assert.Equal(t, 1800.0, *l.Price)
	require.NotNil(t, l.Bedrooms)
	assert.Equal(t, 2, *l.Bedrooms)
	assert.Nil(t, l.Bathrooms)
}

const undatedFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Partner listings</title>
  <link>https://partner.example</link>
  <description>New listings</description>
  <item>
    <title>Cottage by the lake</title>
    <link>https://partner.example/l/200</link>
    <guid>partner-200</guid>
    <category>region:east</category>
  </item>
</channel>
</rss>`

func TestFeedSnapshotter_UndatedItemsAgeOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, undatedFeed)
	}))
	defer srv.Close()

	f := NewFeedSnapshotter([]string{srv.URL}, 5*time.Minute)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		after time.Duration
		want  int
	}{
		{0, 1},
		{30 * time.Second, 1},
		{11 * time.Minute, 0},
		{30 * time.Minute, 0},
		{24 * time.Hour, 0},
	}
	for _, tt := range tests {
		snap, err := f.Snapshot(context.Background(), domain.TopicListings, start.Add(tt.after))
		require.NoError(t, err)
		require.Len(t, snap.Listings, tt.want, "poll at +%s", tt.after)
		if tt.want > 0 {
			assert.Equal(t, start, snap.Listings[0].CreatedAt, "stamped with the first sighting")
		}
	}
}

func TestFeedSnapshotter_OtherTopics(t *testing.T) {
	f := NewFeedSnapshotter([]string{"http://unused.invalid"}, 0)
	snap, err := f.Snapshot(context.Background(), domain.TopicVisits, time.Now())
	assert.NoError(t, err)
	assert.Nil(t, snap)
}

func TestFeedSnapshotter_AllFeedsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewFeedSnapshotter([]string{srv.URL}, time.Minute)
	f.client = httpretry.New(httpretry.Options{Attempts: 2, BaseDelay: time.Millisecond})
	_, err := f.Snapshot(context.Background(), domain.TopicListings, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.EqualValues(t, 1, f.client.Retries())
}

func TestFeedSnapshotter_RetriesTransientFailure(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, feedUserAgent, r.Header.Get("User-Agent"))
		fmt.Fprint(w, partnerFeed(now))
	}))
	defer srv.Close()

	f := NewFeedSnapshotter([]string{srv.URL}, 5*time.Minute)
	f.client = httpretry.New(httpretry.Options{Attempts: 3, BaseDelay: time.Millisecond})
	snap, err := f.Snapshot(context.Background(), domain.TopicListings, now)
	require.NoError(t, err)
	assert.Len(t, snap.Listings, 1)
	assert.Equal(t, 2, calls)
}
