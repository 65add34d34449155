package tracking

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/ignite/listing-live/internal/domain"
	"github.com/ignite/listing-live/internal/pkg/httpretry"
	"github.com/ignite/listing-live/internal/pkg/logger"
)

const feedUserAgent = "listing-live/1.0 (+partner feeds)"

// FeedSnapshotter polls syndicated partner listing feeds (RSS or Atom) and
// reports recent items as listings. Attributes come from "key:value"
// categories (region:north, price:1500) or from custom item elements.
//
// Items without a publish or update date are stamped with the time they
// first appeared in their feed, so a dateless item ages out of the lookback
// like any other instead of looking new on every poll.
type FeedSnapshotter struct {
	parser   *gofeed.Parser
	client   *httpretry.Client
	urls     []string
	lookback time.Duration
	timeout  time.Duration

	mu        sync.Mutex
	firstSeen map[string]map[string]time.Time
}

// NewFeedSnapshotter creates a snapshotter over urls.
func NewFeedSnapshotter(urls []string, lookback time.Duration) *FeedSnapshotter {
	if lookback <= 0 {
		lookback = DefaultListingLookback
	}
	return &FeedSnapshotter{
		parser:    gofeed.NewParser(),
		client:    httpretry.New(httpretry.Options{Client: &http.Client{Timeout: 15 * time.Second}}),
		urls:      urls,
		lookback:  lookback,
		timeout:   15 * time.Second,
		firstSeen: make(map[string]map[string]time.Time),
	}
}

// Snapshot returns nil for topics other than listings.
func (f *FeedSnapshotter) Snapshot(ctx context.Context, topic domain.Topic, now time.Time) (*Snapshot, error) {
	if topic != domain.TopicListings || len(f.urls) == 0 {
		return nil, nil
	}

	snap := &Snapshot{Topic: topic, TakenAt: now}
	since := now.Add(-f.lookback)
	var errs []error
	for _, url := range f.urls {
		feed, err := f.fetch(ctx, url)
		if err != nil {
			errs = append(errs, fmt.Errorf("feed %s: %w", url, err))
			continue
		}
		for _, l := range f.stamp(url, feed.Items, now) {
			if l.CreatedAt.Before(since) {
				continue
			}
			snap.Listings = append(snap.Listings, l)
		}
	}

	if len(errs) == len(f.urls) {
		return nil, errors.Join(errs...)
	}
	if len(errs) > 0 {
		logger.Warn("[FeedSnapshotter] some feeds failed", "failed", len(errs), "error", errors.Join(errs...))
	}
	return snap, nil
}

func (f *FeedSnapshotter) fetch(ctx context.Context, url string) (*gofeed.Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", feedUserAgent)
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, gofeed.HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	return f.parser.Parse(resp.Body)
}

// stamp parses the items of one successful fetch and dates the undated ones
// by first sighting. Sightings of items that left the feed are dropped.
func (f *FeedSnapshotter) stamp(url string, items []*gofeed.Item, now time.Time) []domain.ListingEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev := f.firstSeen[url]
	seen := make(map[string]time.Time)
	out := make([]domain.ListingEvent, 0, len(items))
	for _, item := range items {
		l := parseFeedItem(item)
		if l.ID == "" {
			continue
		}
		if l.CreatedAt.IsZero() {
			first, ok := prev[l.ID]
			if !ok {
				first = now
			}
			seen[l.ID] = first
			l.CreatedAt = first
		}
		out = append(out, l)
	}
	f.firstSeen[url] = seen
	return out
}

// parseFeedItem leaves CreatedAt zero when the item carries no date.
func parseFeedItem(item *gofeed.Item) domain.ListingEvent {
	l := domain.ListingEvent{
		ID:    item.GUID,
		Title: strings.TrimSpace(item.Title),
	}
	if l.ID == "" {
		l.ID = item.Link
	}

	switch {
	case item.PublishedParsed != nil:
		l.CreatedAt = item.PublishedParsed.UTC()
	case item.UpdatedParsed != nil:
		l.CreatedAt = item.UpdatedParsed.UTC()
	}

	attrs := make(map[string]string)
	for k, v := range item.Custom {
		attrs[strings.ToLower(k)] = strings.TrimSpace(v)
	}
	for _, cat := range item.Categories {
		if k, v, ok := strings.Cut(cat, ":"); ok {
			attrs[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}

	l.PropertyType = attrs["property_type"]
	l.ListingType = attrs["listing_type"]
	l.Region = attrs["region"]
	l.Location = attrs["location"]
	if v, err := strconv.ParseFloat(attrs["price"], 64); err == nil && v >= 0 {
		l.Price = &v
	}
	if v, err := strconv.Atoi(attrs["bedrooms"]); err == nil {
		l.Bedrooms = &v
	}
	if v, err := strconv.Atoi(attrs["bathrooms"]); err == nil {
		l.Bathrooms = &v
	}
	return l
}
