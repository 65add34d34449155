package tracking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/listing-live/internal/domain"
	"github.com/ignite/listing-live/internal/pkg/logger"
)

// Snapshot query defaults.
const (
	DefaultListingLookback = 2 * time.Minute
	DefaultSnapshotLimit   = 500
)

// SQLSnapshotter answers poll queries from the visits, listings and
// messages tables.
type SQLSnapshotter struct {
	db       *sql.DB
	horizon  time.Duration
	lookback time.Duration
	limit    int
}

// NewSQLSnapshotter creates a snapshotter. horizon bounds the visit query;
// lookback bounds listings and messages.
func NewSQLSnapshotter(db *sql.DB, horizon, lookback time.Duration) *SQLSnapshotter {
	if lookback <= 0 {
		lookback = DefaultListingLookback
	}
	return &SQLSnapshotter{db: db, horizon: horizon, lookback: lookback, limit: DefaultSnapshotLimit}
}

const (
	visitsSnapshotSQL = `
		SELECT id, session_id, COALESCE(path, ''), COALESCE(device_type, ''), COALESCE(source, ''), created_at
		FROM visits
		WHERE created_at >= $1 AND ended_at IS NULL
		ORDER BY created_at`

	listingsSnapshotSQL = `
		SELECT id, COALESCE(title, ''), COALESCE(property_type, ''), COALESCE(listing_type, ''),
		       COALESCE(region, ''), price, bedrooms, bathrooms, COALESCE(location, ''), created_at
		FROM listings
		WHERE created_at >= $1
		ORDER BY created_at
		LIMIT $2`

	messagesSnapshotSQL = `
		SELECT id, conversation_id, COALESCE(sender_id, ''), COALESCE(content, ''), created_at
		FROM messages
		WHERE created_at >= $1
		ORDER BY created_at
		LIMIT $2`
)

func (s *SQLSnapshotter) Snapshot(ctx context.Context, topic domain.Topic, now time.Time) (*Snapshot, error) {
	snap := &Snapshot{Topic: topic, TakenAt: now}
	var err error
	switch topic {
	case domain.TopicVisits:
		snap.Visits, err = s.visits(ctx, now.Add(-s.horizon))
	case domain.TopicListings:
		snap.Listings, err = s.listings(ctx, now.Add(-s.lookback))
	case domain.TopicMessages:
		snap.Messages, err = s.messages(ctx, now.Add(-s.lookback))
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *SQLSnapshotter) visits(ctx context.Context, since time.Time) ([]domain.VisitRecord, error) {
	rows, err := s.db.QueryContext(ctx, visitsSnapshotSQL, since)
	if err != nil {
		return nil, fmt.Errorf("query visits: %w", err)
	}
	defer rows.Close()

	out := []domain.VisitRecord{}
	for rows.Next() {
		var (
			v              domain.VisitRecord
			device, source string
		)
		if err := rows.Scan(&v.ID, &v.SessionID, &v.Path, &device, &source, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan visit: %w", err)
		}
		v.DeviceType = domain.ParseDeviceType(device)
		v.Source = domain.ParseTrafficSource(source)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLSnapshotter) listings(ctx context.Context, since time.Time) ([]domain.ListingEvent, error) {
	rows, err := s.db.QueryContext(ctx, listingsSnapshotSQL, since, s.limit)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer rows.Close()

	var out []domain.ListingEvent
	for rows.Next() {
		var (
			l                   domain.ListingEvent
			price               sql.NullFloat64
			bedrooms, bathrooms sql.NullInt64
		)
		if err := rows.Scan(&l.ID, &l.Title, &l.PropertyType, &l.ListingType, &l.Region,
			&price, &bedrooms, &bathrooms, &l.Location, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		if price.Valid {
			l.Price = &price.Float64
		}
		if bedrooms.Valid {
			n := int(bedrooms.Int64)
			l.Bedrooms = &n
		}
		if bathrooms.Valid {
			n := int(bathrooms.Int64)
			l.Bathrooms = &n
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *SQLSnapshotter) messages(ctx context.Context, since time.Time) ([]domain.MessageEvent, error) {
	rows, err := s.db.QueryContext(ctx, messagesSnapshotSQL, since, s.limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []domain.MessageEvent
	for rows.Next() {
		var m domain.MessageEvent
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MultiSnapshotter merges several sources. For the visits topic any failure
// fails the whole snapshot, since a partial presence snapshot would replace
// state with an undercount. Other topics return whatever succeeded.
type MultiSnapshotter []SnapshotSource

func (m MultiSnapshotter) Snapshot(ctx context.Context, topic domain.Topic, now time.Time) (*Snapshot, error) {
	var (
		merged *Snapshot
		errs   []error
	)
	for _, src := range m {
		snap, err := src.Snapshot(ctx, topic, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if snap == nil {
			continue
		}
		if merged == nil {
			merged = &Snapshot{Topic: topic, TakenAt: now}
		}
		merged.Visits = append(merged.Visits, snap.Visits...)
		merged.Listings = append(merged.Listings, snap.Listings...)
		merged.Messages = append(merged.Messages, snap.Messages...)
	}

	if len(errs) == 0 {
		return merged, nil
	}
	if topic == domain.TopicVisits || merged == nil {
		return nil, errors.Join(errs...)
	}
	logger.Warn("[Adapter] partial snapshot", "topic", topic, "error", errors.Join(errs...))
	return merged, nil
}
