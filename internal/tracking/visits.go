package tracking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/listing-live/internal/domain"
	"github.com/ignite/listing-live/internal/pkg/logger"
	"github.com/ignite/listing-live/internal/session"
)

// DefaultVisitHorizon is how long a begun visit is remembered without an
// end. It matches the presence horizon: past it the visit no longer counts.
const DefaultVisitHorizon = 5 * time.Minute

// ErrUnknownVisit is returned by End for a visit this tracker did not begin.
var ErrUnknownVisit = errors.New("unknown visit")

// VisitWriter persists visit rows.
type VisitWriter interface {
	InsertVisit(ctx context.Context, v domain.VisitRecord) error
	// EndVisit sets ended_at if it is not already set and reports whether
	// this call set it.
	EndVisit(ctx context.Context, visitID string, at time.Time) (bool, error)
}

// VisitTracker records page visits for sessions. It is the producer side
// of the visits topic.
type VisitTracker struct {
	identity *session.Identity
	writer   VisitWriter
	now      func() time.Time
	horizon  time.Duration

	mu        sync.Mutex
	open      map[string]domain.VisitRecord
	lastPrune time.Time
}

// NewVisitTracker creates a tracker. identity stamps visits begun without an
// explicit session.
func NewVisitTracker(identity *session.Identity, writer VisitWriter) *VisitTracker {
	if identity == nil {
		identity = session.NewIdentity(nil)
	}
	return &VisitTracker{
		identity: identity,
		writer:   writer,
		now:      time.Now,
		horizon:  DefaultVisitHorizon,
		open:     make(map[string]domain.VisitRecord),
	}
}

// SetHorizon sets how long a visit without an end is remembered. Call it
// before the tracker is used.
func (t *VisitTracker) SetHorizon(d time.Duration) {
	if d > 0 {
		t.horizon = d
	}
}

// VisitRequest describes a page view.
type VisitRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Path      string `json:"path"`
	UserAgent string `json:"user_agent,omitempty"`
	Referrer  string `json:"referrer,omitempty"`
	UTMSource string `json:"utm_source,omitempty"`
}

// Begin records a new visit. An empty SessionID uses the tracker's own
// session identity.
func (t *VisitTracker) Begin(ctx context.Context, req VisitRequest) (domain.VisitRecord, error) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = t.identity.GetOrCreateSessionID()
	}
	v := domain.VisitRecord{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Path:       req.Path,
		DeviceType: DetectDevice(req.UserAgent),
		Source:     DetectSource(req.Referrer, req.UTMSource),
		CreatedAt:  t.now().UTC(),
	}
	if err := t.writer.InsertVisit(ctx, v); err != nil {
		return domain.VisitRecord{}, fmt.Errorf("begin visit: %w", err)
	}

	t.mu.Lock()
	t.pruneLocked(v.CreatedAt)
	t.open[v.ID] = v
	t.mu.Unlock()
	return v, nil
}

// pruneLocked forgets visits that aged out of the horizon without an End,
// such as those of clients that closed or lost the network. It scans at most
// once per tenth of the horizon.
func (t *VisitTracker) pruneLocked(now time.Time) {
	if now.Sub(t.lastPrune) < t.horizon/10 {
		return
	}
	t.lastPrune = now
	cutoff := now.Add(-t.horizon)
	for id, v := range t.open {
		if v.CreatedAt.Before(cutoff) {
			delete(t.open, id)
		}
	}
}

// End sets the visit's end time once. A visit this tracker began that was
// already ended elsewhere is not an error; any other visit that was not
// updated reports ErrUnknownVisit.
func (t *VisitTracker) End(ctx context.Context, visitID string) error {
	t.mu.Lock()
	_, tracked := t.open[visitID]
	t.mu.Unlock()

	set, err := t.writer.EndVisit(ctx, visitID, t.now().UTC())
	if err != nil {
		return fmt.Errorf("end visit: %w", err)
	}
	t.mu.Lock()
	delete(t.open, visitID)
	t.mu.Unlock()

	if !set && !tracked {
		return ErrUnknownVisit
	}
	return nil
}

// OpenVisits returns the visits begun here and not yet ended.
func (t *VisitTracker) OpenVisits() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.open)
}

// SQLVisitWriter writes visits to Postgres. With a Publisher set it also
// emits the change envelope, for deployments without NOTIFY triggers or
// with a Redis/SQS push path.
type SQLVisitWriter struct {
	db        *sql.DB
	publisher Publisher
}

// NewSQLVisitWriter creates a writer. publisher may be nil.
func NewSQLVisitWriter(db *sql.DB, publisher Publisher) *SQLVisitWriter {
	return &SQLVisitWriter{db: db, publisher: publisher}
}

func (w *SQLVisitWriter) InsertVisit(ctx context.Context, v domain.VisitRecord) error {
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO visits (id, session_id, path, device_type, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, v.ID, v.SessionID, v.Path, string(v.DeviceType), string(v.Source), v.CreatedAt)
	if err != nil {
		return err
	}
	w.publish(ctx, domain.VisitCreated{Visit: v})
	return nil
}

func (w *SQLVisitWriter) EndVisit(ctx context.Context, visitID string, at time.Time) (bool, error) {
	var sessionID string
	err := w.db.QueryRowContext(ctx, `
		UPDATE visits SET ended_at = $2
		WHERE id = $1 AND ended_at IS NULL
		RETURNING session_id
	`, visitID, at).Scan(&sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	w.publish(ctx, domain.VisitEnded{VisitID: visitID, SessionID: sessionID, EndedAt: at})
	return true, nil
}

func (w *SQLVisitWriter) publish(ctx context.Context, ev domain.Event) {
	if w.publisher == nil {
		return
	}
	if err := w.publisher.Publish(ctx, ev); err != nil {
		logger.Warn("[VisitWriter] publish failed, poll will catch up", "kind", ev.Kind(), "error", err)
	}
}

// PGNotifyPublisher publishes envelopes with pg_notify on the channels
// PGListener listens on.
type PGNotifyPublisher struct {
	db            *sql.DB
	channelPrefix string
}

// NewPGNotifyPublisher creates a publisher.
func NewPGNotifyPublisher(db *sql.DB, channelPrefix string) *PGNotifyPublisher {
	return &PGNotifyPublisher{db: db, channelPrefix: channelPrefix}
}

func (p *PGNotifyPublisher) Publish(ctx context.Context, ev domain.Event) error {
	body, err := domain.EncodeChange(ev)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, NotifySQL, p.channelPrefix+string(ev.Topic()), string(body))
	return err
}

// DetectDevice classifies a user agent.
func DetectDevice(ua string) domain.DeviceType {
	ua = strings.ToLower(ua)
	if strings.Contains(ua, "tablet") || strings.Contains(ua, "ipad") {
		return domain.DeviceTablet
	}
	if strings.Contains(ua, "mobile") || strings.Contains(ua, "android") || strings.Contains(ua, "iphone") {
		return domain.DeviceMobile
	}
	return domain.DeviceDesktop
}

var referrerSources = map[string]domain.TrafficSource{
	"google":    domain.SourceGoogle,
	"facebook":  domain.SourceFacebook,
	"fb.com":    domain.SourceFacebook,
	"twitter":   domain.SourceTwitter,
	"t.co":      domain.SourceTwitter,
	"x.com":     domain.SourceTwitter,
	"linkedin":  domain.SourceLinkedIn,
	"lnkd.in":   domain.SourceLinkedIn,
	"instagram": domain.SourceInstagram,
}

// DetectSource attributes a visit. An explicit utm_source wins over the
// referrer host; no referrer means direct.
func DetectSource(referrer, utmSource string) domain.TrafficSource {
	if utmSource != "" {
		return domain.ParseTrafficSource(utmSource)
	}
	if referrer == "" {
		return domain.SourceDirect
	}
	host := referrer
	if u, err := url.Parse(referrer); err == nil && u.Host != "" {
		host = u.Host
	}
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	for needle, src := range referrerSources {
		if host == needle || strings.HasPrefix(host, needle+".") || strings.Contains(host, "."+needle+".") || strings.HasSuffix(host, "."+needle) {
			return src
		}
	}
	return domain.SourceReferral
}
