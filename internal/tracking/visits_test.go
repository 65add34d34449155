package tracking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/listing-live/internal/domain"
	"github.com/ignite/listing-live/internal/session"
)

type memoryWriter struct {
	mu     sync.Mutex
	visits map[string]domain.VisitRecord
}

func newMemoryWriter() *memoryWriter {
	return &memoryWriter{visits: make(map[string]domain.VisitRecord)}
}

func (m *memoryWriter) InsertVisit(_ context.Context, v domain.VisitRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visits[v.ID] = v
	return nil
}

func (m *memoryWriter) EndVisit(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visits[id]
	if !ok || v.EndedAt != nil {
		return false, nil
	}
	v.EndedAt = &at
	m.visits[id] = v
	return true, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingPublisher) Publish(_ context.Context, ev domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func TestVisitTracker_BeginUsesIdentity(t *testing.T) {
	id := session.NewIdentity(nil)
	tracker := NewVisitTracker(id, newMemoryWriter())

	a, err := tracker.Begin(context.Background(), VisitRequest{Path: "/a", UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Mobile"})
	require.NoError(t, err)
	b, err := tracker.Begin(context.Background(), VisitRequest{Path: "/b", Referrer: "https://www.google.com/search?q=flat"})
	require.NoError(t, err)

	assert.Equal(t, id.GetOrCreateSessionID(), a.SessionID)
	assert.Equal(t, a.SessionID, b.SessionID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, domain.DeviceMobile, a.DeviceType)
	assert.Equal(t, domain.SourceGoogle, b.Source)
	assert.Equal(t, 2, tracker.OpenVisits())
}

func TestVisitTracker_ForgetsAbandonedVisits(t *testing.T) {
	w := newMemoryWriter()
	tracker := NewVisitTracker(nil, w)
	tracker.SetHorizon(5 * time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return now }

	for i := 0; i < 10000; i++ {
		_, err := tracker.Begin(context.Background(), VisitRequest{SessionID: "tab", Path: "/"})
		require.NoError(t, err)
	}
	assert.Equal(t, 10000, tracker.OpenVisits())

	now = now.Add(5*time.Minute + time.Second)
	last, err := tracker.Begin(context.Background(), VisitRequest{SessionID: "tab", Path: "/later"})
	require.NoError(t, err)
	assert.Equal(t, 1, tracker.OpenVisits())

	// A forgotten visit can still be ended through the writer.
	var old string
	for id := range w.visits {
		if id != last.ID {
			old = id
			break
		}
	}
	assert.NoError(t, tracker.End(context.Background(), old))
}

func TestVisitTracker_EndOnce(t *testing.T) {
	w := newMemoryWriter()
	tracker := NewVisitTracker(nil, w)

	v, err := tracker.Begin(context.Background(), VisitRequest{SessionID: "client-token", Path: "/"})
	require.NoError(t, err)
	assert.Equal(t, "client-token", v.SessionID)

	require.NoError(t, tracker.End(context.Background(), v.ID))
	assert.Equal(t, 0, tracker.OpenVisits())
	first := *w.visits[v.ID].EndedAt

	assert.ErrorIs(t, tracker.End(context.Background(), v.ID), ErrUnknownVisit)
	assert.Equal(t, first, *w.visits[v.ID].EndedAt)
	assert.ErrorIs(t, tracker.End(context.Background(), "nope"), ErrUnknownVisit)
}

func TestSQLVisitWriter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	pub := &recordingPublisher{}
	w := NewSQLVisitWriter(db, pub)
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	v := domain.VisitRecord{ID: "v1", SessionID: "s1", Path: "/", DeviceType: domain.DeviceDesktop, Source: domain.SourceDirect, CreatedAt: at}

	mock.ExpectExec("INSERT INTO visits").
		WithArgs("v1", "s1", "/", "desktop", "direct", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, w.InsertVisit(ctx, v))

	mock.ExpectQuery("UPDATE visits SET ended_at").
		WithArgs("v1", at.Add(time.Minute)).
		WillReturnRows(sqlmock.NewRows([]string{"session_id"}).AddRow("s1"))
	set, err := w.EndVisit(ctx, "v1", at.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, set)

	mock.ExpectQuery("UPDATE visits SET ended_at").
		WillReturnRows(sqlmock.NewRows([]string{"session_id"}))
	set, err = w.EndVisit(ctx, "v1", at.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, set)

	require.Len(t, pub.events, 2)
	assert.Equal(t, domain.KindVisitCreated, pub.events[0].Kind())
	assert.Equal(t, domain.VisitEnded{VisitID: "v1", SessionID: "s1", EndedAt: at.Add(time.Minute)}, pub.events[1])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGNotifyPublisher(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("SELECT pg_notify").
		WithArgs("visits", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = NewPGNotifyPublisher(db, "").Publish(context.Background(), domain.VisitEnded{VisitID: "v1", EndedAt: time.Now()})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDetectDevice(t *testing.T) {
	assert.Equal(t, domain.DeviceMobile, DetectDevice("Mozilla/5.0 (Linux; Android 14) Mobile"))
	assert.Equal(t, domain.DeviceTablet, DetectDevice("Mozilla/5.0 (iPad; CPU OS 17_0) Mobile/15E148"))
	assert.Equal(t, domain.DeviceDesktop, DetectDevice("Mozilla/5.0 (Windows NT 10.0; Win64; x64)"))
	assert.Equal(t, domain.DeviceDesktop, DetectDevice(""))
}

func TestDetectSource(t *testing.T) {
	tests := []struct {
		referrer, utm string
		want          domain.TrafficSource
	}{
		{"", "", domain.SourceDirect},
		{"https://www.google.com/", "", domain.SourceGoogle},
		{"https://news.google.co.uk/x", "", domain.SourceGoogle},
		{"https://m.facebook.com/", "", domain.SourceFacebook},
		{"https://t.co/abc", "", domain.SourceTwitter},
		{"https://lnkd.in/xyz", "", domain.SourceLinkedIn},
		{"https://l.instagram.com/", "", domain.SourceInstagram},
		{"https://blog.example.org/post", "", domain.SourceReferral},
		{"https://www.google.com/", "facebook", domain.SourceFacebook},
		{"", "newsletter", domain.SourceReferral},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectSource(tt.referrer, tt.utm), "referrer=%q utm=%q", tt.referrer, tt.utm)
	}
}
