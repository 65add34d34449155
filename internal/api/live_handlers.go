package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/listing-live/internal/domain"
	"github.com/ignite/listing-live/internal/notify"
	"github.com/ignite/listing-live/internal/pkg/httputil"
	"github.com/ignite/listing-live/internal/pkg/logger"
)

type presenceEvent struct {
	Count int `json:"count"`
}

type streamEvent struct {
	name string
	data any
}

// HandlePresence returns the presence snapshot.
//
//	GET /live/presence
func (s *Server) HandlePresence(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, s.live.Presence())
}

// HandlePresenceStream streams presence count changes and expired visits.
//
//	GET /live/presence/stream
func (s *Server) HandlePresenceStream(w http.ResponseWriter, r *http.Request) {
	sse, ok := httputil.NewSSE(w)
	if !ok {
		return
	}

	ch := make(chan streamEvent, 64)
	cancel := s.live.Observe(notify.Observer{
		OnPresenceChange: func(count int) {
			offer(ch, streamEvent{"presence", presenceEvent{Count: count}})
		},
		OnVisitExpired: func(ev domain.VisitEnded) {
			offer(ch, streamEvent{"visit_expired", ev})
		},
	})
	defer cancel()

	if err := sse.Event("presence", presenceEvent{Count: s.live.Presence().Count}); err != nil {
		return
	}
	s.stream(r, sse, ch, "")
}

// HandleNotificationStream holds the subscriber's profile for matching and
// streams their listing notifications until the client disconnects.
//
//	GET /live/notifications/stream?subscriber_id=...
func (s *Server) HandleNotificationStream(w http.ResponseWriter, r *http.Request) {
	subscriberID := r.URL.Query().Get("subscriber_id")
	if subscriberID == "" {
		httputil.BadRequest(w, "subscriber_id is required")
		return
	}

	// Observe before the profile becomes matchable so no notification is
	// claimed while nobody is listening.
	ch := make(chan streamEvent, 64)
	cancel := s.live.Observe(notify.Observer{
		SubscriberID: subscriberID,
		OnNotification: func(n notify.Notification) {
			offer(ch, streamEvent{"notification", n})
		},
	})
	defer cancel()

	if _, err := s.live.Acquire(r.Context(), subscriberID); err != nil {
		logger.Warn("[API] profile load failed", "subscriber_id", subscriberID, "error", err)
		httputil.ServiceUnavailable(w, "profile unavailable")
		return
	}
	defer s.live.Release(subscriberID)

	sse, ok := httputil.NewSSE(w)
	if !ok {
		return
	}

	streamID := uuid.NewString()
	if err := sse.Comment("stream " + streamID); err != nil {
		return
	}
	s.stream(r, sse, ch, subscriberID)
}

func (s *Server) stream(r *http.Request, sse *httputil.SSE, ch <-chan streamEvent, subscriberID string) {
	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			if err := sse.Event(ev.name, ev.data); err != nil {
				logger.Debug("[API] stream write failed", "event", ev.name, "subscriber_id", subscriberID, "error", err)
				return
			}
		case <-heartbeat.C:
			if err := sse.Comment("ping"); err != nil {
				return
			}
		}
	}
}

// offer never blocks the dispatcher; a slow client misses events.
func offer(ch chan<- streamEvent, ev streamEvent) {
	select {
	case ch <- ev:
	default:
	}
}
