// Package api is the HTTP surface of the live core: health, presence,
// SSE streams for the UI and the visit tracking endpoints.
package api

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/listing-live/internal/domain"
	"github.com/ignite/listing-live/internal/notify"
	"github.com/ignite/listing-live/internal/presence"
	"github.com/ignite/listing-live/internal/tracking"
)

// DefaultHeartbeat is the SSE keep-alive period.
const DefaultHeartbeat = 25 * time.Second

// LiveCore is the engine surface the handlers use.
type LiveCore interface {
	Presence() presence.Snapshot
	Observe(o notify.Observer) (cancel func())
	Acquire(ctx context.Context, userID string) (domain.PreferenceProfile, error)
	Release(userID string)
	Stats() map[string]int64
}

// Options configures the router.
type Options struct {
	AllowedOrigins []string
	Heartbeat      time.Duration
}

// Server holds the handlers.
type Server struct {
	live      LiveCore
	tracking  *tracking.Handler
	health    *HealthChecker
	heartbeat time.Duration
	origins   []string
}

// NewServer creates a server. trackingHandler and health may be nil.
func NewServer(live LiveCore, trackingHandler *tracking.Handler, health *HealthChecker, opts Options) *Server {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	if health == nil {
		health = NewHealthChecker(nil, nil, nil, "", live.Stats)
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	return &Server{
		live:      live,
		tracking:  trackingHandler,
		health:    health,
		heartbeat: opts.Heartbeat,
		origins:   opts.AllowedOrigins,
	}
}

// Routes builds the router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", tracking.SessionHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.health.HandleHealth)
	r.Get("/health/ready", s.health.HandleReadiness)

	r.Route("/live", func(r chi.Router) {
		r.Get("/presence", s.HandlePresence)
		r.Get("/presence/stream", s.HandlePresenceStream)
		r.Get("/notifications/stream", s.HandleNotificationStream)
	})

	if s.tracking != nil {
		r.Mount("/track", s.tracking.Routes())
	}
	return r
}
