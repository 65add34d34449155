package tracking

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/listing-live/internal/pkg/httputil"
	"github.com/ignite/listing-live/internal/pkg/logger"
	"github.com/ignite/listing-live/internal/session"
)

// SessionHeader carries the client's session token.
const SessionHeader = "X-Session-ID"

// Handler is the HTTP ingress for visit tracking.
type Handler struct {
	tracker *VisitTracker
}

// NewHandler creates a handler over tracker.
func NewHandler(tracker *VisitTracker) *Handler {
	return &Handler{tracker: tracker}
}

// Routes mounts the tracking endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/visits", h.HandleBeginVisit)
	r.Post("/visits/{visitID}/end", h.HandleEndVisit)
	return r
}

// HandleBeginVisit records a page view for the session named by the
// X-Session-ID header (or the body's session_id).
func (h *Handler) HandleBeginVisit(w http.ResponseWriter, r *http.Request) {
	var req VisitRequest
	if r.ContentLength != 0 {
		if !httputil.Decode(w, r, &req) {
			return
		}
	}

	raw := r.Header.Get(SessionHeader)
	if raw == "" {
		raw = req.SessionID
	}
	token, err := session.ParseToken(raw)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	req.SessionID = token

	if req.Path == "" {
		httputil.BadRequest(w, "path is required")
		return
	}
	if req.UserAgent == "" {
		req.UserAgent = r.UserAgent()
	}
	if req.Referrer == "" {
		req.Referrer = r.Referer()
	}

	visit, err := h.tracker.Begin(r.Context(), req)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	logger.Debug("[Tracking] visit begun", "visit_id", visit.ID, "session_id", visit.SessionID, "path", visit.Path)
	httputil.Created(w, visit)
}

// HandleEndVisit marks a visit as ended.
func (h *Handler) HandleEndVisit(w http.ResponseWriter, r *http.Request) {
	visitID := chi.URLParam(r, "visitID")
	if visitID == "" {
		httputil.BadRequest(w, "visit id is required")
		return
	}

	err := h.tracker.End(r.Context(), visitID)
	switch {
	case errors.Is(err, ErrUnknownVisit):
		httputil.NotFound(w, "visit not found or already ended")
	case err != nil:
		httputil.InternalError(w, err)
	default:
		httputil.NoContent(w)
	}
}
