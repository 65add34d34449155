package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// SSE writes a Server-Sent Events stream.
type SSE struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSE sets the event-stream headers and returns a writer. When the
// ResponseWriter cannot flush it writes a 500 and returns false.
func NewSSE(w http.ResponseWriter) (*SSE, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &SSE{w: w, flusher: flusher}, true
}

// Event writes one named event with data encoded as JSON.
func (s *SSE) Event(name string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", name, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Comment writes a comment line. Clients ignore it; proxies see traffic.
func (s *SSE) Comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
