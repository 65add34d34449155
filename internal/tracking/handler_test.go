package tracking

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/listing-live/internal/domain"
)

func TestHandler_BeginAndEnd(t *testing.T) {
	tracker := NewVisitTracker(nil, newMemoryWriter())
	router := NewHandler(tracker).Routes()

	req := httptest.NewRequest(http.MethodPost, "/visits", strings.NewReader(`{"path":"/listings/7"}`))
	req.Header.Set(SessionHeader, "tab-123")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Linux; Android 14) Mobile")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var visit domain.VisitRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &visit))
	assert.Equal(t, "tab-123", visit.SessionID)
	assert.Equal(t, "/listings/7", visit.Path)
	assert.Equal(t, domain.DeviceMobile, visit.DeviceType)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/visits/"+visit.ID+"/end", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/visits/"+visit.ID+"/end", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_BeginValidation(t *testing.T) {
	router := NewHandler(NewVisitTracker(nil, newMemoryWriter())).Routes()

	tests := []struct {
		name   string
		header string
		body   string
	}{
		{"missing session", "", `{"path":"/"}`},
		{"missing path", "tab-1", `{}`},
		{"bad json", "tab-1", `{`},
		{"token with space", "tab 1", `{"path":"/"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/visits", strings.NewReader(tt.body))
			if tt.header != "" {
				req.Header.Set(SessionHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}
