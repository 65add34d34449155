package httputil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONHelpers(t *testing.T) {
	rec := httptest.NewRecorder()
	Created(rec, map[string]string{"id": "v1"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"id":"v1"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	InternalError(rec, errors.New("db password leaked"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestDecode(t *testing.T) {
	var dst struct {
		Path string `json:"path"`
	}
	rec := httptest.NewRecorder()
	ok := Decode(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"path":"/a"}`)), &dst)
	assert.True(t, ok)
	assert.Equal(t, "/a", dst.Path)

	rec = httptest.NewRecorder()
	ok = Decode(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`)), &dst)
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSSE(t *testing.T) {
	rec := httptest.NewRecorder()
	sse, ok := NewSSE(rec)
	require.True(t, ok)

	require.NoError(t, sse.Event("presence", map[string]int{"count": 3}))
	require.NoError(t, sse.Comment("ping"))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "event: presence\ndata: {\"count\":3}\n\n: ping\n\n", rec.Body.String())
	assert.True(t, rec.Flushed)
}

type plainWriter struct {
	header http.Header
	status int
	body   strings.Builder
}

func (p *plainWriter) Header() http.Header         { return p.header }
func (p *plainWriter) Write(b []byte) (int, error) { return p.body.Write(b) }
func (p *plainWriter) WriteHeader(status int)      { p.status = status }

func TestSSE_RequiresFlusher(t *testing.T) {
	w := &plainWriter{header: http.Header{}}
	_, ok := NewSSE(w)
	assert.False(t, ok)
	assert.Equal(t, http.StatusInternalServerError, w.status)
}
