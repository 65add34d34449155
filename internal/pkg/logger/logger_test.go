package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(nil)
		SetLevel(INFO)
		SetRedactPII(true)
	})
	return &buf
}

func TestInfo_WritesJSON(t *testing.T) {
	buf := capture(t)

	Info("[Adapter] poll complete", "topic", "visits", "rows", 3)

	var entry map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "[Adapter] poll complete", entry["msg"])
	assert.Equal(t, "visits", entry["topic"])
	assert.Equal(t, "3", entry["rows"])
}

func TestLevelFilter(t *testing.T) {
	buf := capture(t)
	SetLevel(WARN)

	Info("dropped")
	Warn("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "kept")
}

func TestRedaction(t *testing.T) {
	buf := capture(t)

	Info("visit", "session_id", "0190a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b", "email", "john.doe@example.com", "note", "contact ab@example.com")

	var entry map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "0190***4a5b", entry["session_id"])
	assert.Equal(t, "jo***@example.com", entry["email"])
	assert.Equal(t, "contact ***@example.com", entry["note"])
}

func TestRedactionDisabled(t *testing.T) {
	buf := capture(t)
	SetRedactPII(false)

	Info("visit", "session_id", "0190a1b2-c3d4")
	assert.Contains(t, buf.String(), "0190a1b2-c3d4")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("warning"))
	assert.Equal(t, ERROR, ParseLevel("ERROR"))
	assert.Equal(t, INFO, ParseLevel("chatty"))
}

func TestRedactToken(t *testing.T) {
	assert.Equal(t, "***", RedactToken("short"))
	assert.Equal(t, "abcd***6789", RedactToken("abcd-12345-6789"))
}
