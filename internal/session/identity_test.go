package session

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateSessionID_Stable(t *testing.T) {
	id := NewIdentity(nil)

	first := id.GetOrCreateSessionID()
	require.NotEmpty(t, first)
	assert.Equal(t, first, id.GetOrCreateSessionID())
}

func TestGetOrCreateSessionID_Concurrent(t *testing.T) {
	id := NewIdentity(nil)

	var wg sync.WaitGroup
	tokens := make([]string, 20)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i] = id.GetOrCreateSessionID()
		}(i)
	}
	wg.Wait()

	for _, tok := range tokens {
		assert.Equal(t, tokens[0], tok)
	}
}

func TestGetOrCreateSessionID_SeparateStores(t *testing.T) {
	a := NewIdentity(&MemoryStore{})
	b := NewIdentity(&MemoryStore{})
	assert.NotEqual(t, a.GetOrCreateSessionID(), b.GetOrCreateSessionID())
}

func TestGetOrCreateSessionID_SharedStore(t *testing.T) {
	store := &MemoryStore{}
	a := NewIdentity(store)
	b := NewIdentity(store)
	assert.Equal(t, a.GetOrCreateSessionID(), b.GetOrCreateSessionID())
}

func TestNewToken_TimePrefix(t *testing.T) {
	before := time.Now().Add(-time.Second)
	tok := NewToken()

	ts, ok := TokenTime(tok)
	require.True(t, ok)
	assert.True(t, ts.After(before), "token time %s should be recent", ts)
	assert.True(t, ts.Before(time.Now().Add(time.Second)))

	_, ok = TokenTime("not-a-uuid")
	assert.False(t, ok)
}

func TestNewToken_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		tok := NewToken()
		require.False(t, seen[tok], "duplicate token %s", tok)
		seen[tok] = true
	}
}

func TestParseToken(t *testing.T) {
	tok, err := ParseToken("  abc-123  ")
	require.NoError(t, err)
	assert.Equal(t, "abc-123", tok)

	for _, bad := range []string{"", "   ", "has space", "tab\there", strings.Repeat("x", MaxTokenLength+1)} {
		_, err := ParseToken(bad)
		assert.True(t, errors.Is(err, ErrInvalidToken), "expected invalid for %q", bad)
	}
}
