// Package session issues the opaque per-tab session token that stamps every
// visit. Tokens are generated locally without a server round trip: a UUIDv7
// carries a millisecond timestamp prefix followed by random bits.
package session

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/ignite/listing-live/internal/domain"
)

// MaxTokenLength bounds client-supplied tokens accepted at ingress.
const MaxTokenLength = 128

// ErrInvalidToken is returned by ParseToken.
var ErrInvalidToken = errors.New("invalid session token")

// Store persists the session for the lifetime of one tab or process.
type Store interface {
	Load() (domain.Session, bool)
	Save(domain.Session)
}

// MemoryStore keeps the session in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	session *domain.Session
}

func (m *MemoryStore) Load() (domain.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return domain.Session{}, false
	}
	return *m.session, true
}

func (m *MemoryStore) Save(s domain.Session) {
	m.mu.Lock()
	m.session = &s
	m.mu.Unlock()
}

// Identity hands out one stable token per store.
type Identity struct {
	mu    sync.Mutex
	store Store
	now   func() time.Time
}

// NewIdentity returns an Identity backed by store, or by a fresh
// MemoryStore when store is nil.
func NewIdentity(store Store) *Identity {
	if store == nil {
		store = &MemoryStore{}
	}
	return &Identity{store: store, now: time.Now}
}

// GetOrCreateSessionID returns the stored token, creating one on first use.
func (i *Identity) GetOrCreateSessionID() string {
	return i.Session().ID
}

// Session returns the stored session, creating one on first use.
func (i *Identity) Session() domain.Session {
	i.mu.Lock()
	defer i.mu.Unlock()

	if s, ok := i.store.Load(); ok && s.ID != "" {
		return s
	}
	s := domain.Session{ID: NewToken(), CreatedAt: i.now().UTC()}
	i.store.Save(s)
	return s
}

// NewToken generates a time-ordered random token.
func NewToken() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// TokenTime extracts the creation time from a token produced by NewToken.
// It reports false for tokens of any other shape.
func TokenTime(token string) (time.Time, bool) {
	id, err := uuid.Parse(token)
	if err != nil || id.Version() != 7 {
		return time.Time{}, false
	}
	ms := int64(binary.BigEndian.Uint64(id[:8]) >> 16)
	return time.UnixMilli(ms).UTC(), true
}

// ParseToken validates a client-supplied token. Tokens are opaque: any
// printable string without spaces up to MaxTokenLength is accepted.
func ParseToken(raw string) (string, error) {
	token := strings.TrimSpace(raw)
	if token == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidToken)
	}
	if len(token) > MaxTokenLength {
		return "", fmt.Errorf("%w: longer than %d bytes", ErrInvalidToken, MaxTokenLength)
	}
	for _, r := range token {
		if !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return "", fmt.Errorf("%w: unprintable character", ErrInvalidToken)
		}
	}
	return token, nil
}
