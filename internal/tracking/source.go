package tracking

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/listing-live/internal/domain"
)

// ErrUnsupportedTopic is returned by a source that has nothing to offer for
// a topic. The adapter treats it as "no push path" rather than a failure.
var ErrUnsupportedTopic = errors.New("topic not supported by source")

// Origin tells subscribers which path produced a delivery.
type Origin string

const (
	OriginPush Origin = "push"
	OriginPoll Origin = "poll"
)

// Snapshot is the result of one poll: the authoritative rows for a topic at
// TakenAt. Only the slice for the snapshot's topic is populated.
type Snapshot struct {
	Topic    domain.Topic
	TakenAt  time.Time
	Visits   []domain.VisitRecord
	Listings []domain.ListingEvent
	Messages []domain.MessageEvent
}

// Len returns the number of rows in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Visits) + len(s.Listings) + len(s.Messages)
}

// Delivery is what subscribers receive. Push deliveries carry a validated
// Event; poll deliveries carry a Snapshot.
type Delivery struct {
	Topic    domain.Topic
	Origin   Origin
	Event    domain.Event
	Snapshot *Snapshot
}

// PushSource streams raw change envelopes for a topic.
type PushSource interface {
	Name() string
	// Listen blocks, writing payloads to out, until ctx is cancelled (nil) or
	// the transport fails (non-nil).
	Listen(ctx context.Context, topic domain.Topic, out chan<- []byte) error
}

// SnapshotSource answers the poll query for a topic. A nil snapshot with a
// nil error means the source does not cover the topic.
type SnapshotSource interface {
	Snapshot(ctx context.Context, topic domain.Topic, now time.Time) (*Snapshot, error)
}

func send(ctx context.Context, out chan<- []byte, payload []byte) bool {
	select {
	case out <- payload:
		return true
	case <-ctx.Done():
		return false
	}
}
