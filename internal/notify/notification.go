// Package notify turns matches and presence changes into observer callbacks.
//
// Listing notifications are deduplicated on listing id plus subscriber id
// for a TTL, so a listing seen on both the push path and a later poll is
// delivered once. Presence changes are emitted only when the count moves.
package notify

import (
	"fmt"
	"time"

	"github.com/ignite/listing-live/internal/domain"
)

// Notification is the payload handed to the UI collaborator for one matched
// subscriber.
type Notification struct {
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	TargetURL    string    `json:"target_url"`
	DedupKey     string    `json:"dedup_key"`
	SubscriberID string    `json:"subscriber_id"`
	ListingID    string    `json:"listing_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// DedupKey is the identity of one (listing, subscriber) notification.
func DedupKey(listingID, subscriberID string) string {
	return fmt.Sprintf("listing:%s:%s", listingID, subscriberID)
}

// Observer receives dispatcher output. Nil callbacks are skipped. A
// non-empty SubscriberID restricts notifications to that subscriber.
// Callbacks run on the dispatching goroutine and must not block.
type Observer struct {
	SubscriberID     string
	OnNotification   func(Notification)
	OnPresenceChange func(count int)
	OnVisitExpired   func(domain.VisitEnded)
	OnMessage        func(domain.MessageEvent)
}
