package domain

import "time"

// Topic names a logical event stream. Topic names match the backing table.
type Topic string

const (
	TopicVisits   Topic = "visits"
	TopicListings Topic = "listings"
	TopicMessages Topic = "messages"
)

// Topics lists every topic the adapter knows about.
var Topics = []Topic{TopicVisits, TopicListings, TopicMessages}

// EventKind tags the variants of Event.
type EventKind string

const (
	KindVisitCreated   EventKind = "visit_created"
	KindVisitEnded     EventKind = "visit_ended"
	KindListingCreated EventKind = "listing_created"
	KindMessageCreated EventKind = "message_created"
)

// Event is the closed set of events flowing through the core:
// VisitCreated, VisitEnded, ListingCreated and MessageCreated.
type Event interface {
	Kind() EventKind
	Topic() Topic
	Validate() error
}

// VisitCreated is emitted when a visit row is inserted.
type VisitCreated struct {
	Visit VisitRecord `json:"visit"`
}

func (VisitCreated) Kind() EventKind { return KindVisitCreated }
func (VisitCreated) Topic() Topic    { return TopicVisits }

func (e VisitCreated) Validate() error {
	switch {
	case e.Visit.ID == "":
		return missing(TopicVisits, "id")
	case e.Visit.SessionID == "":
		return missing(TopicVisits, "session_id")
	case e.Visit.CreatedAt.IsZero():
		return missing(TopicVisits, "created_at")
	}
	return nil
}

// VisitEnded is emitted when a visit's ended_at is set. Synthetic is true
// when the core generated it for a visit that aged out of the horizon.
type VisitEnded struct {
	VisitID   string    `json:"visit_id"`
	SessionID string    `json:"session_id,omitempty"`
	EndedAt   time.Time `json:"ended_at"`
	Synthetic bool      `json:"synthetic,omitempty"`
}

func (VisitEnded) Kind() EventKind { return KindVisitEnded }
func (VisitEnded) Topic() Topic    { return TopicVisits }

func (e VisitEnded) Validate() error {
	switch {
	case e.VisitID == "":
		return missing(TopicVisits, "id")
	case e.EndedAt.IsZero():
		return missing(TopicVisits, "ended_at")
	}
	return nil
}

// ListingCreated is emitted when a listing row is inserted.
type ListingCreated struct {
	Listing ListingEvent `json:"listing"`
}

func (ListingCreated) Kind() EventKind { return KindListingCreated }
func (ListingCreated) Topic() Topic    { return TopicListings }

func (e ListingCreated) Validate() error {
	if e.Listing.ID == "" {
		return missing(TopicListings, "id")
	}
	if e.Listing.Price != nil && *e.Listing.Price < 0 {
		return &MalformedEventError{Topic: TopicListings, Field: "price", Reason: "negative"}
	}
	return nil
}

// MessageCreated is emitted when a chat message row is inserted.
type MessageCreated struct {
	Message MessageEvent `json:"message"`
}

func (MessageCreated) Kind() EventKind { return KindMessageCreated }
func (MessageCreated) Topic() Topic    { return TopicMessages }

func (e MessageCreated) Validate() error {
	switch {
	case e.Message.ID == "":
		return missing(TopicMessages, "id")
	case e.Message.ConversationID == "":
		return missing(TopicMessages, "conversation_id")
	}
	return nil
}
