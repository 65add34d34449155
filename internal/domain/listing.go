package domain

import "time"

// ListingEvent is a newly created listing as seen by the matcher. Absent
// numeric fields are nil; absent categorical fields are empty strings.
type ListingEvent struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	PropertyType string    `json:"property_type,omitempty"`
	ListingType  string    `json:"listing_type,omitempty"`
	Region       string    `json:"region,omitempty"`
	Price        *float64  `json:"price,omitempty"`
	Bedrooms     *int      `json:"bedrooms,omitempty"`
	Bathrooms    *int      `json:"bathrooms,omitempty"`
	Location     string    `json:"location,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// MessageEvent is a chat message row. The core only relays it.
type MessageEvent struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
}
