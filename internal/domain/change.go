package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ChangeType is the row operation carried by a change envelope.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// Change is the row-change envelope published by NOTIFY triggers, Redis
// publishers and the SQS relay.
type Change struct {
	Type   ChangeType      `json:"type"`
	Table  string          `json:"table"`
	Record json.RawMessage `json:"record"`
}

// VisitRow is the wire shape of a visits row.
type VisitRow struct {
	ID         string   `json:"id"`
	SessionID  string   `json:"session_id"`
	Path       string   `json:"path"`
	DeviceType string   `json:"device_type"`
	Source     string   `json:"source"`
	CreatedAt  RowTime  `json:"created_at"`
	EndedAt    *RowTime `json:"ended_at"`
}

// Record converts the row into a VisitRecord.
func (r VisitRow) Record() VisitRecord {
	v := VisitRecord{
		ID:         r.ID,
		SessionID:  r.SessionID,
		Path:       r.Path,
		DeviceType: ParseDeviceType(r.DeviceType),
		Source:     ParseTrafficSource(r.Source),
		CreatedAt:  r.CreatedAt.Time,
	}
	if r.EndedAt != nil && !r.EndedAt.IsZero() {
		t := r.EndedAt.Time
		v.EndedAt = &t
	}
	return v
}

// ListingRow is the wire shape of a listings row.
type ListingRow struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	PropertyType string   `json:"property_type"`
	ListingType  string   `json:"listing_type"`
	Region       string   `json:"region"`
	Price        *float64 `json:"price"`
	Bedrooms     *int     `json:"bedrooms"`
	Bathrooms    *int     `json:"bathrooms"`
	Location     string   `json:"location"`
	CreatedAt    RowTime  `json:"created_at"`
}

// Listing converts the row into a ListingEvent.
func (r ListingRow) Listing() ListingEvent {
	return ListingEvent{
		ID:           r.ID,
		Title:        r.Title,
		PropertyType: r.PropertyType,
		ListingType:  r.ListingType,
		Region:       r.Region,
		Price:        r.Price,
		Bedrooms:     r.Bedrooms,
		Bathrooms:    r.Bathrooms,
		Location:     r.Location,
		CreatedAt:    r.CreatedAt.Time,
	}
}

// MessageRow is the wire shape of a messages row.
type MessageRow struct {
	ID             string  `json:"id"`
	ConversationID string  `json:"conversation_id"`
	SenderID       string  `json:"sender_id"`
	Body           string  `json:"content"`
	CreatedAt      RowTime `json:"created_at"`
}

// DecodeChange turns a change envelope received on topic into a validated
// Event. It returns (nil, nil) for changes the core does not act on, such as
// a visit update that does not set ended_at, or a delete.
func DecodeChange(topic Topic, payload []byte) (Event, error) {
	var c Change
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, &MalformedEventError{Topic: topic, Reason: "invalid envelope: " + err.Error()}
	}
	if c.Table != "" && Topic(c.Table) != topic {
		return nil, &MalformedEventError{Topic: topic, Field: "table", Reason: fmt.Sprintf("unexpected table %q", c.Table)}
	}
	if len(c.Record) == 0 || string(c.Record) == "null" {
		return nil, missing(topic, "record")
	}

	ev, err := decodeRecord(topic, ChangeType(strings.ToUpper(string(c.Type))), c.Record)
	if err != nil || ev == nil {
		return nil, err
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeRecord(topic Topic, typ ChangeType, record json.RawMessage) (Event, error) {
	switch topic {
	case TopicVisits:
		var row VisitRow
		if err := json.Unmarshal(record, &row); err != nil {
			return nil, &MalformedEventError{Topic: topic, Reason: err.Error()}
		}
		switch typ {
		case ChangeInsert:
			return VisitCreated{Visit: row.Record()}, nil
		case ChangeUpdate:
			if row.EndedAt == nil || row.EndedAt.IsZero() {
				return nil, nil
			}
			return VisitEnded{VisitID: row.ID, SessionID: row.SessionID, EndedAt: row.EndedAt.Time}, nil
		}
	case TopicListings:
		if typ != ChangeInsert {
			return nil, nil
		}
		var row ListingRow
		if err := json.Unmarshal(record, &row); err != nil {
			return nil, &MalformedEventError{Topic: topic, Reason: err.Error()}
		}
		return ListingCreated{Listing: row.Listing()}, nil
	case TopicMessages:
		if typ != ChangeInsert {
			return nil, nil
		}
		var row MessageRow
		if err := json.Unmarshal(record, &row); err != nil {
			return nil, &MalformedEventError{Topic: topic, Reason: err.Error()}
		}
		return MessageCreated{Message: MessageEvent{
			ID:             row.ID,
			ConversationID: row.ConversationID,
			SenderID:       row.SenderID,
			Body:           row.Body,
			CreatedAt:      row.CreatedAt.Time,
		}}, nil
	default:
		return nil, &MalformedEventError{Topic: topic, Reason: "unknown topic"}
	}
	if typ == ChangeDelete {
		return nil, nil
	}
	return nil, &MalformedEventError{Topic: topic, Field: "type", Reason: fmt.Sprintf("unsupported change %q", typ)}
}

// EncodeChange builds the envelope for an event. Publishers use it so every
// transport carries the same wire format.
func EncodeChange(ev Event) ([]byte, error) {
	var (
		typ    = ChangeInsert
		record any
	)
	switch e := ev.(type) {
	case VisitCreated:
		record = visitRow(e.Visit)
	case VisitEnded:
		typ = ChangeUpdate
		ended := RowTime{Time: e.EndedAt}
		record = VisitRow{ID: e.VisitID, SessionID: e.SessionID, EndedAt: &ended}
	case ListingCreated:
		l := e.Listing
		record = ListingRow{
			ID: l.ID, Title: l.Title, PropertyType: l.PropertyType, ListingType: l.ListingType,
			Region: l.Region, Price: l.Price, Bedrooms: l.Bedrooms, Bathrooms: l.Bathrooms,
			Location: l.Location, CreatedAt: RowTime{Time: l.CreatedAt},
		}
	case MessageCreated:
		m := e.Message
		record = MessageRow{ID: m.ID, ConversationID: m.ConversationID, SenderID: m.SenderID, Body: m.Body, CreatedAt: RowTime{Time: m.CreatedAt}}
	default:
		return nil, fmt.Errorf("encode change: unsupported event %T", ev)
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Change{Type: typ, Table: string(ev.Topic()), Record: raw})
}

func visitRow(v VisitRecord) VisitRow {
	row := VisitRow{
		ID:         v.ID,
		SessionID:  v.SessionID,
		Path:       v.Path,
		DeviceType: string(v.DeviceType),
		Source:     string(v.Source),
		CreatedAt:  RowTime{Time: v.CreatedAt},
	}
	if v.EndedAt != nil {
		row.EndedAt = &RowTime{Time: *v.EndedAt}
	}
	return row
}

// RowTime accepts the timestamp layouts Postgres emits through row_to_json
// and realtime relays: RFC 3339, and the zone-less form (read as UTC).
type RowTime struct {
	time.Time
}

var rowTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
}

func (t *RowTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range rowTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}

func (t RowTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}
