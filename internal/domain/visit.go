package domain

import (
	"strings"
	"time"
)

// DeviceType classifies the client that produced a visit.
type DeviceType string

const (
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
	DeviceDesktop DeviceType = "desktop"
)

// ParseDeviceType maps a stored value onto a DeviceType. Unknown or empty
// values are treated as desktop.
func ParseDeviceType(s string) DeviceType {
	switch DeviceType(strings.ToLower(strings.TrimSpace(s))) {
	case DeviceMobile:
		return DeviceMobile
	case DeviceTablet:
		return DeviceTablet
	default:
		return DeviceDesktop
	}
}

// TrafficSource is the attributed origin of a visit.
type TrafficSource string

const (
	SourceDirect    TrafficSource = "direct"
	SourceGoogle    TrafficSource = "google"
	SourceFacebook  TrafficSource = "facebook"
	SourceTwitter   TrafficSource = "twitter"
	SourceLinkedIn  TrafficSource = "linkedin"
	SourceInstagram TrafficSource = "instagram"
	SourceReferral  TrafficSource = "referral"
)

var knownSources = map[TrafficSource]bool{
	SourceDirect: true, SourceGoogle: true, SourceFacebook: true, SourceTwitter: true,
	SourceLinkedIn: true, SourceInstagram: true, SourceReferral: true,
}

// ParseTrafficSource maps a stored value onto a TrafficSource. Empty means
// direct; anything unrecognised is a referral.
func ParseTrafficSource(s string) TrafficSource {
	src := TrafficSource(strings.ToLower(strings.TrimSpace(s)))
	if src == "" {
		return SourceDirect
	}
	if knownSources[src] {
		return src
	}
	return SourceReferral
}

// Session is one browser/tab lifetime, identified by an opaque token.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// VisitRecord is one page visit belonging to a session. EndedAt is set at
// most once.
type VisitRecord struct {
	ID         string        `json:"id"`
	SessionID  string        `json:"session_id"`
	Path       string        `json:"path"`
	DeviceType DeviceType    `json:"device_type"`
	Source     TrafficSource `json:"source"`
	CreatedAt  time.Time     `json:"created_at"`
	EndedAt    *time.Time    `json:"ended_at,omitempty"`
}

// IsOpen reports whether the visit has not been ended.
func (v VisitRecord) IsOpen() bool {
	return v.EndedAt == nil
}

// WithinHorizon reports whether the visit was created no earlier than
// now-horizon. Visits outside the horizon are stale.
func (v VisitRecord) WithinHorizon(now time.Time, horizon time.Duration) bool {
	return !v.CreatedAt.Before(now.Add(-horizon))
}

// Active reports whether the visit counts toward presence at now.
func (v VisitRecord) Active(now time.Time, horizon time.Duration) bool {
	return v.IsOpen() && v.WithinHorizon(now, horizon)
}
