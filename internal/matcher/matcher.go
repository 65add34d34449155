// Package matcher decides which subscribers' saved searches a new listing
// satisfies. Matching is a pure function of its inputs: no I/O, no clock.
package matcher

import (
	"fmt"
	"strings"

	"github.com/ignite/listing-live/internal/domain"
)

// MissingFieldPolicy decides how a listing with an absent field is treated
// by a profile that constrains that field.
type MissingFieldPolicy string

const (
	// ExcludeMissing treats an absent field as failing any set constraint.
	ExcludeMissing MissingFieldPolicy = "exclude"
	// IncludeMissing treats an absent field as satisfying the constraint.
	IncludeMissing MissingFieldPolicy = "include"
)

// ParsePolicy parses a config value. Empty means ExcludeMissing.
func ParsePolicy(s string) (MissingFieldPolicy, error) {
	switch MissingFieldPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", ExcludeMissing:
		return ExcludeMissing, nil
	case IncludeMissing:
		return IncludeMissing, nil
	default:
		return "", fmt.Errorf("unknown missing field policy %q", s)
	}
}

// Dimension names one constrained attribute of a profile.
type Dimension string

const (
	DimEnabled      Dimension = "enabled"
	DimPropertyType Dimension = "property_type"
	DimListingType  Dimension = "listing_type"
	DimRegion       Dimension = "region"
	DimPrice        Dimension = "price"
	DimBedrooms     Dimension = "bedrooms"
	DimBathrooms    Dimension = "bathrooms"
)

// Mismatch explains why a profile rejected a listing.
type Mismatch struct {
	Dimension Dimension `json:"dimension"`
	Reason    string    `json:"reason"`
}

// Matcher evaluates listings against preference profiles.
type Matcher struct {
	Missing MissingFieldPolicy
}

// New returns a Matcher using the given policy.
func New(policy MissingFieldPolicy) Matcher {
	if policy == "" {
		policy = ExcludeMissing
	}
	return Matcher{Missing: policy}
}

// Match returns the profiles the listing satisfies under ExcludeMissing.
func Match(listing domain.ListingEvent, profiles []domain.PreferenceProfile) []domain.PreferenceProfile {
	return New(ExcludeMissing).Match(listing, profiles)
}

// Match returns the subset of profiles the listing satisfies, in input order.
func (m Matcher) Match(listing domain.ListingEvent, profiles []domain.PreferenceProfile) []domain.PreferenceProfile {
	var matched []domain.PreferenceProfile
	for _, p := range profiles {
		if m.Matches(listing, p) {
			matched = append(matched, p)
		}
	}
	return matched
}

// Matches reports whether one profile accepts the listing.
func (m Matcher) Matches(listing domain.ListingEvent, p domain.PreferenceProfile) bool {
	return len(m.evaluate(listing, p, true)) == 0
}

// Explain lists every dimension on which the profile rejects the listing.
// An empty result means the listing matches.
func (m Matcher) Explain(listing domain.ListingEvent, p domain.PreferenceProfile) []Mismatch {
	return m.evaluate(listing, p, false)
}

func (m Matcher) evaluate(l domain.ListingEvent, p domain.PreferenceProfile, firstOnly bool) []Mismatch {
	var out []Mismatch
	add := func(d Dimension, reason string) bool {
		out = append(out, Mismatch{Dimension: d, Reason: reason})
		return firstOnly
	}

	if !p.IsEnabled {
		add(DimEnabled, "profile disabled")
		return out
	}

	if reason, ok := m.inSet(l.PropertyType, p.PropertyTypes); !ok && add(DimPropertyType, reason) {
		return out
	}
	if reason, ok := m.inSet(l.ListingType, p.ListingTypes); !ok && add(DimListingType, reason) {
		return out
	}
	if reason, ok := m.inSet(l.Region, p.Regions); !ok && add(DimRegion, reason) {
		return out
	}
	if reason, ok := inRange(m.Missing, l.Price, p.MinPrice, p.MaxPrice); !ok && add(DimPrice, reason) {
		return out
	}
	if reason, ok := inRange(m.Missing, l.Bedrooms, p.MinBedrooms, p.MaxBedrooms); !ok && add(DimBedrooms, reason) {
		return out
	}
	if reason, ok := inRange(m.Missing, l.Bathrooms, p.MinBathrooms, p.MaxBathrooms); !ok && add(DimBathrooms, reason) {
		return out
	}
	return out
}

func (m Matcher) inSet(value string, allowed []string) (string, bool) {
	if len(allowed) == 0 {
		return "", true
	}
	value = normalize(value)
	if value == "" {
		if m.Missing == IncludeMissing {
			return "", true
		}
		return "listing field missing", false
	}
	for _, a := range allowed {
		if normalize(a) == value {
			return "", true
		}
	}
	return fmt.Sprintf("%q not in %v", value, allowed), false
}

type number interface {
	~int | ~float64
}

func inRange[T number](policy MissingFieldPolicy, value, lo, hi *T) (string, bool) {
	if lo == nil && hi == nil {
		return "", true
	}
	if value == nil {
		if policy == IncludeMissing {
			return "", true
		}
		return "listing field missing", false
	}
	if lo != nil && *value < *lo {
		return fmt.Sprintf("%v below minimum %v", *value, *lo), false
	}
	if hi != nil && *value > *hi {
		return fmt.Sprintf("%v above maximum %v", *value, *hi), false
	}
	return "", true
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
