package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/listing-live/internal/domain"
)

func ptrF(v float64) *float64 { return &v }
func ptrI(v int) *int         { return &v }

func listing() domain.ListingEvent {
	return domain.ListingEvent{
		ID:           "l1",
		Title:        "Bright flat",
		PropertyType: "apartment",
		ListingType:  "rent",
		Region:       "north",
		Price:        ptrF(1500),
		Bedrooms:     ptrI(2),
		Bathrooms:    ptrI(1),
	}
}

func TestMatch_PriceRange(t *testing.T) {
	a := domain.PreferenceProfile{UserID: "A", IsEnabled: true, MinPrice: ptrF(1000), MaxPrice: ptrF(2000)}
	b := domain.PreferenceProfile{UserID: "B", IsEnabled: true, MaxPrice: ptrF(1200)}

	got := Match(listing(), []domain.PreferenceProfile{a, b})
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].UserID)
}

func TestMatch_RegionAndPriceCap(t *testing.T) {
	profile := domain.PreferenceProfile{
		UserID:    "buyer",
		IsEnabled: true,
		Regions:   []string{"Greater Accra"},
		MaxPrice:  ptrF(500000),
	}

	tests := []struct {
		name   string
		region string
		price  *float64
		want   bool
	}{
		{"under cap", "Greater Accra", ptrF(450000), true},
		{"at cap", "Greater Accra", ptrF(500000), true},
		{"over cap", "Greater Accra", ptrF(600000), false},
		{"other region", "Ashanti", ptrF(450000), false},
		{"region case and spacing", " greater accra ", ptrF(450000), true},
		{"price missing", "Greater Accra", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := domain.ListingEvent{ID: "gh-1", Region: tt.region, Price: tt.price}
			got := Match(l, []domain.PreferenceProfile{profile})
			if tt.want {
				require.Len(t, got, 1)
				assert.Equal(t, "buyer", got[0].UserID)
			} else {
				assert.Empty(t, got)
			}
		})
	}
}

func TestMatch_EmptyProfileIsWildcard(t *testing.T) {
	c := domain.PreferenceProfile{UserID: "C", IsEnabled: true}

	got := Match(domain.ListingEvent{ID: "bare"}, []domain.PreferenceProfile{c})
	require.Len(t, got, 1)

	got = Match(listing(), []domain.PreferenceProfile{c})
	require.Len(t, got, 1)
}

func TestMatch_DisabledNeverMatches(t *testing.T) {
	p := domain.PreferenceProfile{UserID: "D", IsEnabled: false}
	assert.Empty(t, Match(listing(), []domain.PreferenceProfile{p}))

	m := New(IncludeMissing)
	assert.False(t, m.Matches(listing(), p))
}

func TestMatch_SetDimensions(t *testing.T) {
	tests := []struct {
		name    string
		profile domain.PreferenceProfile
		want    bool
	}{
		{"property type member", domain.PreferenceProfile{IsEnabled: true, PropertyTypes: []string{"house", "apartment"}}, true},
		{"property type case-insensitive", domain.PreferenceProfile{IsEnabled: true, PropertyTypes: []string{" Apartment "}}, true},
		{"property type miss", domain.PreferenceProfile{IsEnabled: true, PropertyTypes: []string{"house"}}, false},
		{"listing type miss", domain.PreferenceProfile{IsEnabled: true, ListingTypes: []string{"sale"}}, false},
		{"region member", domain.PreferenceProfile{IsEnabled: true, Regions: []string{"north"}}, true},
		{"region miss", domain.PreferenceProfile{IsEnabled: true, Regions: []string{"south"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, New(ExcludeMissing).Matches(listing(), tt.profile))
		})
	}
}

func TestMatch_RangeBoundsInclusive(t *testing.T) {
	p := domain.PreferenceProfile{
		IsEnabled:    true,
		MinPrice:     ptrF(1500),
		MaxPrice:     ptrF(1500),
		MinBedrooms:  ptrI(2),
		MaxBedrooms:  ptrI(2),
		MinBathrooms: ptrI(1),
		MaxBathrooms: ptrI(1),
	}
	assert.True(t, New(ExcludeMissing).Matches(listing(), p))

	p.MinBedrooms = ptrI(3)
	assert.False(t, New(ExcludeMissing).Matches(listing(), p))
}

func TestMatch_MissingFieldPolicy(t *testing.T) {
	l := listing()
	l.Bedrooms = nil
	l.Region = ""

	p := domain.PreferenceProfile{UserID: "E", IsEnabled: true, MinBedrooms: ptrI(2)}
	q := domain.PreferenceProfile{UserID: "F", IsEnabled: true, Regions: []string{"north"}}
	open := domain.PreferenceProfile{UserID: "G", IsEnabled: true, MaxPrice: ptrF(2000)}

	excl := New(ExcludeMissing).Match(l, []domain.PreferenceProfile{p, q, open})
	require.Len(t, excl, 1)
	assert.Equal(t, "G", excl[0].UserID)

	incl := New(IncludeMissing).Match(l, []domain.PreferenceProfile{p, q, open})
	assert.Len(t, incl, 3)
}

func TestExplain(t *testing.T) {
	p := domain.PreferenceProfile{
		IsEnabled:     true,
		PropertyTypes: []string{"house"},
		MaxPrice:      ptrF(1000),
	}
	got := New(ExcludeMissing).Explain(listing(), p)
	require.Len(t, got, 2)
	assert.Equal(t, DimPropertyType, got[0].Dimension)
	assert.Equal(t, DimPrice, got[1].Dimension)

	assert.Empty(t, New(ExcludeMissing).Explain(listing(), domain.PreferenceProfile{IsEnabled: true}))
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, ExcludeMissing, p)

	p, err = ParsePolicy("INCLUDE")
	require.NoError(t, err)
	assert.Equal(t, IncludeMissing, p)

	_, err = ParsePolicy("sometimes")
	assert.Error(t, err)
}
