package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/listing-live/internal/domain"
)

func TestRenderer_Defaults(t *testing.T) {
	r := MustDefaultRenderer()

	title, desc, url, err := r.Render(domain.ListingEvent{ID: "x9", Title: "Cottage"}, "A")
	require.NoError(t, err)
	assert.Equal(t, "New Listing in Your Area", title)
	assert.Equal(t, "Cottage", desc)
	assert.Equal(t, "/listings/x9", url)
}

func TestRenderer_Custom(t *testing.T) {
	r, err := NewRenderer(Templates{
		Title:     `{{ listing.bedrooms }}-bed {{ listing.listing_type | titlecase }}`,
		TargetURL: `https://example.test/l/{{ listing.id }}?u={{ subscriber.id }}`,
	})
	require.NoError(t, err)

	beds := 3
	title, desc, url, err := r.Render(domain.ListingEvent{ID: "l1", Title: "Villa", ListingType: "for_sale", Bedrooms: &beds, Price: price(1234.5)}, "B")
	require.NoError(t, err)
	assert.Equal(t, "3-bed For Sale", title)
	assert.Equal(t, "Villa · $1,234.50", desc)
	assert.Equal(t, "https://example.test/l/l1?u=B", url)
}

func TestNewRenderer_ParseError(t *testing.T) {
	_, err := NewRenderer(Templates{Title: "{% if listing.price %}unterminated"})
	assert.Error(t, err)
}

func TestFormatCurrency(t *testing.T) {
	assert.Equal(t, "$0", formatCurrency(0))
	assert.Equal(t, "$999", formatCurrency(999))
	assert.Equal(t, "$1,500", formatCurrency(1500))
	assert.Equal(t, "$1,234,567.89", formatCurrency(1234567.89))
	assert.Equal(t, "-$12.50", formatCurrency(-12.5))
}
