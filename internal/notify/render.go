package notify

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/osteele/liquid"

	"github.com/ignite/listing-live/internal/domain"
)

// Templates are the liquid sources for notification text. Bindings:
// listing.{id,title,property_type,listing_type,region,price,bedrooms,
// bathrooms,location} and subscriber.id.
type Templates struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	TargetURL   string `yaml:"target_url"`
}

// DefaultTemplates is used for any empty field of a Templates value.
var DefaultTemplates = Templates{
	Title:       `New {{ listing.property_type | default: "listing" | titlecase }} in {{ listing.region | default: "your area" | titlecase }}`,
	Description: `{{ listing.title }}{% if listing.price %} · {{ listing.price | currency }}{% endif %}`,
	TargetURL:   `/listings/{{ listing.id }}`,
}

// Renderer holds compiled notification templates.
type Renderer struct {
	title       *liquid.Template
	description *liquid.Template
	targetURL   *liquid.Template
}

// NewRenderer compiles t, filling empty fields from DefaultTemplates.
func NewRenderer(t Templates) (*Renderer, error) {
	engine := liquid.NewEngine()
	registerFilters(engine)

	if t.Title == "" {
		t.Title = DefaultTemplates.Title
	}
	if t.Description == "" {
		t.Description = DefaultTemplates.Description
	}
	if t.TargetURL == "" {
		t.TargetURL = DefaultTemplates.TargetURL
	}

	r := &Renderer{}
	for _, p := range []struct {
		name string
		src  string
		dst  **liquid.Template
	}{
		{"title", t.Title, &r.title},
		{"description", t.Description, &r.description},
		{"target_url", t.TargetURL, &r.targetURL},
	} {
		tpl, err := engine.ParseString(p.src)
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", p.name, err)
		}
		*p.dst = tpl
	}
	return r, nil
}

// MustDefaultRenderer compiles DefaultTemplates.
func MustDefaultRenderer() *Renderer {
	r, err := NewRenderer(Templates{})
	if err != nil {
		panic(err)
	}
	return r
}

// Render produces the text fields of a notification.
func (r *Renderer) Render(l domain.ListingEvent, subscriberID string) (title, description, targetURL string, err error) {
	bindings := map[string]any{
		"listing":    listingBindings(l),
		"subscriber": map[string]any{"id": subscriberID},
	}
	if title, err = r.title.RenderString(bindings); err != nil {
		return "", "", "", fmt.Errorf("render title: %w", err)
	}
	if description, err = r.description.RenderString(bindings); err != nil {
		return "", "", "", fmt.Errorf("render description: %w", err)
	}
	if targetURL, err = r.targetURL.RenderString(bindings); err != nil {
		return "", "", "", fmt.Errorf("render target url: %w", err)
	}
	return strings.TrimSpace(title), strings.TrimSpace(description), strings.TrimSpace(targetURL), nil
}

func listingBindings(l domain.ListingEvent) map[string]any {
	m := map[string]any{
		"id":            l.ID,
		"title":         l.Title,
		"property_type": l.PropertyType,
		"listing_type":  l.ListingType,
		"region":        l.Region,
		"location":      l.Location,
		"price":         nil,
		"bedrooms":      nil,
		"bathrooms":     nil,
	}
	if l.Price != nil {
		m["price"] = *l.Price
	}
	if l.Bedrooms != nil {
		m["bedrooms"] = *l.Bedrooms
	}
	if l.Bathrooms != nil {
		m["bathrooms"] = *l.Bathrooms
	}
	return m
}

func registerFilters(engine *liquid.Engine) {
	// {{ region | default: "your area" }}
	engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})

	// {{ property_type | titlecase }}
	engine.RegisterFilter("titlecase", func(s string) string {
		words := strings.Fields(strings.ToLower(strings.ReplaceAll(s, "_", " ")))
		for i, w := range words {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
		return strings.Join(words, " ")
	})

	// {{ price | currency }}
	engine.RegisterFilter("currency", func(value interface{}) string {
		var f float64
		switch v := value.(type) {
		case float64:
			f = v
		case int:
			f = float64(v)
		case int64:
			f = float64(v)
		case string:
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return v
			}
			f = parsed
		default:
			return fmt.Sprintf("%v", value)
		}
		return formatCurrency(f)
	})
}

// formatCurrency renders 1500 as "$1,500" and 1234.5 as "$1,234.50".
func formatCurrency(f float64) string {
	neg := f < 0
	f = math.Abs(f)
	whole := int64(f)
	cents := int64(math.Round((f - float64(whole)) * 100))
	if cents == 100 {
		whole++
		cents = 0
	}

	digits := strconv.FormatInt(whole, 10)
	var b strings.Builder
	for i, c := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	out := "$" + b.String()
	if cents > 0 {
		out += fmt.Sprintf(".%02d", cents)
	}
	if neg {
		out = "-" + out
	}
	return out
}
