package domain

// PreferenceProfile is one subscriber's saved search. Empty sets and nil
// bounds are wildcards. A disabled profile never matches.
type PreferenceProfile struct {
	UserID        string   `json:"user_id" dynamodbav:"user_id" yaml:"user_id"`
	IsEnabled     bool     `json:"is_enabled" dynamodbav:"is_enabled" yaml:"is_enabled"`
	PropertyTypes []string `json:"property_types,omitempty" dynamodbav:"property_types,omitempty" yaml:"property_types"`
	ListingTypes  []string `json:"listing_types,omitempty" dynamodbav:"listing_types,omitempty" yaml:"listing_types"`
	Regions       []string `json:"regions,omitempty" dynamodbav:"regions,omitempty" yaml:"regions"`
	MinPrice      *float64 `json:"min_price,omitempty" dynamodbav:"min_price,omitempty" yaml:"min_price"`
	MaxPrice      *float64 `json:"max_price,omitempty" dynamodbav:"max_price,omitempty" yaml:"max_price"`
	MinBedrooms   *int     `json:"min_bedrooms,omitempty" dynamodbav:"min_bedrooms,omitempty" yaml:"min_bedrooms"`
	MaxBedrooms   *int     `json:"max_bedrooms,omitempty" dynamodbav:"max_bedrooms,omitempty" yaml:"max_bedrooms"`
	MinBathrooms  *int     `json:"min_bathrooms,omitempty" dynamodbav:"min_bathrooms,omitempty" yaml:"min_bathrooms"`
	MaxBathrooms  *int     `json:"max_bathrooms,omitempty" dynamodbav:"max_bathrooms,omitempty" yaml:"max_bathrooms"`
}

// Clone returns a deep copy so callers can hand profiles across goroutines.
func (p PreferenceProfile) Clone() PreferenceProfile {
	c := p
	c.PropertyTypes = append([]string(nil), p.PropertyTypes...)
	c.ListingTypes = append([]string(nil), p.ListingTypes...)
	c.Regions = append([]string(nil), p.Regions...)
	c.MinPrice = cloneFloat(p.MinPrice)
	c.MaxPrice = cloneFloat(p.MaxPrice)
	c.MinBedrooms = cloneInt(p.MinBedrooms)
	c.MaxBedrooms = cloneInt(p.MaxBedrooms)
	c.MinBathrooms = cloneInt(p.MinBathrooms)
	c.MaxBathrooms = cloneInt(p.MaxBathrooms)
	return c
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
