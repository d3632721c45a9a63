package models

// Route is an ordered origin-destination airport pair, e.g. MNL-CEB.
type Route struct {
	ID          string `json:"id"`
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	Class       string `json:"class"`
}

// RouteClass groups routes for fallback pricing.
type RouteClass struct {
	Name         string  `json:"name"`
	BaselineFare float64 `json:"baseline_fare"`
}

// Price units accepted by a source schema.
const (
	PriceUnitMajor = "major"
	PriceUnitMinor = "minor"
)

// SourceSchema describes how a scraper source lays out its records.
// Fields maps canonical field names (route_id, origin, destination, departure_date,
// observed_at, price, currency, airline, cabin_class, fare_type, seats_remaining)
// to source keys; dotted keys address nested objects.
type SourceSchema struct {
	ID              string            `json:"id"`
	Active          bool              `json:"active"`
	Fields          map[string]string `json:"fields"`
	TimeLayouts     []string          `json:"time_layouts"`
	Timezone        string            `json:"timezone"`
	PriceUnit       string            `json:"price_unit"`
	DefaultCurrency string            `json:"default_currency"`
}

// Field returns the source key for a canonical field.
func (s SourceSchema) Field(canonical string) string {
	if k, ok := s.Fields[canonical]; ok && k != "" {
		return k
	}
	return canonical
}
