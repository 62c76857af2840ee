package geocode

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geocluster/internal/geo"
)

// LocationQuery identifies a place to geocode. Country and PostalCode are
// optional and empty when absent.
type LocationQuery struct {
	City       string `json:"city"`
	Country    string `json:"country,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
}

// NewLocationQuery trims each field and rejects an empty city.
func NewLocationQuery(city, country, postalCode string) (LocationQuery, error) {
	q := LocationQuery{
		City:       strings.TrimSpace(city),
		Country:    strings.TrimSpace(country),
		PostalCode: strings.TrimSpace(postalCode),
	}
	if q.City == "" {
		return LocationQuery{}, eris.New("geocode: city is required")
	}
	return q, nil
}

// Key is the cache identity of q: "city,country,postal_code". Values are
// case-sensitive and only trimmed.
func (q LocationQuery) Key() string {
	return strings.TrimSpace(q.City) + "," + strings.TrimSpace(q.Country) + "," + strings.TrimSpace(q.PostalCode)
}

// Address builds the free-text address sent to the geocoding service:
// city, postal code and country joined by ", " with empty parts omitted.
func (q LocationQuery) Address() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{q.City, q.PostalCode, q.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Source records where a resolution came from or why it failed.
type Source string

// Resolution outcomes. The string values appear in exported datasets.
const (
	SourceCache    Source = "Cache"
	SourceAPI      Source = "API"
	SourceNotFound Source = "Not Found"
	SourceError    Source = "Error"
	SourceAPIError Source = "API Error"
)

// Resolved reports whether the source carries a coordinate.
func (s Source) Resolved() bool {
	return s == SourceCache || s == SourceAPI
}

// Sources lists every outcome in reporting order.
func Sources() []Source {
	return []Source{SourceCache, SourceAPI, SourceNotFound, SourceError, SourceAPIError}
}

// ParseSource maps an exported Source column value back to a Source.
func ParseSource(s string) (Source, bool) {
	switch src := Source(strings.TrimSpace(s)); src {
	case SourceCache, SourceAPI, SourceNotFound, SourceError, SourceAPIError:
		return src, true
	default:
		return "", false
	}
}

// Record is the outcome of resolving one query. Coordinate is nil unless
// Source is Cache or API.
type Record struct {
	Query      LocationQuery   `json:"query"`
	Coordinate *geo.Coordinate `json:"coordinate,omitempty"`
	Source     Source          `json:"source"`
}
