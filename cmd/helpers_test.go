package main

import (
	"context"
	"time"

	"github.com/sells-group/geocluster/internal/geo"
	"github.com/sells-group/geocluster/internal/resilience"
	"github.com/sells-group/geocluster/pkg/geocode"
)

// stubClient answers from a fixed address table.
type stubClient struct {
	probeErr error
	coords   map[string]geo.Coordinate
}

func (s *stubClient) Probe(context.Context) error { return s.probeErr }

func (s *stubClient) Geocode(_ context.Context, address string) (*geocode.Result, error) {
	c, ok := s.coords[address]
	if !ok {
		return &geocode.Result{}, nil
	}
	return &geocode.Result{Coordinate: c, Formatted: address, Matched: true}, nil
}

var testCoords = map[string]geo.Coordinate{
	"Warsaw A": {Latitude: 52.2297, Longitude: 21.0122},
	"Warsaw B": {Latitude: 52.2330, Longitude: 21.0170},
	"Warsaw C": {Latitude: 52.2260, Longitude: 21.0080},
	"Lisbon":   {Latitude: 38.7223, Longitude: -9.1393},
}

func newTestResolver(client geocode.Client, cache geocode.Cache) *geocode.Resolver {
	retry := resilience.DefaultRetryConfig()
	retry.Sleep = func(context.Context, time.Duration) error { return nil }
	return geocode.NewResolver(client, cache, geocode.WithRetry(retry))
}
