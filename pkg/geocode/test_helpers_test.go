package geocode

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sells-group/geocluster/internal/geo"
	"github.com/sells-group/geocluster/internal/resilience"
)

// newTestLimiter creates a rate limiter that effectively does not limit for tests.
func newTestLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Inf, 1)
}

// noWaitRetry is the default policy with sleeps recorded instead of waited.
func noWaitRetry(delays *[]time.Duration) resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.Sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
	return cfg
}

// fakeClient scripts probe and geocode outcomes and counts calls.
type fakeClient struct {
	mu sync.Mutex

	probeErr error
	// results are keyed by address; missing addresses return no match.
	results map[string]geo.Coordinate
	// geocodeErrs are returned in order before falling back to results.
	geocodeErrs []error

	probeCalls   int
	geocodeCalls int
	addresses    []string
}

func (f *fakeClient) Probe(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probeCalls++
	return f.probeErr
}

func (f *fakeClient) Geocode(_ context.Context, address string) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.geocodeCalls++
	f.addresses = append(f.addresses, address)
	if len(f.geocodeErrs) > 0 {
		err := f.geocodeErrs[0]
		f.geocodeErrs = f.geocodeErrs[1:]
		return nil, err
	}
	c, ok := f.results[address]
	if !ok {
		return &Result{Matched: false}, nil
	}
	return &Result{Coordinate: c, Matched: true}, nil
}

func (f *fakeClient) calls() (probe, geocode int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probeCalls, f.geocodeCalls
}

// failingCache returns errors from every operation.
type failingCache struct{ err error }

func (c failingCache) Get(context.Context, string) (geo.Coordinate, bool, error) {
	return geo.Coordinate{}, false, c.err
}
func (c failingCache) Put(context.Context, string, geo.Coordinate) error { return c.err }
func (c failingCache) Clear(context.Context) error                      { return c.err }
func (c failingCache) Len(context.Context) (int, error)                 { return 0, c.err }
