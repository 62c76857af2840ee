package geocode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geocluster/internal/geo"
	"github.com/sells-group/geocluster/internal/resilience"
)

var warsaw = geo.Coordinate{Latitude: 52.2297, Longitude: 21.0122}

func mustQuery(t *testing.T, city, country, postal string) LocationQuery {
	t.Helper()
	q, err := NewLocationQuery(city, country, postal)
	require.NoError(t, err)
	return q
}

func TestResolve_APISuccessWritesCache(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{results: map[string]geo.Coordinate{"Warszawa, Poland": warsaw}}
	cache := NewMemoryCache()
	r := NewResolver(client, cache)

	rec := r.Resolve(ctx, mustQuery(t, "Warszawa", "Poland", ""))
	assert.Equal(t, SourceAPI, rec.Source)
	require.NotNil(t, rec.Coordinate)
	assert.Equal(t, warsaw, *rec.Coordinate)

	cached, ok, err := cache.Get(ctx, "Warszawa,Poland,")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, warsaw, cached)
}

func TestResolve_RoundTripThroughCache(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{results: map[string]geo.Coordinate{"Warszawa": warsaw}}
	r := NewResolver(client, NewMemoryCache())
	q := mustQuery(t, "Warszawa", "", "")

	first := r.Resolve(ctx, q)
	second := r.Resolve(ctx, q)

	assert.Equal(t, SourceAPI, first.Source)
	assert.Equal(t, SourceCache, second.Source)
	require.NotNil(t, second.Coordinate)
	assert.Equal(t, *first.Coordinate, *second.Coordinate)

	probes, geocodes := client.calls()
	assert.Equal(t, 2, probes, "cache hits still pay the probe")
	assert.Equal(t, 1, geocodes, "cache hit issues no geocoding request")
}

func TestResolve_CacheHitSkipsGeocode(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()
	require.NoError(t, cache.Put(ctx, "Kraków,Poland,30-001", geo.Coordinate{Latitude: 50.06, Longitude: 19.94}))
	client := &fakeClient{}
	r := NewResolver(client, cache)

	rec := r.Resolve(ctx, mustQuery(t, "Kraków", "Poland", "30-001"))
	assert.Equal(t, SourceCache, rec.Source)
	assert.InDelta(t, 50.06, rec.Coordinate.Latitude, 1e-9)

	probes, geocodes := client.calls()
	assert.Equal(t, 1, probes)
	assert.Equal(t, 0, geocodes)
}

func TestResolve_QuotaExceededProbe(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()
	require.NoError(t, cache.Put(ctx, "Gdańsk,,", geo.Coordinate{Latitude: 54.35, Longitude: 18.65}))
	client := &fakeClient{
		probeErr: &StatusError{StatusCode: 402, Message: "quota exceeded"},
		results:  map[string]geo.Coordinate{"Warszawa": warsaw},
	}
	r := NewResolver(client, cache)

	before, err := cache.Len(ctx)
	require.NoError(t, err)

	rec := r.Resolve(ctx, mustQuery(t, "Warszawa", "", ""))
	assert.Equal(t, SourceAPIError, rec.Source)
	assert.Nil(t, rec.Coordinate)

	// Even a cached query reports the probe failure.
	cachedRec := r.Resolve(ctx, mustQuery(t, "Gdańsk", "", ""))
	assert.Equal(t, SourceAPIError, cachedRec.Source)

	after, err := cache.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after, "cache untouched")

	_, geocodes := client.calls()
	assert.Equal(t, 0, geocodes, "no geocoding after failed probe")
}

func TestResolve_ProbeOnMissOnly(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()
	require.NoError(t, cache.Put(ctx, "Gdańsk,,", geo.Coordinate{Latitude: 54.35, Longitude: 18.65}))
	client := &fakeClient{probeErr: &StatusError{StatusCode: 402}}
	r := NewResolver(client, cache, WithProbeOnMissOnly(true))

	hit := r.Resolve(ctx, mustQuery(t, "Gdańsk", "", ""))
	assert.Equal(t, SourceCache, hit.Source)

	miss := r.Resolve(ctx, mustQuery(t, "Sopot", "", ""))
	assert.Equal(t, SourceAPIError, miss.Source)

	probes, _ := client.calls()
	assert.Equal(t, 1, probes)
}

func TestResolve_NotFound(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()
	client := &fakeClient{}
	r := NewResolver(client, cache)

	rec := r.Resolve(ctx, mustQuery(t, "Atlantis", "", ""))
	assert.Equal(t, SourceNotFound, rec.Source)
	assert.Nil(t, rec.Coordinate)

	n, err := cache.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "no-match is not cached")
}

func TestResolve_TransientRetriedThenSucceeds(t *testing.T) {
	var delays []time.Duration
	unavailable := resilience.NewTransientError(&StatusError{StatusCode: 503}, 503)
	client := &fakeClient{
		geocodeErrs: []error{unavailable, unavailable},
		results:     map[string]geo.Coordinate{"Warszawa": warsaw},
	}
	r := NewResolver(client, NewMemoryCache(), WithRetry(noWaitRetry(&delays)))

	rec := r.Resolve(context.Background(), mustQuery(t, "Warszawa", "", ""))
	assert.Equal(t, SourceAPI, rec.Source)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, delays)

	_, geocodes := client.calls()
	assert.Equal(t, 3, geocodes)
}

func TestResolve_TransientExhausted(t *testing.T) {
	var delays []time.Duration
	timeout := resilience.NewTransientError(errors.New("i/o timeout"), 0)
	client := &fakeClient{geocodeErrs: []error{timeout, timeout, timeout, timeout}}
	cache := NewMemoryCache()
	r := NewResolver(client, cache, WithRetry(noWaitRetry(&delays)))

	rec := r.Resolve(context.Background(), mustQuery(t, "Warszawa", "", ""))
	assert.Equal(t, SourceError, rec.Source)
	assert.Nil(t, rec.Coordinate)
	assert.Len(t, delays, 2)

	_, geocodes := client.calls()
	assert.Equal(t, 3, geocodes, "bounded by the retry count")
}

func TestResolve_UnexpectedErrorNotRetried(t *testing.T) {
	var delays []time.Duration
	client := &fakeClient{geocodeErrs: []error{&StatusError{StatusCode: 401, Message: "invalid key"}}}
	r := NewResolver(client, NewMemoryCache(), WithRetry(noWaitRetry(&delays)))

	rec := r.Resolve(context.Background(), mustQuery(t, "Warszawa", "", ""))
	assert.Equal(t, SourceError, rec.Source)
	assert.Empty(t, delays)

	_, geocodes := client.calls()
	assert.Equal(t, 1, geocodes)
}

func TestResolve_ClearCacheForcesFreshLookup(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{results: map[string]geo.Coordinate{"Warszawa": warsaw}}
	r := NewResolver(client, NewMemoryCache())
	q := mustQuery(t, "Warszawa", "", "")

	assert.Equal(t, SourceAPI, r.Resolve(ctx, q).Source)
	assert.Equal(t, SourceCache, r.Resolve(ctx, q).Source)

	require.NoError(t, r.ClearCache(ctx))

	assert.NotEqual(t, SourceCache, r.Resolve(ctx, q).Source)
	_, geocodes := client.calls()
	assert.Equal(t, 2, geocodes)
}

func TestResolve_CacheReadFailureFallsBackToAPI(t *testing.T) {
	client := &fakeClient{results: map[string]geo.Coordinate{"Warszawa": warsaw}}
	r := NewResolver(client, failingCache{err: errors.New("disk gone")})

	rec := r.Resolve(context.Background(), mustQuery(t, "Warszawa", "", ""))
	assert.Equal(t, SourceAPI, rec.Source, "a broken cache does not fail resolution")
}

func TestResolve_ConcurrentSameKeyHitsAPIOnce(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{results: map[string]geo.Coordinate{"Warszawa": warsaw}}
	r := NewResolver(client, NewMemoryCache())
	q := mustQuery(t, "Warszawa", "", "")

	const n = 8
	sources := make([]Source, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sources[i] = r.Resolve(ctx, q).Source
		}()
	}
	wg.Wait()

	var api int
	for _, s := range sources {
		if s == SourceAPI {
			api++
		} else {
			assert.Equal(t, SourceCache, s)
		}
	}
	assert.Equal(t, 1, api)

	_, geocodes := client.calls()
	assert.Equal(t, 1, geocodes)
	assert.Empty(t, r.keys.locks, "key locks released")
}

func TestResolve_AddressComposition(t *testing.T) {
	client := &fakeClient{}
	r := NewResolver(client, NewMemoryCache())

	for _, q := range []LocationQuery{
		mustQuery(t, "Poznań", "Poland", "60-001"),
		mustQuery(t, "Poznań", "", "60-001"),
		mustQuery(t, "Poznań", "Poland", ""),
	} {
		r.Resolve(context.Background(), q)
	}
	assert.Equal(t, []string{"Poznań, 60-001, Poland", "Poznań, 60-001", "Poznań, Poland"}, client.addresses)
}

func ExampleResolver_Resolve() {
	client := &fakeClient{results: map[string]geo.Coordinate{"Warszawa, Poland": warsaw}}
	r := NewResolver(client, NewMemoryCache())
	q, _ := NewLocationQuery("Warszawa", "Poland", "")

	fmt.Println(r.Resolve(context.Background(), q).Source)
	fmt.Println(r.Resolve(context.Background(), q).Source)
	// Output:
	// API
	// Cache
}
