package geocode

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/geocluster/internal/geo"
	"github.com/sells-group/geocluster/internal/resilience"
)

// Resolver turns a LocationQuery into a Record using the cache first and the
// geocoding service on a miss. It never returns an error: every failure is
// encoded in Record.Source.
type Resolver struct {
	client          Client
	cache           Cache
	retry           resilience.RetryConfig
	probeOnMissOnly bool

	keys    keyedMutex
	clearMu sync.RWMutex
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithRetry sets the retry policy applied to geocoding requests.
func WithRetry(cfg resilience.RetryConfig) ResolverOption {
	return func(r *Resolver) {
		r.retry = cfg
	}
}

// WithProbeOnMissOnly skips the health probe for cache hits. By default the
// probe runs before every lookup so quota problems surface even when the
// whole batch is cached.
func WithProbeOnMissOnly(enabled bool) ResolverOption {
	return func(r *Resolver) {
		r.probeOnMissOnly = enabled
	}
}

// NewResolver creates a Resolver over the given client and cache.
func NewResolver(client Client, cache Cache, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		client: client,
		cache:  cache,
		retry:  resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.retry.OnRetry == nil {
		r.retry.OnRetry = resilience.RetryLogger("opencage", "geocode")
	}
	return r
}

// Resolve resolves q. Resolutions of the same key are serialised so a
// concurrent caller sees the first caller's cache write.
func (r *Resolver) Resolve(ctx context.Context, q LocationQuery) Record {
	r.clearMu.RLock()
	defer r.clearMu.RUnlock()

	key := q.Key()
	unlock := r.keys.Lock(key)
	defer unlock()

	log := zap.L().With(zap.String("key", key))

	if !r.probeOnMissOnly {
		if !r.probe(ctx, log) {
			return Record{Query: q, Source: SourceAPIError}
		}
	}

	if c, ok := r.lookup(ctx, key, log); ok {
		log.Debug("geocode cache hit")
		return Record{Query: q, Coordinate: &c, Source: SourceCache}
	}
	log.Debug("geocode cache miss")

	if r.probeOnMissOnly {
		if !r.probe(ctx, log) {
			return Record{Query: q, Source: SourceAPIError}
		}
	}

	address := q.Address()
	result, err := resilience.DoVal(ctx, r.retry, func(ctx context.Context) (*Result, error) {
		return r.client.Geocode(ctx, address)
	})
	if err != nil {
		if resilience.IsExhausted(err) {
			log.Error("geocode retries exhausted",
				zap.String("address", address),
				zap.Int("attempts", r.retry.MaxAttempts),
				zap.Error(err),
			)
		} else {
			log.Error("geocode failed", zap.String("address", address), zap.Error(err))
		}
		return Record{Query: q, Source: SourceError}
	}

	if result == nil || !result.Matched {
		log.Warn("geocode: no match", zap.String("address", address))
		return Record{Query: q, Source: SourceNotFound}
	}

	c := result.Coordinate
	if err := r.cache.Put(ctx, key, c); err != nil {
		log.Warn("geocode cache write failed", zap.Error(err))
	}
	log.Info("geocoded via api",
		zap.String("address", address),
		zap.Float64("lat", c.Latitude),
		zap.Float64("lon", c.Longitude),
	)
	return Record{Query: q, Coordinate: &c, Source: SourceAPI}
}

// ClearCache wipes the cache. It waits for in-flight resolutions and blocks
// new ones until the clear completes.
func (r *Resolver) ClearCache(ctx context.Context) error {
	r.clearMu.Lock()
	defer r.clearMu.Unlock()
	if err := r.cache.Clear(ctx); err != nil {
		return err
	}
	zap.L().Info("geocode cache cleared")
	return nil
}

func (r *Resolver) probe(ctx context.Context, log *zap.Logger) bool {
	err := r.client.Probe(ctx)
	if err == nil {
		return true
	}
	if errors.Is(err, ErrQuotaExceeded) {
		log.Error("geocoding quota exceeded or payment required; check the API key or account status", zap.Error(err))
	} else {
		log.Error("geocoding service probe failed", zap.Error(err))
	}
	return false
}

// lookup treats a failing cache read as a miss.
func (r *Resolver) lookup(ctx context.Context, key string, log *zap.Logger) (geo.Coordinate, bool) {
	c, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		log.Warn("geocode cache read failed", zap.Error(err))
		return geo.Coordinate{}, false
	}
	return c, ok
}

// keyedMutex hands out one mutex per key and drops it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
