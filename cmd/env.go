package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geocluster/internal/config"
	"github.com/sells-group/geocluster/internal/pipeline"
	"github.com/sells-group/geocluster/internal/report"
	"github.com/sells-group/geocluster/internal/store"
	"github.com/sells-group/geocluster/pkg/geocode"
)

// appEnv bundles the cache, resolver and pipeline a command works with.
type appEnv struct {
	Cache    geocode.Cache
	Resolver *geocode.Resolver
	Pipeline *pipeline.Pipeline

	closeCache func() error
}

// Close releases the cache.
func (e *appEnv) Close() {
	if e.closeCache != nil {
		if err := e.closeCache(); err != nil {
			zap.L().Warn("close cache", zap.Error(err))
		}
	}
}

// openCache opens the cache backend selected by store.driver.
func openCache(ctx context.Context, sc config.StoreConfig) (geocode.Cache, func() error, error) {
	switch sc.Driver {
	case "memory":
		return geocode.NewMemoryCache(), nil, nil
	case "sqlite", "":
		st, err := store.NewSQLite(sc.Path)
		if err != nil {
			return nil, nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, nil, eris.Wrap(err, "migrate cache")
		}
		return st, st.Close, nil
	default:
		return nil, nil, eris.Errorf("unknown store driver %q", sc.Driver)
	}
}

// newClient builds the OpenCage client from config.
func newClient(gc config.GeocodeConfig) geocode.Client {
	return geocode.NewClient(gc.APIKey,
		geocode.WithBaseURL(gc.BaseURL),
		geocode.WithTimeout(gc.Timeout()),
		geocode.WithRateLimit(gc.RateLimit),
		geocode.WithProbeQuery(gc.ProbeQuery),
	)
}

// newResolver wires client and cache with the configured retry policy.
func newResolver(c *config.Config, client geocode.Client, cache geocode.Cache) *geocode.Resolver {
	return geocode.NewResolver(client, cache,
		geocode.WithRetry(c.Retry.Resilience()),
		geocode.WithProbeOnMissOnly(c.Geocode.ProbeOnMissOnly),
	)
}

// initEnv validates config for mode and builds the environment. Callers
// should defer env.Close().
func initEnv(ctx context.Context, mode string, opts ...pipeline.Option) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	cache, closeCache, err := openCache(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	env := &appEnv{Cache: cache, closeCache: closeCache}
	if mode == "cache" {
		return env, nil
	}

	env.Resolver = newResolver(cfg, newClient(cfg.Geocode), cache)
	opts = append([]pipeline.Option{pipeline.WithConcurrency(cfg.Batch.Concurrency)}, opts...)
	env.Pipeline = pipeline.New(env.Resolver, opts...)
	return env, nil
}

// reportOptions returns the per-cluster statistics settings.
func reportOptions(cc config.ClusterConfig) report.Options {
	return report.Options{H3Resolution: cc.H3Resolution, SumColumn: cc.SumColumn}
}
