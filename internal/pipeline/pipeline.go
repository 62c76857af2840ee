// Package pipeline runs a batch: validate the input table, resolve every row
// through the geocode resolver, then cluster the resolved points.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/geocluster/internal/cluster"
	"github.com/sells-group/geocluster/internal/dataset"
	"github.com/sells-group/geocluster/pkg/geocode"
)

// Resolver turns one query into a record. *geocode.Resolver satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, q geocode.LocationQuery) geocode.Record
}

// Progress is told about every row once it is resolved. Calls arrive in row
// order from a single goroutine at a time.
type Progress interface {
	Step(done, total int, rec geocode.Record)
}

// ProgressFunc adapts a function to Progress.
type ProgressFunc func(done, total int, rec geocode.Record)

// Step calls f.
func (f ProgressFunc) Step(done, total int, rec geocode.Record) { f(done, total, rec) }

// Pipeline resolves and clusters batches.
type Pipeline struct {
	resolver    Resolver
	concurrency int
	progress    Progress
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithConcurrency sets how many rows resolve at once. Values below 1 mean 1.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n < 1 {
			n = 1
		}
		p.concurrency = n
	}
}

// WithProgress sets the progress sink.
func WithProgress(pr Progress) Option {
	return func(p *Pipeline) { p.progress = pr }
}

// New creates a Pipeline around resolver.
func New(resolver Resolver, opts ...Option) *Pipeline {
	p := &Pipeline{resolver: resolver, concurrency: 1}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ResolveAll resolves queries and returns one record per query in the same
// order. When ctx is cancelled, rows not yet started are marked Error.
func (p *Pipeline) ResolveAll(ctx context.Context, queries []geocode.LocationQuery) []geocode.Record {
	records := make([]geocode.Record, len(queries))
	done := make([]bool, len(queries))

	var mu sync.Mutex
	next := 0
	finish := func(i int, rec geocode.Record) {
		mu.Lock()
		defer mu.Unlock()
		records[i] = rec
		done[i] = true
		for next < len(queries) && done[next] {
			if p.progress != nil {
				p.progress.Step(next+1, len(queries), records[next])
			}
			next++
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(p.concurrency)
	for i, q := range queries {
		if ctx.Err() != nil {
			finish(i, geocode.Record{Query: q, Source: geocode.SourceError})
			continue
		}
		g.Go(func() error {
			finish(i, p.resolver.Resolve(ctx, q))
			return nil
		})
	}
	_ = g.Wait()
	return records
}

// Resolve validates tbl and resolves every row. A *dataset.SchemaError is
// returned before any lookup when the table cannot be resolved.
func (p *Pipeline) Resolve(ctx context.Context, tbl *dataset.Table) (*Batch, error) {
	queries, err := tbl.Queries()
	if err != nil {
		return nil, err
	}

	b := &Batch{RunID: uuid.NewString(), Input: stripDerived(tbl)}
	log := zap.L().With(zap.String("run_id", b.RunID), zap.Int("rows", len(queries)))
	log.Info("pipeline: resolving batch", zap.Int("concurrency", p.concurrency))

	start := time.Now()
	b.Records = p.ResolveAll(ctx, queries)

	log.Info("pipeline: batch resolved",
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		zap.Any("sources", b.SourceCounts()),
	)
	return b, nil
}

// Run resolves tbl and clusters the resolved rows.
func (p *Pipeline) Run(ctx context.Context, tbl *dataset.Table, opts cluster.Options) (*Outcome, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	b, err := p.Resolve(ctx, tbl)
	if err != nil {
		return nil, err
	}
	return b.Cluster(opts)
}
