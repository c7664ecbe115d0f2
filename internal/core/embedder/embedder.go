// Package embedder turns batches of text into vectors through a remote
// embedding backend with bounded, process-wide concurrency.
package embedder

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/markdave123-py/pdfchat/internal/core"
	"github.com/markdave123-py/pdfchat/internal/core/retry"
)

// Config tunes the embedder.
//
// Dim:         vector dimension; failed texts get a zero vector of this size.
// BatchSize:   texts sent concurrently per sub-batch.
// Concurrency: maximum in-flight backend calls across the whole process.
// Timeout:     deadline for a single backend call.
// BatchPause:  minimum spacing between consecutive sub-batches.
// Retry:       per-text retry policy.
type Config struct {
	Dim         int
	BatchSize   int
	Concurrency int
	Timeout     time.Duration
	BatchPause  time.Duration
	Retry       retry.Policy
}

// Report describes the outcome of one Embed call.
type Report struct {
	Succeeded   int
	Substituted int
}

// Stats are cumulative counters since the embedder was created.
type Stats struct {
	Succeeded   int64
	Substituted int64
}

type Embedder struct {
	provider core.EmbeddingProvider
	cfg      Config
	sem      *semaphore.Weighted
	pacer    *rate.Limiter

	succeeded   atomic.Int64
	substituted atomic.Int64
}

var _ core.Embedder = (*Embedder)(nil)

// New builds the embedder. One instance is meant to be shared by every
// ingestion and query so that Concurrency bounds total backend load.
func New(provider core.EmbeddingProvider, cfg Config) *Embedder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 2
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	limit := rate.Inf
	if cfg.BatchPause > 0 {
		limit = rate.Every(cfg.BatchPause)
	}
	return &Embedder{
		provider: provider,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.Concurrency)),
		pacer:    rate.NewLimiter(limit, 1),
	}
}

// Embed returns exactly one vector per text, in input order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out, _, err := e.EmbedWithReport(ctx, texts)
	return out, err
}

// EmbedWithReport is Embed plus a count of zero-vector substitutions. Backend
// failures never fail the call; only ctx cancellation does.
func (e *Embedder) EmbedWithReport(ctx context.Context, texts []string) ([][]float32, Report, error) {
	var rep Report
	out := make([][]float32, len(texts))

	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, len(texts))

		if err := e.pacer.Wait(ctx); err != nil {
			return nil, rep, err
		}

		ok := make([]bool, end-start)
		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				vec, err := e.embedOne(gctx, texts[i])
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					log.Printf("embedder: substituting zero vector for text %d (%d chars): %v", i, len(texts[i]), err)
					out[i] = Zero(e.cfg.Dim)
					return nil
				}
				out[i] = vec
				ok[i-start] = true
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, rep, err
		}

		for _, v := range ok {
			if v {
				rep.Succeeded++
			} else {
				rep.Substituted++
			}
		}
	}

	e.succeeded.Add(int64(rep.Succeeded))
	e.substituted.Add(int64(rep.Substituted))
	if rep.Substituted > 0 {
		log.Printf("embedder: %d of %d vectors substituted with zeros", rep.Substituted, len(texts))
	}
	return out, rep, nil
}

// embedOne holds a concurrency slot only while a backend call is in flight,
// never across retry backoff.
func (e *Embedder) embedOne(ctx context.Context, text string) ([]float32, error) {
	policy := e.cfg.Retry
	if policy.OnRetry == nil {
		policy.OnRetry = func(attempt int, err error, wait time.Duration) {
			log.Printf("embedder: attempt %d failed, retrying in %s: %v", attempt, wait, err)
		}
	}

	return retry.DoValue(ctx, policy, func(ctx context.Context, attempt int) ([]float32, error) {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return nil, retry.Permanent(err)
		}
		defer e.sem.Release(1)

		callCtx := ctx
		if e.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
			defer cancel()
		}
		vec, err := e.call(callCtx, text)
		if err != nil {
			return nil, err
		}
		if len(vec) == 0 {
			return nil, fmt.Errorf("empty embedding")
		}
		if e.cfg.Dim > 0 && len(vec) != e.cfg.Dim {
			return nil, retry.Permanent(fmt.Errorf("embedding has %d dimensions, want %d", len(vec), e.cfg.Dim))
		}
		return vec, nil
	})
}

// call turns a provider panic into a permanent error for that text.
func (e *Embedder) call(ctx context.Context, text string) (vec []float32, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = retry.Permanent(fmt.Errorf("embedding backend panicked: %v", r))
		}
	}()
	return e.provider.Embed(ctx, text)
}

// Stats returns the cumulative success and substitution counts.
func (e *Embedder) Stats() Stats {
	return Stats{Succeeded: e.succeeded.Load(), Substituted: e.substituted.Load()}
}

// Zero returns an all-zero vector of the given dimension.
func Zero(dim int) []float32 {
	return make([]float32, dim)
}

// IsZero reports whether v is the placeholder for a failed embedding.
func IsZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
