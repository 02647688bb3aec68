// Package jobs runs batches of independent work in parallel for scenes that
// want to offload part of a frame. A batch blocks its caller until every job
// has finished, so a scene's Update still runs to completion.
package jobs

import (
	"context"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Job is one unit of work. Jobs in a batch must not depend on each other.
type Job func(ctx context.Context) error

// Dispatcher bounds how many jobs run at once.
type Dispatcher struct {
	workers int
	closed  atomic.Bool
	batches atomic.Uint64
}

// New returns a dispatcher that runs at most workers jobs concurrently.
// A non-positive value uses GOMAXPROCS.
func New(workers int) *Dispatcher {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Dispatcher{workers: workers}
}

// Workers returns the concurrency limit.
func (d *Dispatcher) Workers() int { return d.workers }

// Batches returns how many batches have been run.
func (d *Dispatcher) Batches() uint64 { return d.batches.Load() }

// Run executes jobs and waits for all of them. The first error cancels the
// context passed to the remaining jobs and is returned.
func (d *Dispatcher) Run(ctx context.Context, jobs ...Job) error {
	if d.closed.Load() {
		return context.Canceled
	}
	d.batches.Add(1)
	if len(jobs) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for _, job := range jobs {
		g.Go(func() error { return job(gctx) })
	}
	return g.Wait()
}

// ForEach runs fn for each index in [0, n), split into at most Workers
// contiguous chunks.
func (d *Dispatcher) ForEach(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	if n <= 0 {
		return d.Run(ctx)
	}
	chunks := d.workers
	if chunks > n {
		chunks = n
	}
	size := (n + chunks - 1) / chunks

	batch := make([]Job, 0, chunks)
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		batch = append(batch, func(ctx context.Context) error {
			for i := start; i < end; i++ {
				if err := fn(ctx, i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return d.Run(ctx, batch...)
}

// Close makes later Run calls fail with context.Canceled.
func (d *Dispatcher) Close() { d.closed.Store(true) }
