// Package pool is a fixed size worker pool shared by the sender and the
// receiver. A Pool is handed explicitly to every component that fans out.
package pool

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Pool bounds the number of goroutines used by one fan out
type Pool struct {
	size int
}

// New returns a pool of size workers, or GOMAXPROCS workers if size < 1
func New(size int) *Pool {
	if size < 1 {
		size = runtime.GOMAXPROCS(0)
	}
	return &Pool{size: size}
}

// Size is the number of workers
func (p *Pool) Size() int {
	if p == nil {
		return runtime.GOMAXPROCS(0)
	}
	return p.size
}

// Run calls f(i) for i in [0, n) on at most Size() goroutines. The first
// error cancels the context handed to the remaining calls and is returned.
func (p *Pool) Run(ctx context.Context, n int, f func(ctx context.Context, i int) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Size())
	for i := 0; i < n; i++ {
		i := i
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return f(ctx, i)
		})
	}
	return g.Wait()
}

// Chunks splits [0, n) into at most Size() contiguous ranges and calls
// f(lo, hi) for each on its own goroutine. Per worker state such as shallow
// copied encoders is set up once per chunk.
func (p *Pool) Chunks(ctx context.Context, n int, f func(ctx context.Context, lo, hi int) error) error {
	if n == 0 {
		return nil
	}
	workers := p.Size()
	if workers > n {
		workers = n
	}
	step := (n + workers - 1) / workers
	return p.Run(ctx, workers, func(ctx context.Context, w int) error {
		lo := w * step
		hi := lo + step
		if hi > n {
			hi = n
		}
		if lo >= hi {
			return nil
		}
		return f(ctx, lo, hi)
	})
}
