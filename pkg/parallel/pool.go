// Package parallel splits row ranges across goroutines inside one rank.
//
//	pool := parallel.New(runtime.GOMAXPROCS(0))
//	err := pool.Rows(ctx, height, func(start, end int) {
//	    processRows(start, end)
//	})
package parallel

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Pool runs fork-join row loops with a fixed degree of parallelism.
// A Pool has no goroutines of its own and is safe for concurrent use.
type Pool struct {
	threads int
}

// New creates a pool. threads <= 0 means GOMAXPROCS.
func New(threads int) *Pool {
	if threads <= 0 {
		threads = runtime.GOMAXPROCS(0)
	}
	return &Pool{threads: threads}
}

func (p *Pool) Threads() int {
	return p.threads
}

// Rows divides [0, n) into at most Threads() contiguous chunks and calls fn
// once per chunk, concurrently. It returns after every chunk finished. Chunks
// not yet started when ctx is cancelled are skipped and ctx.Err() is returned.
func (p *Pool) Rows(ctx context.Context, n int, fn func(start, end int)) error {
	if n <= 0 {
		return ctx.Err()
	}
	chunks := min(p.threads, n)
	if chunks == 1 {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(0, n)
		return nil
	}

	size := (n + chunks - 1) / chunks
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(chunks)
	for start := 0; start < n; start += size {
		start, end := start, min(start+size, n)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fn(start, end)
			return nil
		})
	}
	return g.Wait()
}
