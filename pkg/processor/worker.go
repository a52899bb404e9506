// Package processor runs the non-root ranks.
package processor

import (
	"context"
	"fmt"

	"go-blur-halo/pkg/blur"
	"go-blur-halo/pkg/byteorder"
	"go-blur-halo/pkg/logging"
	"go-blur-halo/pkg/parallel"
	"go-blur-halo/pkg/partition"
	"go-blur-halo/pkg/stats"
	"go-blur-halo/pkg/transport"
)

// Worker receives one halo-padded block, blurs its own rows and sends them back.
type Worker struct {
	transport transport.Transport
	kernel    *blur.Kernel
	pool      *parallel.Pool
	norm      *byteorder.Normalizer
}

func NewWorker(t transport.Transport, kernel *blur.Kernel, pool *parallel.Pool, norm *byteorder.Normalizer) *Worker {
	if pool == nil {
		pool = parallel.New(1)
	}
	if norm == nil {
		norm = byteorder.Host(pool)
	}
	return &Worker{
		transport: t,
		kernel:    kernel,
		pool:      pool,
		norm:      norm,
	}
}

// Run processes this rank's share of one image.
func (w *Worker) Run(ctx context.Context) (stats.Timings, error) {
	rank := w.transport.Rank()
	timings := stats.Timings{Rank: rank}
	log := logging.Logger()
	sw := stats.NewStopwatch()

	hdr, err := w.transport.BroadcastHeader(ctx, nil)
	if err != nil {
		return timings, fmt.Errorf("failed to receive header: %w", err)
	}
	parts, err := partition.Plan(hdr, w.kernel.Height, w.transport.Size())
	if err != nil {
		return timings, err
	}
	want := parts[rank]

	block, err := w.transport.ReceiveBlock(ctx)
	if err != nil {
		return timings, fmt.Errorf("failed to receive block: %w", err)
	}
	if block.Partition != want || block.Width != hdr.Width {
		return timings, fmt.Errorf("worker %d: received block %+v (width %d), expected %+v (width %d)",
			rank, block.Partition, block.Width, want, hdr.Width)
	}
	timings.Scatter = sw.Lap()
	log.Debug("Worker: block received", "rank", rank, "rows", block.Rows(),
		"halo_above", block.HaloAbove, "halo_below", block.HaloBelow)

	if err := w.norm.SwapRows(ctx, block.Pix, block.Rows(), block.Width); err != nil {
		return timings, fmt.Errorf("failed to normalize block: %w", err)
	}
	out, err := blur.NewEngine(w.kernel, hdr.MaxValue, w.pool).Convolve(ctx, block, nil)
	if err != nil {
		return timings, fmt.Errorf("failed to blur block: %w", err)
	}
	if err := w.norm.SwapRows(ctx, out.Pix, out.Rows, out.Width); err != nil {
		return timings, fmt.Errorf("failed to restore block: %w", err)
	}
	timings.Calc = sw.Lap()
	timings.Samples = len(out.Pix)

	if err := w.transport.GatherBlocks(ctx, out.Pix, nil); err != nil {
		return timings, fmt.Errorf("failed to send blurred rows: %w", err)
	}
	timings.Gather = sw.Lap()
	return timings, nil
}
