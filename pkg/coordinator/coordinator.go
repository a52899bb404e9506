// Package coordinator runs the root rank: it announces the image, scatters
// the halo-padded row blocks and blurs its own block in place.
package coordinator

import (
	"context"
	"fmt"

	"go-blur-halo/pkg/blur"
	"go-blur-halo/pkg/byteorder"
	"go-blur-halo/pkg/common"
	"go-blur-halo/pkg/logging"
	"go-blur-halo/pkg/parallel"
	"go-blur-halo/pkg/partition"
	"go-blur-halo/pkg/stats"
	"go-blur-halo/pkg/transport"
)

type Coordinator struct {
	transport transport.Transport
	kernel    *blur.Kernel
	pool      *parallel.Pool
	norm      *byteorder.Normalizer
}

func NewCoordinator(t transport.Transport, kernel *blur.Kernel, pool *parallel.Pool, norm *byteorder.Normalizer) *Coordinator {
	if pool == nil {
		pool = parallel.New(1)
	}
	if norm == nil {
		norm = byteorder.Host(pool)
	}
	return &Coordinator{
		transport: t,
		kernel:    kernel,
		pool:      pool,
		norm:      norm,
	}
}

// Job is the state the root hands to the assembler once its own rows are blurred.
type Job struct {
	Width    int
	Height   int
	MaxValue int
	Layout   *common.GatherLayout
	// Own is the root's output; it aliases its slot of Layout.Dst.
	Own     *common.BlurredBlock
	Timings stats.Timings
}

// Abort tells every other rank that the run cannot start and returns cause.
func (c *Coordinator) Abort(ctx context.Context, cause error) error {
	logging.Logger().Error("Coordinator: aborting run", "error", cause)
	hdr := &common.Header{Abort: common.AbortFor(cause)}
	if _, err := c.transport.BroadcastHeader(ctx, hdr); err != nil {
		return fmt.Errorf("%w (abort broadcast failed: %v)", cause, err)
	}
	return cause
}

// Distribute broadcasts the header of img, scatters the blocks of ranks 1..n
// and blurs the root's own block. img must hold stored-order samples; its
// first rows are overwritten once the scatter has completed.
func (c *Coordinator) Distribute(ctx context.Context, img *common.Image) (*Job, error) {
	log := logging.Logger()
	sw := stats.NewStopwatch()
	size := c.transport.Size()
	width := img.Width

	hdr := &common.Header{Width: img.Width, Height: img.Height, MaxValue: img.MaxValue}
	if _, err := c.transport.BroadcastHeader(ctx, hdr); err != nil {
		return nil, fmt.Errorf("failed to broadcast header: %w", err)
	}
	parts, err := partition.Plan(hdr, c.kernel.Height, size)
	if err != nil {
		return nil, err
	}
	log.Info("Coordinator: distributing image",
		"width", img.Width, "height", img.Height, "max_value", img.MaxValue, "ranks", size)

	blocks := make([]*common.WorkBlock, 0, size-1)
	for _, p := range parts[1:] {
		blocks = append(blocks, &common.WorkBlock{
			Partition: p,
			Width:     width,
			Pix:       img.Pix[p.RowStart*width : p.RowEnd*width],
		})
	}
	req, err := c.transport.ScatterBlocks(ctx, blocks)
	if err != nil {
		return nil, fmt.Errorf("failed to scatter blocks: %w", err)
	}

	layout := partition.Layout(parts, width)
	layout.Dst = make([]uint16, width*img.Height)

	if err := req.Wait(ctx); err != nil {
		return nil, fmt.Errorf("failed to complete scatter: %w", err)
	}
	scatter := sw.Lap()

	own := parts[transport.Root]
	block := &common.WorkBlock{
		Partition: own,
		Width:     width,
		Pix:       img.Pix[:own.Rows()*width],
	}
	out, err := c.blurOwn(ctx, block, img.MaxValue, layout.Dst[:layout.Counts[transport.Root]])
	if err != nil {
		return nil, err
	}
	log.Debug("Coordinator: own block blurred", "rows", own.OwnRows, "halo_below", own.HaloBelow)

	return &Job{
		Width:    width,
		Height:   img.Height,
		MaxValue: img.MaxValue,
		Layout:   layout,
		Own:      out,
		Timings: stats.Timings{
			Rank:    transport.Root,
			Scatter: scatter,
			Calc:    sw.Lap(),
			Samples: len(out.Pix),
		},
	}, nil
}

func (c *Coordinator) blurOwn(ctx context.Context, block *common.WorkBlock, maxValue int, dst []uint16) (*common.BlurredBlock, error) {
	if err := c.norm.SwapRows(ctx, block.Pix, block.Rows(), block.Width); err != nil {
		return nil, fmt.Errorf("failed to normalize own block: %w", err)
	}
	out, err := blur.NewEngine(c.kernel, maxValue, c.pool).Convolve(ctx, block, dst)
	if err != nil {
		return nil, fmt.Errorf("failed to blur own block: %w", err)
	}
	if err := c.norm.SwapRows(ctx, out.Pix, out.Rows, out.Width); err != nil {
		return nil, fmt.Errorf("failed to restore own block: %w", err)
	}
	return out, nil
}
