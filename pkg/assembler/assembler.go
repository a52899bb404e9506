// Package assembler collects the blurred rows of every rank on the root and
// writes the result once the image is complete.
package assembler

import (
	"context"
	"fmt"

	"go-blur-halo/pkg/common"
	"go-blur-halo/pkg/coordinator"
	"go-blur-halo/pkg/imageio"
	"go-blur-halo/pkg/logging"
	"go-blur-halo/pkg/stats"
	"go-blur-halo/pkg/transport"
)

// Sink stores a finished image.
type Sink func(path string, img *common.Image) error

type Assembler struct {
	transport transport.Transport
	sink      Sink
}

// NewAssembler returns an assembler writing through sink; nil means imageio.Save.
func NewAssembler(t transport.Transport, sink Sink) *Assembler {
	if sink == nil {
		sink = imageio.Save
	}
	return &Assembler{
		transport: t,
		sink:      sink,
	}
}

// Collect blocks until every rank contributed and returns the blurred image
// in stored order. job.Timings.Gather is set on success.
func (a *Assembler) Collect(ctx context.Context, job *coordinator.Job) (*common.Image, error) {
	sw := stats.NewStopwatch()
	if err := a.transport.GatherBlocks(ctx, job.Own.Pix, job.Layout); err != nil {
		return nil, fmt.Errorf("failed to gather blurred rows: %w", err)
	}
	job.Timings.Gather = sw.Lap()

	logging.Logger().Info("Assembler: image assembled",
		"width", job.Width, "height", job.Height, "ranks", len(job.Layout.Counts))
	return &common.Image{
		Pix:      job.Layout.Dst,
		Width:    job.Width,
		Height:   job.Height,
		MaxValue: job.MaxValue,
	}, nil
}

// Assemble collects the image and hands it to the sink. Nothing is written
// if the gather fails.
func (a *Assembler) Assemble(ctx context.Context, job *coordinator.Job, outputPath string) (*common.Image, error) {
	img, err := a.Collect(ctx, job)
	if err != nil {
		return nil, err
	}
	sw := stats.NewStopwatch()
	if err := a.sink(outputPath, img); err != nil {
		return nil, fmt.Errorf("failed to save image: %w", err)
	}
	job.Timings.IO += sw.Lap()
	logging.Logger().Info("Assembler: blurred image stored", "path", outputPath)
	return img, nil
}
