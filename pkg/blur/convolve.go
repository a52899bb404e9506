// Package blur builds convolution kernels and applies them to row blocks.
//
// Near the image border the kernel footprint is truncated to the samples that
// exist and the weighted sum is divided by the weights actually used, so edges
// are not darkened by missing neighbours.
package blur

import (
	"context"
	"fmt"
	"math"

	"go-blur-halo/pkg/common"
	"go-blur-halo/pkg/parallel"
)

// Engine convolves work blocks with one kernel. Blocks must hold native-order samples.
type Engine struct {
	kernel   *Kernel
	sum      float64
	maxValue int
	pool     *parallel.Pool
}

func NewEngine(kernel *Kernel, maxValue int, pool *parallel.Pool) *Engine {
	if pool == nil {
		pool = parallel.New(1)
	}
	return &Engine{
		kernel:   kernel,
		sum:      kernel.Sum(),
		maxValue: maxValue,
		pool:     pool,
	}
}

// Convolve computes the OwnRows output rows of block into dst, which must hold
// at least OwnRows*Width samples. A nil dst is allocated. Halo rows are read
// but never written.
func (e *Engine) Convolve(ctx context.Context, block *common.WorkBlock, dst []uint16) (*common.BlurredBlock, error) {
	width, rows := block.Width, block.Rows()
	if rows != block.HaloAbove+block.OwnRows+block.HaloBelow {
		return nil, fmt.Errorf("block for rank %d: inconsistent rows %d", block.Rank, rows)
	}
	if len(block.Pix) < rows*width {
		return nil, fmt.Errorf("block for rank %d: %d samples for %dx%d", block.Rank, len(block.Pix), width, rows)
	}
	n := block.OwnRows * width
	if dst == nil {
		dst = make([]uint16, n)
	}
	if len(dst) < n {
		return nil, fmt.Errorf("block for rank %d: output holds %d samples, need %d", block.Rank, len(dst), n)
	}

	err := e.pool.Rows(ctx, block.OwnRows, func(start, end int) {
		for r := start; r < end; r++ {
			e.convolveRow(block.Pix, dst[r*width:(r+1)*width], width, rows, r+block.HaloAbove)
		}
	})
	if err != nil {
		return nil, err
	}
	return &common.BlurredBlock{
		Rank:  block.Rank,
		Width: width,
		Rows:  block.OwnRows,
		Pix:   dst[:n],
	}, nil
}

func (e *Engine) convolveRow(src, out []uint16, width, rows, cy int) {
	k := e.kernel
	hx, hy := k.Width/2, k.Height/2
	fullRows := cy-hy >= 0 && cy+hy < rows

	for c := 0; c < width; c++ {
		if fullRows && c-hx >= 0 && c+hx < width {
			acc := 0.0
			for ky := 0; ky < k.Height; ky++ {
				row := src[(cy-hy+ky)*width+c-hx:]
				weights := k.Weights[ky*k.Width : (ky+1)*k.Width]
				for kx, w := range weights {
					acc += w * float64(row[kx])
				}
			}
			out[c] = e.quantize(acc, e.sum, src[cy*width+c])
			continue
		}

		acc, used := 0.0, 0.0
		for ky := 0; ky < k.Height; ky++ {
			sy := cy - hy + ky
			if sy < 0 || sy >= rows {
				continue
			}
			for kx := 0; kx < k.Width; kx++ {
				sx := c - hx + kx
				if sx < 0 || sx >= width {
					continue
				}
				w := k.Weights[ky*k.Width+kx]
				acc += w * float64(src[sy*width+sx])
				used += w
			}
		}
		out[c] = e.quantize(acc, used, src[cy*width+c])
	}
}

// quantize divides by the weights used, rounds half up and clamps to the
// sample range.
func (e *Engine) quantize(acc, weights float64, centre uint16) uint16 {
	if weights == 0 {
		return centre
	}
	v := math.Floor(acc/weights + 0.5)
	if v <= 0 {
		return 0
	}
	if v >= float64(e.maxValue) {
		return uint16(e.maxValue)
	}
	return uint16(v)
}

// ConvolveImage blurs a whole native-order image as a single block.
func ConvolveImage(ctx context.Context, img *common.Image, kernel *Kernel, pool *parallel.Pool) (*common.Image, error) {
	block := &common.WorkBlock{
		Partition: common.Partition{RowEnd: img.Height, OwnRows: img.Height},
		Width:     img.Width,
		Pix:       img.Pix,
	}
	out := common.NewImage(img.Width, img.Height, img.MaxValue)
	if _, err := NewEngine(kernel, img.MaxValue, pool).Convolve(ctx, block, out.Pix); err != nil {
		return nil, err
	}
	return out, nil
}
