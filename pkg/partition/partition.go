// Package partition splits an image into contiguous row blocks, one per rank.
//
// Every rank except the first and the last owns ceil(height/workers) rows.
// The remaining rows are shared by the first and the last rank; on an odd
// remainder the extra row goes to the last rank, so the coordinator (rank 0)
// always has the lightest share. Each block carries kHeight/2 halo rows on
// every interior boundary, clipped at the image edges.
package partition

import (
	"errors"
	"fmt"

	"go-blur-halo/pkg/common"
)

var ErrTooManyWorkers = errors.New("every worker must own at least one row")

// ClipHalo returns the number of halo rows that fit between a block edge and
// the image edge distanceToEdge rows away.
func ClipHalo(nominal, distanceToEdge int) int {
	return max(0, min(nominal, distanceToEdge))
}

// Shares returns the number of own rows for the first, inner and last rank.
func Shares(height, workers int) (first, inner, last int) {
	if workers == 1 {
		return height, 0, 0
	}
	inner = (height + workers - 1) / workers
	remaining := height - (workers-2)*inner
	first = remaining / 2
	last = first + remaining%2
	return first, inner, last
}

// Compute returns the partition table for a run.
func Compute(height, width, kHeight, workers int) ([]common.Partition, error) {
	switch {
	case workers < 1:
		return nil, common.Configf(common.ExitBadArguments, "worker count must be positive, got %d", workers)
	case height < 1 || width < 1:
		return nil, common.Configf(common.ExitBadArguments, "empty image %dx%d", width, height)
	case kHeight < 1 || kHeight%2 == 0:
		return nil, common.Configf(common.ExitEvenKernel, "kernel height must be an odd integer, got %d", kHeight)
	}

	first, inner, last := Shares(height, workers)
	if workers > height || first < 1 || (workers > 1 && last < 1) {
		return nil, &common.ConfigurationError{
			Code: common.ExitPartition,
			Msg:  fmt.Sprintf("%v: %d workers for %d rows", ErrTooManyWorkers, workers, height),
			Err:  ErrTooManyWorkers,
		}
	}

	halo := kHeight / 2
	parts := make([]common.Partition, workers)
	start := 0
	for rank := range parts {
		own := inner
		switch rank {
		case 0:
			own = first
		case workers - 1:
			own = last
		}
		end := start + own

		above, below := ClipHalo(halo, start), ClipHalo(halo, height-end)
		if rank == 0 {
			above = 0
		}
		if rank == workers-1 {
			below = 0
		}
		parts[rank] = common.Partition{
			Rank:      rank,
			RowStart:  start - above,
			RowEnd:    end + below,
			HaloAbove: above,
			HaloBelow: below,
			OwnRows:   own,
		}
		start = end
	}
	return parts, nil
}

// Layout returns the gather counts and displacements, in samples, for parts.
func Layout(parts []common.Partition, width int) *common.GatherLayout {
	l := &common.GatherLayout{
		Counts: make([]int, len(parts)),
		Displs: make([]int, len(parts)),
	}
	off := 0
	for i, p := range parts {
		l.Counts[i] = p.OwnRows * width
		l.Displs[i] = off
		off += l.Counts[i]
	}
	return l
}

// Plan validates a broadcast header and returns the partition table every
// rank derives from it. Ranks that see the same header fail the same way.
func Plan(hdr *common.Header, kHeight, workers int) ([]common.Partition, error) {
	if hdr.Abort != nil {
		return nil, hdr.Abort.Err()
	}
	if err := common.CheckMaxValue(hdr.MaxValue); err != nil {
		return nil, err
	}
	return Compute(hdr.Height, hdr.Width, kHeight, workers)
}
