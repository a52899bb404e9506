package partition

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-blur-halo/pkg/common"
)

func TestClipHalo(t *testing.T) {
	assert.Equal(t, 2, ClipHalo(2, 10))
	assert.Equal(t, 1, ClipHalo(2, 1))
	assert.Equal(t, 0, ClipHalo(2, 0))
	assert.Equal(t, 0, ClipHalo(2, -3))
	assert.Equal(t, 0, ClipHalo(0, 5))
}

func TestSharesMatchFormulas(t *testing.T) {
	first, inner, last := Shares(10, 3)
	assert.Equal(t, []int{3, 4, 3}, []int{first, inner, last})

	first, inner, last = Shares(11, 4)
	assert.Equal(t, []int{2, 3, 3}, []int{first, inner, last})

	first, _, last = Shares(7, 2)
	assert.Equal(t, 3, first)
	assert.Equal(t, 4, last)
}

func TestComputeTilesImage(t *testing.T) {
	for height := 1; height <= 40; height++ {
		for workers := 1; workers <= height; workers++ {
			for _, k := range []int{1, 3, 5, 9} {
				parts, err := Compute(height, 3, k, workers)
				if err != nil {
					require.ErrorIs(t, err, ErrTooManyWorkers, "h=%d w=%d", height, workers)
					continue
				}
				require.Len(t, parts, workers)

				next, total := 0, 0
				for i, p := range parts {
					assert.Equal(t, i, p.Rank)
					assert.Equal(t, next, p.OwnStart(), "h=%d w=%d k=%d rank=%d", height, workers, k, i)
					assert.Equal(t, p.OwnRows, p.OwnEnd()-p.OwnStart())
					assert.GreaterOrEqual(t, p.RowStart, 0)
					assert.LessOrEqual(t, p.RowEnd, height)
					assert.LessOrEqual(t, p.HaloAbove, k/2)
					assert.LessOrEqual(t, p.HaloBelow, k/2)
					assert.GreaterOrEqual(t, p.OwnRows, 1)
					next = p.OwnEnd()
					total += p.OwnRows
				}
				assert.Equal(t, height, next)
				assert.Equal(t, height, total)
				assert.Zero(t, parts[0].HaloAbove)
				assert.Zero(t, parts[workers-1].HaloBelow)
			}
		}
	}
}

func TestComputeHalo(t *testing.T) {
	parts, err := Compute(12, 4, 5, 3)
	require.NoError(t, err)
	assert.Equal(t, []common.Partition{
		{Rank: 0, RowStart: 0, RowEnd: 6, HaloAbove: 0, HaloBelow: 2, OwnRows: 4},
		{Rank: 1, RowStart: 2, RowEnd: 10, HaloAbove: 2, HaloBelow: 2, OwnRows: 4},
		{Rank: 2, RowStart: 6, RowEnd: 12, HaloAbove: 2, HaloBelow: 0, OwnRows: 4},
	}, parts)
}

func TestComputeHaloClippedNearEdge(t *testing.T) {
	// 7 rows over 4 workers: shares 1,2,2,2 with a 7-row kernel.
	parts, err := Compute(7, 2, 7, 4)
	require.NoError(t, err)
	require.Len(t, parts, 4)
	assert.Equal(t, common.Partition{Rank: 1, RowStart: 0, RowEnd: 6, HaloAbove: 1, HaloBelow: 3, OwnRows: 2}, parts[1])
	assert.Equal(t, 0, parts[1].RowStart)
}

func TestComputeSingleWorker(t *testing.T) {
	parts, err := Compute(9, 9, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, []common.Partition{{Rank: 0, RowStart: 0, RowEnd: 9, OwnRows: 9}}, parts)
}

func TestComputeRejects(t *testing.T) {
	_, err := Compute(10, 4, 4, 2)
	assert.Equal(t, common.ExitEvenKernel, common.ExitCode(err))

	_, err = Compute(10, 4, 3, 0)
	assert.Equal(t, common.ExitBadArguments, common.ExitCode(err))

	_, err = Compute(3, 4, 3, 4)
	require.ErrorIs(t, err, ErrTooManyWorkers)
	assert.Equal(t, common.ExitPartition, common.ExitCode(err))

	// 10 rows, 7 workers: inner ranks take everything, ends get nothing.
	_, err = Compute(10, 4, 3, 7)
	var cfg *common.ConfigurationError
	require.True(t, errors.As(err, &cfg))
	assert.Equal(t, common.ExitPartition, cfg.Code)
}

func TestLayout(t *testing.T) {
	parts, err := Compute(10, 3, 3, 3)
	require.NoError(t, err)
	l := Layout(parts, 3)
	assert.Equal(t, []int{9, 12, 9}, l.Counts)
	assert.Equal(t, []int{0, 9, 21}, l.Displs)
}

func TestPlan(t *testing.T) {
	parts, err := Plan(&common.Header{Width: 4, Height: 10, MaxValue: 65535}, 3, 3)
	require.NoError(t, err)
	assert.Len(t, parts, 3)

	_, err = Plan(&common.Header{Width: 4, Height: 10, MaxValue: 100}, 3, 3)
	assert.Equal(t, common.ExitUnsupportedDepth, common.ExitCode(err))

	_, err = Plan(&common.Header{Width: 4, Height: 2, MaxValue: 255}, 3, 3)
	assert.Equal(t, common.ExitPartition, common.ExitCode(err))

	abort := &common.Abort{Code: common.ExitBadExtension, Message: "bad input"}
	_, err = Plan(&common.Header{Abort: abort}, 3, 3)
	assert.Equal(t, common.ExitBadExtension, common.ExitCode(err))
	assert.Contains(t, err.Error(), "bad input")
}
