package processor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-blur-halo/pkg/blur"
	"go-blur-halo/pkg/byteorder"
	"go-blur-halo/pkg/common"
	"go-blur-halo/pkg/partition"
	"go-blur-halo/pkg/transport"
)

func TestWorkerBlursOwnRows(t *testing.T) {
	ctx := context.Background()
	k, err := blur.NewKernel(1, 3, []float64{1, 1, 1})
	require.NoError(t, err)
	ranks := transport.NewLocalGroup(2)
	root := ranks[0]

	// 1 column, 6 rows: rank 1 owns rows 3..5 and sees row 2 as halo.
	values := []uint16{0, 0, 30, 60, 90, 120}
	hdr := &common.Header{Width: 1, Height: 6, MaxValue: 65535}
	parts, err := partition.Compute(6, 1, 3, 2)
	require.NoError(t, err)
	p := parts[1]

	pix := append([]uint16(nil), values[p.RowStart:p.RowEnd]...)
	norm := byteorder.Host(nil)
	require.NoError(t, norm.SwapRows(ctx, pix, p.Rows(), 1))

	_, err = root.BroadcastHeader(ctx, hdr)
	require.NoError(t, err)
	req, err := root.ScatterBlocks(ctx, []*common.WorkBlock{{Partition: p, Width: 1, Pix: pix}})
	require.NoError(t, err)
	require.NoError(t, req.Wait(ctx))

	done := make(chan error, 1)
	go func() {
		timings, err := NewWorker(ranks[1], k, nil, nil).Run(ctx)
		assert.Equal(t, 1, timings.Rank)
		assert.Equal(t, 3, timings.Samples)
		done <- err
	}()

	layout := partition.Layout(parts, 1)
	layout.Dst = make([]uint16, 6)
	require.NoError(t, root.GatherBlocks(ctx, layout.Dst[:layout.Counts[0]], layout))
	require.NoError(t, <-done)

	got := layout.Dst[3:]
	require.NoError(t, norm.SwapRows(ctx, got, 3, 1))
	assert.Equal(t, []uint16{60, 90, 105}, got)
}

func TestWorkerRejectsUnexpectedBlock(t *testing.T) {
	ctx := context.Background()
	k, err := blur.Uniform(3, 3)
	require.NoError(t, err)
	ranks := transport.NewLocalGroup(2)

	_, err = ranks[0].BroadcastHeader(ctx, &common.Header{Width: 2, Height: 10, MaxValue: 255})
	require.NoError(t, err)
	// Halo computed for a 5-row kernel while the worker blurs with 3 rows.
	parts, err := partition.Compute(10, 2, 5, 2)
	require.NoError(t, err)
	p := parts[1]
	_, err = ranks[0].ScatterBlocks(ctx, []*common.WorkBlock{{Partition: p, Width: 2, Pix: make([]uint16, p.Rows()*2)}})
	require.NoError(t, err)

	_, err = NewWorker(ranks[1], k, nil, nil).Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected")
}

func TestWorkerStopsOnAbort(t *testing.T) {
	ctx := context.Background()
	k, err := blur.Uniform(3, 3)
	require.NoError(t, err)
	ranks := transport.NewLocalGroup(2)

	abort := &common.Abort{Code: common.ExitUnsupportedDepth, Message: "8bit"}
	_, err = ranks[0].BroadcastHeader(ctx, &common.Header{Abort: abort})
	require.NoError(t, err)

	_, err = NewWorker(ranks[1], k, nil, nil).Run(ctx)
	assert.Equal(t, common.ExitUnsupportedDepth, common.ExitCode(err))
}

func TestWorkerHonoursContext(t *testing.T) {
	k, err := blur.Uniform(3, 3)
	require.NoError(t, err)
	ranks := transport.NewLocalGroup(2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewWorker(ranks[1], k, nil, nil).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
