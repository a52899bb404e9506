package transport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"go-blur-halo/pkg/common"
	"go-blur-halo/pkg/partition"
)

const (
	testWidth  = 5
	testHeight = 11
)

func testImage() []uint16 {
	pix := make([]uint16, testWidth*testHeight)
	for i := range pix {
		pix[i] = uint16(1000 + i)
	}
	return pix
}

// exchange runs one header broadcast, scatter and gather across ranks and
// returns the gathered buffer on the root.
func exchange(t *testing.T, ranks []Transport) []uint16 {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	img := testImage()
	size := len(ranks)
	parts, err := partition.Compute(testHeight, testWidth, 3, size)
	require.NoError(t, err)
	layout := partition.Layout(parts, testWidth)
	layout.Dst = make([]uint16, len(img))

	g, gctx := errgroup.WithContext(ctx)
	for _, tr := range ranks[1:] {
		tr := tr
		g.Go(func() error {
			hdr, err := tr.BroadcastHeader(gctx, nil)
			if err != nil {
				return err
			}
			if hdr.Width != testWidth || hdr.Height != testHeight {
				return fmt.Errorf("rank %d got header %+v", tr.Rank(), hdr)
			}
			b, err := tr.ReceiveBlock(gctx)
			if err != nil {
				return err
			}
			if b.Partition != parts[tr.Rank()] {
				return fmt.Errorf("rank %d got partition %+v", tr.Rank(), b.Partition)
			}
			own := b.Pix[b.HaloAbove*b.Width : (b.HaloAbove+b.OwnRows)*b.Width]
			return tr.GatherBlocks(gctx, own, nil)
		})
	}

	root := ranks[Root]
	_, err = root.BroadcastHeader(ctx, &common.Header{Width: testWidth, Height: testHeight, MaxValue: 65535})
	require.NoError(t, err)

	var blocks []*common.WorkBlock
	for _, p := range parts[1:] {
		blocks = append(blocks, &common.WorkBlock{
			Partition: p,
			Width:     testWidth,
			Pix:       img[p.RowStart*testWidth : p.RowEnd*testWidth],
		})
	}
	req, err := root.ScatterBlocks(ctx, blocks)
	require.NoError(t, err)
	require.NoError(t, req.Wait(ctx))

	// Scribble over the source once the sends completed: receivers must
	// not observe it.
	for i := range img {
		img[i] = 0
	}
	own := layout.Dst[:layout.Counts[Root]]
	copy(own, testImage())
	require.NoError(t, root.GatherBlocks(ctx, own, layout))
	require.NoError(t, g.Wait())
	return layout.Dst
}

func TestLocalExchange(t *testing.T) {
	for size := 1; size <= 5; size++ {
		group := NewLocalGroup(size)
		ranks := make([]Transport, size)
		for i, l := range group {
			ranks[i] = l
		}
		assert.Equal(t, testImage(), exchange(t, ranks), "size %d", size)
	}
}

func TestLocalHeaderIsCopied(t *testing.T) {
	ctx := context.Background()
	group := NewLocalGroup(2)
	hdr := &common.Header{Width: 1, Height: 1, Abort: &common.Abort{Code: 4, Message: "bad"}}
	_, err := group[0].BroadcastHeader(ctx, hdr)
	require.NoError(t, err)
	hdr.Abort.Code = 9

	got, err := group[1].BroadcastHeader(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Abort.Code)
}

func TestLocalRejectsMisuse(t *testing.T) {
	ctx := context.Background()
	group := NewLocalGroup(3)

	_, err := group[1].ScatterBlocks(ctx, nil)
	require.Error(t, err)

	_, err = group[0].ReceiveBlock(ctx)
	require.Error(t, err)

	block := &common.WorkBlock{Partition: common.Partition{Rank: 1, RowEnd: 1, OwnRows: 1}, Width: 2, Pix: []uint16{1, 2}}
	_, err = group[0].ScatterBlocks(ctx, []*common.WorkBlock{block, block})
	require.Error(t, err)

	short := &common.WorkBlock{Partition: common.Partition{Rank: 2, RowEnd: 1, OwnRows: 1}, Width: 2, Pix: []uint16{1}}
	_, err = group[0].ScatterBlocks(ctx, []*common.WorkBlock{short})
	require.Error(t, err)

	err = group[0].GatherBlocks(ctx, nil, &common.GatherLayout{Counts: []int{1}, Displs: []int{0}})
	require.Error(t, err)
}

func TestLocalGatherRejectsWrongSize(t *testing.T) {
	ctx := context.Background()
	group := NewLocalGroup(2)
	require.NoError(t, group[1].GatherBlocks(ctx, []uint16{1, 2, 3}, nil))

	layout := &common.GatherLayout{Dst: make([]uint16, 4), Counts: []int{2, 2}, Displs: []int{0, 2}}
	err := group[0].GatherBlocks(ctx, []uint16{7, 8}, layout)
	require.Error(t, err)
}

func TestLocalReceiveHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLocalGroup(2)[1].ReceiveBlock(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestPlaceOwnAliasing(t *testing.T) {
	dst := []uint16{0, 0, 9, 9}
	layout := &common.GatherLayout{Dst: dst, Counts: []int{2, 2}, Displs: []int{0, 2}}

	require.NoError(t, placeOwn([]uint16{5, 6}, layout))
	assert.Equal(t, []uint16{5, 6, 9, 9}, dst)

	dst[0] = 42
	require.NoError(t, placeOwn(dst[:2], layout))
	assert.Equal(t, uint16(42), dst[0])
	assert.True(t, aliases(dst[:2], layout.Dst[:2]))
	assert.False(t, aliases(dst[:2], []uint16{42, 6}))
}

func newRedisGroup(t *testing.T, s *miniredis.Miniredis, runID string, size int, compress bool) []Transport {
	t.Helper()
	ranks := make([]Transport, size)
	for i := range ranks {
		client := redis.NewClient(&redis.Options{Addr: s.Addr()})
		r, err := NewRedisWithClient(context.Background(), client, RedisOptions{
			RunID:    runID,
			Rank:     i,
			Size:     size,
			Compress: compress,
		})
		require.NoError(t, err)
		ranks[i] = r
	}
	return ranks
}

func TestRedisExchange(t *testing.T) {
	s := miniredis.RunT(t)
	for _, tc := range []struct {
		size     int
		compress bool
	}{
		{1, false},
		{2, false},
		{3, true},
		{4, false},
	} {
		runID := fmt.Sprintf("run-%d-%v", tc.size, tc.compress)
		ranks := newRedisGroup(t, s, runID, tc.size, tc.compress)
		assert.Equal(t, testImage(), exchange(t, ranks), "size %d", tc.size)
		for _, r := range ranks {
			require.NoError(t, r.Close())
		}
		assert.False(t, s.Exists("halo:"+runID+":header"))
		assert.False(t, s.Exists("halo:"+runID+":gather"))
	}
}

func TestRedisSetsKeyTTL(t *testing.T) {
	s := miniredis.RunT(t)
	ranks := newRedisGroup(t, s, "ttl", 2, false)
	_, err := ranks[0].BroadcastHeader(context.Background(), &common.Header{Width: 1, Height: 1, MaxValue: 255})
	require.NoError(t, err)
	assert.Equal(t, keyTTL, s.TTL("halo:ttl:header"))
}

func TestRedisKeepsKeysOfUnfinishedRun(t *testing.T) {
	s := miniredis.RunT(t)
	ranks := newRedisGroup(t, s, "aborted", 2, false)
	abort := &common.Abort{Code: common.ExitUnsupportedDepth, Message: "8bit"}
	_, err := ranks[0].BroadcastHeader(context.Background(), &common.Header{Abort: abort})
	require.NoError(t, err)
	require.NoError(t, ranks[0].Close())

	hdr, err := ranks[1].BroadcastHeader(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, abort, hdr.Abort)
	require.NoError(t, ranks[1].Close())
}

func TestRedisRefusesUsedRunID(t *testing.T) {
	s := miniredis.RunT(t)
	ctx := context.Background()
	hdr := &common.Header{Width: 2, Height: 2, MaxValue: 255}

	first := newRedisGroup(t, s, "reused", 2, false)
	_, err := first[0].BroadcastHeader(ctx, hdr)
	require.NoError(t, err)
	require.NoError(t, first[0].Close())

	second := newRedisGroup(t, s, "reused", 2, false)
	_, err = second[0].BroadcastHeader(ctx, hdr)
	require.Error(t, err)
	assert.Equal(t, common.ExitBadArguments, common.ExitCode(err))
	assert.Contains(t, err.Error(), `"reused"`)
	assert.True(t, s.Exists("halo:reused:header"))
}

func TestRedisOptionsValidated(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	_, err := NewRedisWithClient(context.Background(), client, RedisOptions{RunID: "x", Rank: 2, Size: 2})
	assert.Equal(t, common.ExitBadArguments, common.ExitCode(err))

	_, err = NewRedisWithClient(context.Background(), client, RedisOptions{Rank: 0, Size: 2})
	assert.Equal(t, common.ExitBadArguments, common.ExitCode(err))
}

func TestRedisUnreachableIsEnvironmentError(t *testing.T) {
	s := miniredis.RunT(t)
	addr := s.Addr()
	s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := NewRedis(ctx, RedisOptions{Addr: addr, RunID: "x", Rank: 0, Size: 1})
	require.Error(t, err)
	assert.Equal(t, common.ExitEnvironment, common.ExitCode(err))
}

func TestRedisPayloadCodec(t *testing.T) {
	s := miniredis.RunT(t)
	for _, compress := range []bool{false, true} {
		r := newRedisGroup(t, s, "codec", 1, compress)[0].(*Redis)
		pix := []uint16{0, 1, 0xff00, 0xffff, 12345}
		enc, data := r.encode(pix)
		got, err := r.decode(enc, string(data))
		require.NoError(t, err)
		assert.Equal(t, pix, got)

		_, err = r.decode("gzip", data)
		require.Error(t, err)
		require.NoError(t, r.Close())
	}
}
