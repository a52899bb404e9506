package assembler

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"go-blur-halo/pkg/blur"
	"go-blur-halo/pkg/common"
	"go-blur-halo/pkg/coordinator"
	"go-blur-halo/pkg/imageio"
	"go-blur-halo/pkg/processor"
	"go-blur-halo/pkg/transport"
)

func valuesImage(width, height int, seed int64) []uint16 {
	r := rand.New(rand.NewSource(seed))
	values := make([]uint16, width*height)
	for i := range values {
		values[i] = uint16(r.Intn(65536))
	}
	return values
}

// run blurs a copy of values over size in-process ranks and returns the
// numeric values of the assembled image.
func run(t *testing.T, values []uint16, width, height, size int, k *blur.Kernel, sink Sink) []uint16 {
	ctx := context.Background()
	ranks := transport.NewLocalGroup(size)
	img := imageio.FromValues(width, height, 65535, values)

	var out *common.Image
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		job, err := coordinator.NewCoordinator(ranks[0], k, nil, nil).Distribute(gctx, img)
		if err != nil {
			return err
		}
		out, err = NewAssembler(ranks[0], sink).Assemble(gctx, job, "out.pgm")
		return err
	})
	for _, r := range ranks[1:] {
		r := r
		g.Go(func() error {
			_, err := processor.NewWorker(r, k, nil, nil).Run(gctx)
			return err
		})
	}
	require.NoError(t, g.Wait())
	return imageio.Values(out)
}

func TestRanksAgreeWithSingleBlock(t *testing.T) {
	k, err := blur.Gaussian(5, 7)
	require.NoError(t, err)
	const width, height = 13, 17
	values := valuesImage(width, height, 7)

	want, err := blur.ConvolveImage(context.Background(),
		&common.Image{Pix: append([]uint16(nil), values...), Width: width, Height: height, MaxValue: 65535}, k, nil)
	require.NoError(t, err)

	discard := func(string, *common.Image) error { return nil }
	for size := 1; size <= 6; size++ {
		t.Run(fmt.Sprintf("ranks=%d", size), func(t *testing.T) {
			got := run(t, values, width, height, size, k, discard)
			assert.Equal(t, want.Pix, got)
		})
	}
}

func TestAssembleWritesOnce(t *testing.T) {
	k, err := blur.Uniform(3, 3)
	require.NoError(t, err)

	calls := 0
	var path string
	sink := func(p string, img *common.Image) error {
		calls++
		path = p
		assert.Equal(t, 5, img.Width)
		assert.Equal(t, 8, img.Height)
		return nil
	}
	run(t, valuesImage(5, 8, 1), 5, 8, 3, k, sink)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "out.pgm", path)
}

func TestNothingWrittenWhenGatherFails(t *testing.T) {
	k, err := blur.Uniform(3, 3)
	require.NoError(t, err)
	ranks := transport.NewLocalGroup(2)

	job, err := coordinator.NewCoordinator(ranks[0], k, nil, nil).Distribute(context.Background(),
		imageio.FromValues(4, 6, 65535, valuesImage(4, 6, 2)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	_, err = NewAssembler(ranks[0], func(string, *common.Image) error {
		called = true
		return nil
	}).Assemble(ctx, job, "never.pgm")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestAssembleToFile(t *testing.T) {
	k, err := blur.Uniform(1, 1)
	require.NoError(t, err)
	values := valuesImage(4, 4, 3)
	path := filepath.Join(t.TempDir(), "out.pgm")

	ranks := transport.NewLocalGroup(1)
	job, err := coordinator.NewCoordinator(ranks[0], k, nil, nil).Distribute(context.Background(),
		imageio.FromValues(4, 4, 65535, values))
	require.NoError(t, err)
	_, err = NewAssembler(ranks[0], nil).Assemble(context.Background(), job, path)
	require.NoError(t, err)

	img, err := imageio.Load(path)
	require.NoError(t, err)
	assert.Equal(t, values, imageio.Values(img))
}
