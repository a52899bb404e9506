// Package byteorder converts pixel buffers between the stored big-endian
// sample layout and the host's native layout.
package byteorder

import (
	"context"
	"fmt"
	"math/bits"

	"golang.org/x/sys/cpu"

	"go-blur-halo/pkg/parallel"
)

// Normalizer swaps the two bytes of every 16-bit sample when the host is
// little-endian. The decision is taken once, at construction.
type Normalizer struct {
	swap bool
	pool *parallel.Pool
}

// Host returns a Normalizer for the byte order of the running machine.
func Host(pool *parallel.Pool) *Normalizer {
	return New(!cpu.IsBigEndian, pool)
}

// New returns a Normalizer that swaps when littleEndian is true.
func New(littleEndian bool, pool *parallel.Pool) *Normalizer {
	if pool == nil {
		pool = parallel.New(1)
	}
	return &Normalizer{swap: littleEndian, pool: pool}
}

// Swaps reports whether SwapRows changes buffers on this host.
func (n *Normalizer) Swaps() bool {
	return n.swap
}

// SwapRows converts the first rows*width samples of buf in place. Calling it
// twice restores the original buffer.
func (n *Normalizer) SwapRows(ctx context.Context, buf []uint16, rows, width int) error {
	if rows*width > len(buf) {
		return fmt.Errorf("swap %dx%d rows: buffer holds only %d samples", rows, width, len(buf))
	}
	if !n.swap {
		return ctx.Err()
	}
	return n.pool.Rows(ctx, rows, func(start, end int) {
		Swap(buf[start*width : end*width])
	})
}

// Swap reverses the bytes of every sample in buf.
func Swap(buf []uint16) {
	for i, v := range buf {
		buf[i] = bits.ReverseBytes16(v)
	}
}
