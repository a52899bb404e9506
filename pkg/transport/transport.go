// Package transport moves headers, work blocks and blurred rows between ranks.
//
// Rank 0 is the coordinator. It broadcasts the image header, scatters one
// work block to every other rank and gathers the blurred rows back. Sends
// are issued without waiting; the returned Request is awaited as a batch.
// No operation has a timeout: a missing rank blocks its peers until ctx ends.
package transport

import (
	"context"
	"fmt"

	"go-blur-halo/pkg/common"
)

// Root is the rank of the coordinator.
const Root = 0

type Transport interface {
	Rank() int
	Size() int

	// BroadcastHeader sends hdr from the root to every rank. Non-root
	// callers pass nil and block until the header arrives.
	BroadcastHeader(ctx context.Context, hdr *common.Header) (*common.Header, error)

	// ScatterBlocks starts sending one block per non-root rank. The root
	// must not modify the source rows until the Request completes.
	ScatterBlocks(ctx context.Context, blocks []*common.WorkBlock) (Request, error)

	// ReceiveBlock blocks until this rank's work block arrives.
	ReceiveBlock(ctx context.Context) (*common.WorkBlock, error)

	// GatherBlocks collects every rank's contribution into layout.Dst on
	// the root. Non-root ranks pass a nil layout. The root's contribution
	// may alias its own slot of layout.Dst, in which case nothing is copied.
	GatherBlocks(ctx context.Context, contribution []uint16, layout *common.GatherLayout) error

	Close() error
}

// Request tracks a batch of outstanding sends.
type Request interface {
	Wait(ctx context.Context) error
}

// waitRequest completes when done is closed.
type waitRequest struct {
	done chan struct{}
	err  error
}

func (r *waitRequest) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func checkRoot(t Transport, op string) error {
	if t.Rank() != Root {
		return fmt.Errorf("%s: rank %d is not the root", op, t.Rank())
	}
	return nil
}

func checkBlocks(t Transport, blocks []*common.WorkBlock) error {
	seen := make(map[int]bool, len(blocks))
	for _, b := range blocks {
		if b.Rank <= Root || b.Rank >= t.Size() {
			return fmt.Errorf("scatter: block for invalid rank %d of %d", b.Rank, t.Size())
		}
		if seen[b.Rank] {
			return fmt.Errorf("scatter: duplicate block for rank %d", b.Rank)
		}
		if len(b.Pix) != b.Rows()*b.Width {
			return fmt.Errorf("scatter: block for rank %d has %d samples, want %d", b.Rank, len(b.Pix), b.Rows()*b.Width)
		}
		seen[b.Rank] = true
	}
	return nil
}

func checkLayout(layout *common.GatherLayout, size int) error {
	if layout == nil || len(layout.Counts) != size || len(layout.Displs) != size {
		return fmt.Errorf("gather: root needs a layout for %d ranks", size)
	}
	for i := range layout.Counts {
		if layout.Displs[i]+layout.Counts[i] > len(layout.Dst) {
			return fmt.Errorf("gather: slot %d overflows destination of %d samples", i, len(layout.Dst))
		}
	}
	return nil
}

// placeOwn puts the root's contribution in its slot unless it already lives there.
func placeOwn(contribution []uint16, layout *common.GatherLayout) error {
	if len(contribution) != layout.Counts[Root] {
		return fmt.Errorf("gather: root contributed %d samples, want %d", len(contribution), layout.Counts[Root])
	}
	slot := layout.Dst[layout.Displs[Root] : layout.Displs[Root]+layout.Counts[Root]]
	if aliases(contribution, slot) {
		return nil
	}
	copy(slot, contribution)
	return nil
}

func aliases(a, b []uint16) bool {
	return len(a) > 0 && len(b) > 0 && &a[0] == &b[0]
}
