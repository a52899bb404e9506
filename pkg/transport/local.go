package transport

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"go-blur-halo/pkg/common"
)

type contribution struct {
	rank int
	pix  []uint16
}

// localGroup is the shared state of ranks running in one process.
type localGroup struct {
	size    int
	headers []chan *common.Header
	blocks  []chan *common.WorkBlock
	gather  chan contribution
}

// Local is an in-process Transport. Every message is copied, so ranks never
// share a buffer.
type Local struct {
	rank  int
	group *localGroup
}

// NewLocalGroup returns one connected Transport per rank.
func NewLocalGroup(size int) []*Local {
	g := &localGroup{
		size:    size,
		headers: make([]chan *common.Header, size),
		blocks:  make([]chan *common.WorkBlock, size),
		gather:  make(chan contribution, size),
	}
	ranks := make([]*Local, size)
	for i := range ranks {
		g.headers[i] = make(chan *common.Header, 1)
		g.blocks[i] = make(chan *common.WorkBlock, 1)
		ranks[i] = &Local{rank: i, group: g}
	}
	return ranks
}

func (l *Local) Rank() int { return l.rank }
func (l *Local) Size() int { return l.group.size }

func (l *Local) BroadcastHeader(ctx context.Context, hdr *common.Header) (*common.Header, error) {
	if l.rank != Root {
		select {
		case h := <-l.group.headers[l.rank]:
			return h, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if hdr == nil {
		return nil, fmt.Errorf("broadcast: root has no header")
	}
	for rank := 1; rank < l.group.size; rank++ {
		h := *hdr
		if hdr.Abort != nil {
			a := *hdr.Abort
			h.Abort = &a
		}
		select {
		case l.group.headers[rank] <- &h:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return hdr, nil
}

func (l *Local) ScatterBlocks(ctx context.Context, blocks []*common.WorkBlock) (Request, error) {
	if err := checkRoot(l, "scatter"); err != nil {
		return nil, err
	}
	if err := checkBlocks(l, blocks); err != nil {
		return nil, err
	}

	req := &waitRequest{done: make(chan struct{})}
	g, gctx := errgroup.WithContext(ctx)
	for _, b := range blocks {
		b := b
		g.Go(func() error {
			msg := &common.WorkBlock{
				Partition: b.Partition,
				Width:     b.Width,
				Pix:       append([]uint16(nil), b.Pix...),
			}
			select {
			case l.group.blocks[b.Rank] <- msg:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	go func() {
		req.err = g.Wait()
		close(req.done)
	}()
	return req, nil
}

func (l *Local) ReceiveBlock(ctx context.Context) (*common.WorkBlock, error) {
	if l.rank == Root {
		return nil, fmt.Errorf("receive: the root keeps its block in place")
	}
	select {
	case b := <-l.group.blocks[l.rank]:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Local) GatherBlocks(ctx context.Context, pix []uint16, layout *common.GatherLayout) error {
	if l.rank != Root {
		msg := contribution{rank: l.rank, pix: append([]uint16(nil), pix...)}
		select {
		case l.group.gather <- msg:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := checkLayout(layout, l.group.size); err != nil {
		return err
	}
	if err := placeOwn(pix, layout); err != nil {
		return err
	}
	received := make(map[int]bool, l.group.size)
	for len(received) < l.group.size-1 {
		var c contribution
		select {
		case c = <-l.group.gather:
		case <-ctx.Done():
			return ctx.Err()
		}
		if received[c.rank] {
			continue
		}
		if err := place(layout, c.rank, c.pix); err != nil {
			return err
		}
		received[c.rank] = true
	}
	return nil
}

func (l *Local) Close() error { return nil }

// place copies a non-root contribution into its slot.
func place(layout *common.GatherLayout, rank int, pix []uint16) error {
	if rank <= Root || rank >= len(layout.Counts) {
		return fmt.Errorf("gather: contribution from unknown rank %d", rank)
	}
	if len(pix) != layout.Counts[rank] {
		return fmt.Errorf("gather: rank %d contributed %d samples, want %d", rank, len(pix), layout.Counts[rank])
	}
	copy(layout.Dst[layout.Displs[rank]:], pix)
	return nil
}
