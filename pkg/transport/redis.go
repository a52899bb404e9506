package transport

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/klauspost/compress/zstd"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"go-blur-halo/pkg/common"
	"go-blur-halo/pkg/logging"
)

const (
	keyTTL      = 24 * time.Hour
	gatherGroup = "coordinator"

	encRaw  = "raw"
	encZstd = "zstd"
)

type RedisOptions struct {
	Addr  string
	RunID string
	Rank  int
	Size  int
	// Compress zstd-compresses sample payloads.
	Compress bool
}

// Redis is a Transport over Redis Streams. Every run lives under its own key
// prefix so concurrent runs can share a server.
type Redis struct {
	client   *redis.Client
	runID    string
	rank     int
	size     int
	consumer string
	compress bool
	enc      *zstd.Encoder
	dec      *zstd.Decoder
	// gathered is set on the root once every contribution arrived.
	gathered bool
}

// NewRedis connects to the server at opts.Addr.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:                  opts.Addr,
		MaxRetries:            3,
		DialTimeout:           5 * time.Second,
		WriteTimeout:          3 * time.Second,
		ContextTimeoutEnabled: true,
	})
	r, err := NewRedisWithClient(ctx, client, opts)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return r, nil
}

// NewRedisWithClient wraps an existing client. The transport owns it afterwards.
func NewRedisWithClient(ctx context.Context, client *redis.Client, opts RedisOptions) (*Redis, error) {
	if opts.Size < 1 || opts.Rank < 0 || opts.Rank >= opts.Size {
		return nil, common.Configf(common.ExitBadArguments, "rank %d out of range for %d ranks", opts.Rank, opts.Size)
	}
	if opts.RunID == "" {
		return nil, common.Configf(common.ExitBadArguments, "redis transport needs a run id shared by all ranks")
	}

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, &common.EnvironmentError{Msg: "redis ping failed", Err: err}
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	r := &Redis{
		client:   client,
		runID:    opts.RunID,
		rank:     opts.Rank,
		size:     opts.Size,
		consumer: fmt.Sprintf("rank-%d-%s", opts.Rank, uuid.NewString()),
		compress: opts.Compress,
		enc:      enc,
		dec:      dec,
	}
	// XLEN fails on servers older than 5.0.
	if err := client.XLen(ctx, r.headerStream()).Err(); err != nil {
		r.enc.Close()
		r.dec.Close()
		return nil, &common.EnvironmentError{Msg: "redis server does not support streams", Err: err}
	}
	return r, nil
}

func (r *Redis) Rank() int { return r.rank }
func (r *Redis) Size() int { return r.size }

func (r *Redis) headerStream() string { return fmt.Sprintf("halo:%s:header", r.runID) }
func (r *Redis) gatherStream() string { return fmt.Sprintf("halo:%s:gather", r.runID) }
func (r *Redis) blockStream(rank int) string {
	return fmt.Sprintf("halo:%s:block:%d", r.runID, rank)
}

func (r *Redis) add(ctx context.Context, stream string, values map[string]any) error {
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values})
		pipe.Expire(ctx, stream, keyTTL)
		return nil
	})
	return err
}

// readFirst blocks until stream has an entry and returns the oldest one.
func (r *Redis) readFirst(ctx context.Context, stream string) (redis.XMessage, error) {
	res, err := r.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, "0"},
		Count:   1,
		Block:   0,
	}).Result()
	if err != nil {
		return redis.XMessage{}, err
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return redis.XMessage{}, fmt.Errorf("empty read from %s", stream)
	}
	return res[0].Messages[0], nil
}

func (r *Redis) BroadcastHeader(ctx context.Context, hdr *common.Header) (*common.Header, error) {
	if r.rank == Root {
		if hdr == nil {
			return nil, fmt.Errorf("broadcast: root has no header")
		}
		n, err := r.client.XLen(ctx, r.headerStream()).Result()
		if err != nil {
			return nil, fmt.Errorf("broadcast header: %w", err)
		}
		if n > 0 {
			return nil, common.Configf(common.ExitBadArguments,
				"run id %q was already used; pick a fresh --run-id", r.runID)
		}
		b, err := json.Marshal(hdr)
		if err != nil {
			return nil, err
		}
		if err := r.add(ctx, r.headerStream(), map[string]any{"data": b}); err != nil {
			return nil, fmt.Errorf("broadcast header: %w", err)
		}
		return hdr, nil
	}

	msg, err := r.readFirst(ctx, r.headerStream())
	if err != nil {
		return nil, fmt.Errorf("receive header: %w", err)
	}
	var h common.Header
	if err := json.Unmarshal(bytesFromAny(msg.Values["data"]), &h); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	return &h, nil
}

func (r *Redis) ScatterBlocks(ctx context.Context, blocks []*common.WorkBlock) (Request, error) {
	if err := checkRoot(r, "scatter"); err != nil {
		return nil, err
	}
	if err := checkBlocks(r, blocks); err != nil {
		return nil, err
	}

	req := &waitRequest{done: make(chan struct{})}
	g, gctx := errgroup.WithContext(ctx)
	for _, b := range blocks {
		b := b
		g.Go(func() error {
			meta, err := json.Marshal(b)
			if err != nil {
				return err
			}
			enc, payload := r.encode(b.Pix)
			err = r.add(gctx, r.blockStream(b.Rank), map[string]any{
				"meta": meta,
				"enc":  enc,
				"data": payload,
			})
			if err != nil {
				return fmt.Errorf("send block to rank %d: %w", b.Rank, err)
			}
			return nil
		})
	}
	go func() {
		req.err = g.Wait()
		close(req.done)
	}()
	return req, nil
}

func (r *Redis) ReceiveBlock(ctx context.Context) (*common.WorkBlock, error) {
	if r.rank == Root {
		return nil, fmt.Errorf("receive: the root keeps its block in place")
	}
	msg, err := r.readFirst(ctx, r.blockStream(r.rank))
	if err != nil {
		return nil, fmt.Errorf("receive block: %w", err)
	}
	var b common.WorkBlock
	if err := json.Unmarshal(bytesFromAny(msg.Values["meta"]), &b); err != nil {
		return nil, fmt.Errorf("decode block meta: %w", err)
	}
	b.Pix, err = r.decode(msg.Values["enc"], msg.Values["data"])
	if err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}
	if len(b.Pix) != b.Rows()*b.Width {
		return nil, fmt.Errorf("block for rank %d has %d samples, want %d", b.Rank, len(b.Pix), b.Rows()*b.Width)
	}
	return &b, nil
}

func (r *Redis) GatherBlocks(ctx context.Context, pix []uint16, layout *common.GatherLayout) error {
	if r.rank != Root {
		enc, payload := r.encode(pix)
		err := r.add(ctx, r.gatherStream(), map[string]any{
			"rank": r.rank,
			"enc":  enc,
			"data": payload,
		})
		if err != nil {
			return fmt.Errorf("send contribution: %w", err)
		}
		return nil
	}

	if err := checkLayout(layout, r.size); err != nil {
		return err
	}
	if err := placeOwn(pix, layout); err != nil {
		return err
	}
	if r.size == 1 {
		r.gathered = true
		return nil
	}
	err := r.client.XGroupCreateMkStream(ctx, r.gatherStream(), gatherGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create gather group: %w", err)
	}

	received := make(map[int]bool, r.size)
	for len(received) < r.size-1 {
		res, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    gatherGroup,
			Consumer: r.consumer,
			Streams:  []string{r.gatherStream(), ">"},
			Count:    int64(r.size),
			Block:    0,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return fmt.Errorf("gather: %w", err)
		}
		for _, stream := range res {
			for _, msg := range stream.Messages {
				rank, err := strconv.Atoi(string(bytesFromAny(msg.Values["rank"])))
				if err != nil {
					return fmt.Errorf("gather: bad rank in %s: %w", msg.ID, err)
				}
				if received[rank] {
					logging.Logger().Warn("Coordinator: duplicate contribution ignored", "rank", rank)
				} else {
					samples, err := r.decode(msg.Values["enc"], msg.Values["data"])
					if err != nil {
						return fmt.Errorf("gather: rank %d: %w", rank, err)
					}
					if err := place(layout, rank, samples); err != nil {
						return err
					}
					received[rank] = true
				}
				if err := r.client.XAck(ctx, r.gatherStream(), gatherGroup, msg.ID).Err(); err != nil {
					return fmt.Errorf("gather: ack %s: %w", msg.ID, err)
				}
			}
		}
	}
	r.gathered = true
	return nil
}

// Close releases the connection. After a completed gather the root also
// deletes the run's keys; otherwise they are left to expire so that ranks
// still reading an aborted header can see it.
func (r *Redis) Close() error {
	var result *multierror.Error
	if r.rank == Root && r.gathered {
		keys := []string{r.headerStream(), r.gatherStream()}
		for rank := 1; rank < r.size; rank++ {
			keys = append(keys, r.blockStream(rank))
		}
		if err := r.client.Del(context.Background(), keys...).Err(); err != nil {
			result = multierror.Append(result, fmt.Errorf("delete run keys: %w", err))
		}
	}
	r.enc.Close()
	r.dec.Close()
	if err := r.client.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (r *Redis) encode(pix []uint16) (string, []byte) {
	raw := make([]byte, 2*len(pix))
	for i, v := range pix {
		binary.LittleEndian.PutUint16(raw[2*i:], v)
	}
	if !r.compress {
		return encRaw, raw
	}
	return encZstd, r.enc.EncodeAll(raw, nil)
}

func (r *Redis) decode(enc, data any) ([]uint16, error) {
	raw := bytesFromAny(data)
	switch e := string(bytesFromAny(enc)); e {
	case encRaw:
	case encZstd:
		var err error
		if raw, err = r.dec.DecodeAll(raw, nil); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown payload encoding %q", e)
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("odd payload length %d", len(raw))
	}
	pix := make([]uint16, len(raw)/2)
	for i := range pix {
		pix[i] = binary.LittleEndian.Uint16(raw[2*i:])
	}
	return pix, nil
}

// bytesFromAny handles Redis returning either string or []byte.
func bytesFromAny(v any) []byte {
	switch t := v.(type) {
	case string:
		return []byte(t)
	case []byte:
		return t
	case nil:
		return nil
	default:
		b, _ := json.Marshal(t)
		return b
	}
}
