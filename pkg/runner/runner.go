// Package runner wires configuration, transports and ranks into a blur run.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"go-blur-halo/pkg/assembler"
	"go-blur-halo/pkg/blur"
	"go-blur-halo/pkg/byteorder"
	"go-blur-halo/pkg/common"
	"go-blur-halo/pkg/config"
	"go-blur-halo/pkg/coordinator"
	"go-blur-halo/pkg/imageio"
	"go-blur-halo/pkg/logging"
	"go-blur-halo/pkg/parallel"
	"go-blur-halo/pkg/processor"
	"go-blur-halo/pkg/stats"
	"go-blur-halo/pkg/transport"
)

// Result describes a finished run as seen by this process.
type Result struct {
	// Image is the blurred image; nil on non-root ranks.
	Image      *common.Image
	OutputPath string
	Timings    []stats.Timings
}

// Run executes cfg and writes the optional report and metrics files.
func Run(ctx context.Context, cfg *config.Config) (*Result, error) {
	kernel, err := cfg.Kernel.Build()
	if err != nil {
		return nil, err
	}
	cfg.ResolveOutput(kernel)
	logging.Logger().Info("Runner: starting",
		"kernel", cfg.Kernel.String(), "transport", cfg.Transport, "ranks", cfg.Ranks(),
		"input", cfg.InputPath, "output", cfg.OutputPath)

	var res *Result
	switch cfg.Transport {
	case config.TransportSequential:
		res, err = RunSequential(ctx, cfg, kernel)
	case config.TransportLocal:
		res, err = RunLocal(ctx, cfg, kernel)
	case config.TransportRedis:
		res, err = RunRedis(ctx, cfg, kernel)
	default:
		err = common.Configf(common.ExitBadArguments, "unknown transport %q", cfg.Transport)
	}
	if err != nil {
		return nil, err
	}
	if err := writeOutputs(cfg, res); err != nil {
		return nil, err
	}
	return res, nil
}

// RunSequential blurs the whole image in this process without a transport.
func RunSequential(ctx context.Context, cfg *config.Config, kernel *blur.Kernel) (*Result, error) {
	sw := stats.NewStopwatch()
	pool := parallel.New(cfg.Threads)
	norm := byteorder.Host(pool)

	img, err := imageio.Load(cfg.InputPath)
	if err != nil {
		return nil, err
	}
	if err := common.CheckMaxValue(img.MaxValue); err != nil {
		return nil, err
	}
	timings := stats.Timings{Rank: transport.Root, IO: sw.Lap()}

	if err := norm.SwapRows(ctx, img.Pix, img.Height, img.Width); err != nil {
		return nil, err
	}
	out, err := blur.ConvolveImage(ctx, img, kernel, pool)
	if err != nil {
		return nil, err
	}
	if err := norm.SwapRows(ctx, out.Pix, out.Height, out.Width); err != nil {
		return nil, err
	}
	timings.Calc = sw.Lap()
	timings.Samples = len(out.Pix)

	if err := imageio.Save(cfg.OutputPath, out); err != nil {
		return nil, fmt.Errorf("failed to save image: %w", err)
	}
	timings.IO += sw.Lap()
	logging.Logger().Info(timings.String())

	return &Result{Image: out, OutputPath: cfg.OutputPath, Timings: []stats.Timings{timings}}, nil
}

// RunLocal runs cfg.Workers ranks as goroutines of this process.
func RunLocal(ctx context.Context, cfg *config.Config, kernel *blur.Kernel) (*Result, error) {
	ranks := transport.NewLocalGroup(cfg.Workers)
	results := make([]*Result, len(ranks))
	errs := make([]error, len(ranks))

	g, gctx := errgroup.WithContext(ctx)
	for i, t := range ranks {
		i, t := i, t
		g.Go(func() error {
			results[i], errs[i] = RunRank(gctx, t, cfg, kernel)
			return errs[i]
		})
	}
	if err := g.Wait(); err != nil {
		// Other ranks may only have seen the cancellation; the root knows why.
		if root := errs[transport.Root]; root != nil && !errors.Is(root, context.Canceled) {
			return nil, root
		}
		return nil, err
	}

	res := results[transport.Root]
	for _, r := range results[1:] {
		res.Timings = append(res.Timings, r.Timings...)
	}
	return res, nil
}

// RunRedis runs the rank cfg.Rank of a run spread over cfg.Size processes.
func RunRedis(ctx context.Context, cfg *config.Config, kernel *blur.Kernel) (res *Result, err error) {
	t, err := transport.NewRedis(ctx, transport.RedisOptions{
		Addr:     cfg.RedisAddr,
		RunID:    cfg.RunID,
		Rank:     cfg.Rank,
		Size:     cfg.Size,
		Compress: cfg.Compress,
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := t.Close(); cerr != nil {
			err = multierror.Append(err, fmt.Errorf("failed to close transport: %w", cerr))
			res = nil
		}
	}()
	return RunRank(ctx, t, cfg, kernel)
}

// RunRank plays one rank of a distributed run over t.
func RunRank(ctx context.Context, t transport.Transport, cfg *config.Config, kernel *blur.Kernel) (*Result, error) {
	pool := parallel.New(cfg.Threads)
	norm := byteorder.Host(pool)
	log := logging.Logger()

	if t.Rank() != transport.Root {
		timings, err := processor.NewWorker(t, kernel, pool, norm).Run(ctx)
		if err != nil {
			return nil, err
		}
		log.Info(timings.String())
		return &Result{Timings: []stats.Timings{timings}}, nil
	}

	coord := coordinator.NewCoordinator(t, kernel, pool, norm)
	sw := stats.NewStopwatch()
	img, err := imageio.Load(cfg.InputPath)
	if err != nil {
		return nil, coord.Abort(ctx, err)
	}
	loaded := sw.Lap()

	job, err := coord.Distribute(ctx, img)
	if err != nil {
		return nil, err
	}
	job.Timings.IO = loaded

	out, err := assembler.NewAssembler(t, nil).Assemble(ctx, job, cfg.OutputPath)
	if err != nil {
		return nil, err
	}
	log.Info(job.Timings.String())
	return &Result{Image: out, OutputPath: cfg.OutputPath, Timings: []stats.Timings{job.Timings}}, nil
}

func writeOutputs(cfg *config.Config, res *Result) error {
	var result *multierror.Error
	if cfg.MetricsPath != "" {
		m := stats.NewMetrics()
		for _, t := range res.Timings {
			m.Observe(t)
		}
		if err := m.WriteTextfile(cfg.MetricsPath); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to write metrics: %w", err))
		}
	}
	if cfg.ReportPath != "" && res.Image != nil {
		info := stats.RunInfo{
			RunID:      cfg.RunID,
			Transport:  cfg.Transport,
			Kernel:     cfg.Kernel.String(),
			InputPath:  cfg.InputPath,
			OutputPath: res.OutputPath,
			Width:      res.Image.Width,
			Height:     res.Image.Height,
			MaxValue:   res.Image.MaxValue,
			Ranks:      cfg.Ranks(),
			Threads:    parallel.New(cfg.Threads).Threads(),
			Timestamp:  time.Now(),
		}
		if err := stats.WriteReportFile(cfg.ReportPath, info, res.Timings); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
