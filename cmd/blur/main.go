// Command blur applies a convolution kernel to a grayscale image, splitting
// the rows over several ranks that exchange halo rows.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"go-blur-halo/pkg/common"
	"go-blur-halo/pkg/config"
	"go-blur-halo/pkg/logging"
	"go-blur-halo/pkg/runner"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute runs the command line and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return common.ExitOK
	}
	fmt.Fprintf(stderr, "blur: %v\n", err)
	return common.ExitCode(err)
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   config.Usage,
		Short: "Blur a grayscale image with halo-exchanging row blocks",
		Long: `
Blurs a 16-bit (or widened 8-bit) grayscale PGM, PNG or TIFF image.

KTYPE selects the kernel: 0 uniform, 1 weighted (F is the centre weight),
2 gaussian, 3 read from an image file given instead of XK YK. XK and YK
must be odd. Without OUTPUT the result is written next to INPUT.

Options can also be given as BLUR_* environment variables, e.g.
BLUR_WORKERS=8 or BLUR_RUN_ID=nightly.
`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := config.NewViper(cmd.Flags())
			if err != nil {
				return err
			}
			cfg, err := config.Load(v, args)
			if err != nil {
				return err
			}

			log := logging.NewText(stderr, cfg.LogLevel)
			if cfg.Transport == config.TransportRedis {
				log = log.With("rank", cfg.Rank, "run_id", cfg.RunID)
			}
			logging.SetLogger(log)
			defer logging.SetLogger(nil)

			res, err := runner.Run(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if res.Image != nil {
				fmt.Fprintf(stdout, "Blurred image was successfully stored in the file %q\n", res.OutputPath)
			}
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &common.ConfigurationError{Code: common.ExitBadArguments, Msg: err.Error(), Err: err}
	})
	config.AddFlags(cmd.Flags())
	return cmd
}
