// Package config turns command-line arguments, flags and BLUR_* environment
// variables into a validated run configuration.
package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"go-blur-halo/pkg/blur"
	"go-blur-halo/pkg/common"
	"go-blur-halo/pkg/imageio"
)

const Usage = "blur KTYPE [XK YK] [F] INPUT [OUTPUT]"

const (
	TransportLocal      = "local"
	TransportRedis      = "redis"
	TransportSequential = "sequential"
)

const (
	minArgs = 3
	maxArgs = 6
)

// KernelSpec is the kernel requested on the command line.
type KernelSpec struct {
	Type   int
	Width  int
	Height int
	// Factor is the centre weight of the weighted kernel.
	Factor float64
	// Path is the kernel image for KernelImage.
	Path string
}

// Build generates the kernel or loads it from its image.
func (s KernelSpec) Build() (*blur.Kernel, error) {
	if s.Type != blur.KernelImage {
		return blur.Generate(s.Type, s.Width, s.Height, s.Factor)
	}
	img, err := imageio.Load(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load kernel image: %w", err)
	}
	return blur.FromImage(imageio.Values(img), img.Width, img.Height, img.MaxValue)
}

func (s KernelSpec) String() string {
	switch s.Type {
	case blur.KernelUniform:
		return fmt.Sprintf("uniform %dx%d", s.Width, s.Height)
	case blur.KernelWeighted:
		return fmt.Sprintf("weighted %dx%d f=%g", s.Width, s.Height, s.Factor)
	case blur.KernelGaussian:
		return fmt.Sprintf("gaussian %dx%d (s: %d)", s.Width, s.Height, blur.GaussianSigma(s.Width, s.Height))
	}
	return fmt.Sprintf("image %s", s.Path)
}

type Config struct {
	Kernel     KernelSpec
	InputPath  string
	OutputPath string

	Transport string
	Workers   int
	Threads   int

	RedisAddr string
	Rank      int
	Size      int
	RunID     string
	Compress  bool

	ReportPath  string
	MetricsPath string
	LogLevel    string
}

// AddFlags registers the run options on flags.
func AddFlags(flags *pflag.FlagSet) {
	flags.String("transport", TransportLocal, "how ranks talk: local, redis or sequential")
	flags.Int("workers", 4, "number of in-process ranks for the local transport")
	flags.Int("threads", 0, "row threads per rank (0 uses GOMAXPROCS)")
	flags.String("redis", "localhost:6379", "Redis address for the redis transport")
	flags.Int("rank", 0, "rank of this process for the redis transport")
	flags.Int("size", 1, "number of processes for the redis transport")
	flags.String("run-id", "", "shared run id for the redis transport")
	flags.Bool("compress", false, "zstd-compress blocks sent through Redis")
	flags.String("report", "", "write a timing report to this file")
	flags.String("metrics-file", "", "write Prometheus metrics to this textfile")
	flags.String("log-level", "info", "debug, info, warn or error")
}

// NewViper binds flags and BLUR_* environment variables. Flags set on the
// command line win over the environment.
func NewViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("BLUR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	return v, nil
}

// Load builds a validated Config from the bound options and positional args.
func Load(v *viper.Viper, args []string) (*Config, error) {
	cfg := &Config{
		Transport:   strings.ToLower(v.GetString("transport")),
		Workers:     v.GetInt("workers"),
		Threads:     v.GetInt("threads"),
		RedisAddr:   v.GetString("redis"),
		Rank:        v.GetInt("rank"),
		Size:        v.GetInt("size"),
		RunID:       v.GetString("run-id"),
		Compress:    v.GetBool("compress"),
		ReportPath:  v.GetString("report"),
		MetricsPath: v.GetString("metrics-file"),
		LogLevel:    v.GetString("log-level"),
	}
	if err := cfg.ParseArgs(args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseArgs reads KTYPE [XK YK] [F] INPUT [OUTPUT].
func (c *Config) ParseArgs(args []string) error {
	if len(args) < minArgs {
		return common.Configf(common.ExitBadArguments, "Too few arguments. Usage: %s", Usage)
	}
	if len(args) > maxArgs {
		return common.Configf(common.ExitBadArguments, "Too many arguments. Usage: %s", Usage)
	}

	ktype, err := strconv.Atoi(args[0])
	if err != nil {
		return common.Configf(common.ExitBadKernelID, "Kernel id must be an integer, got %q", args[0])
	}
	k := KernelSpec{Type: ktype}
	next := 1

	switch ktype {
	case blur.KernelUniform, blur.KernelWeighted, blur.KernelGaussian:
		if k.Width, err = strconv.Atoi(args[1]); err != nil {
			return common.Configf(common.ExitBadArguments, "invalid kernel width %q", args[1])
		}
		if k.Height, err = strconv.Atoi(args[2]); err != nil {
			return common.Configf(common.ExitBadArguments, "invalid kernel height %q", args[2])
		}
		if err := blur.CheckDims(k.Width, k.Height); err != nil {
			return err
		}
		next = 3
		if ktype != blur.KernelWeighted {
			if len(args) > maxArgs-1 {
				return common.Configf(common.ExitBadArguments, "Too many arguments. Usage: %s", Usage)
			}
			break
		}
		if len(args) < maxArgs-1 {
			return common.Configf(common.ExitBadArguments,
				"Too few arguments, additional parameter for the kernel needed. Usage: %s", Usage)
		}
		if k.Factor, err = strconv.ParseFloat(args[3], 64); err != nil {
			return common.Configf(common.ExitBadArguments, "invalid kernel parameter %q", args[3])
		}
		next = 4

	case blur.KernelImage:
		if len(args) > maxArgs-2 {
			return common.Configf(common.ExitBadArguments,
				"Too many arguments. No dimension needed for an image kernel. Usage: %s", Usage)
		}
		k.Path = args[1]
		if err := imageio.CheckExtension(k.Path); err != nil {
			return err
		}
		next = 2

	default:
		return common.Configf(common.ExitBadKernelID,
			"Kernel id must be either 0,1,2 for automatic generation or 3 for an image file. Given id was %d", ktype)
	}

	if next >= len(args) {
		return common.Configf(common.ExitBadArguments, "Missing input file. Usage: %s", Usage)
	}
	c.Kernel = k
	c.InputPath = args[next]
	if err := imageio.CheckExtension(c.InputPath); err != nil {
		return err
	}
	if next+1 < len(args) {
		c.OutputPath = args[next+1]
		if err := imageio.CheckExtension(c.OutputPath); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the transport options.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportLocal:
		if c.Workers < 1 {
			return common.Configf(common.ExitBadArguments, "workers must be positive, got %d", c.Workers)
		}
	case TransportSequential:
	case TransportRedis:
		if c.Size < 1 || c.Rank < 0 || c.Rank >= c.Size {
			return common.Configf(common.ExitBadArguments, "invalid rank %d of %d", c.Rank, c.Size)
		}
		if c.RunID == "" {
			if c.Size > 1 {
				return common.Configf(common.ExitBadArguments, "--run-id is required when more than one process takes part")
			}
			c.RunID = uuid.NewString()
		}
	default:
		return common.Configf(common.ExitBadArguments, "unknown transport %q", c.Transport)
	}
	if c.Threads < 0 {
		return common.Configf(common.ExitBadArguments, "threads must not be negative, got %d", c.Threads)
	}
	return nil
}

// Ranks is the number of ranks taking part in the run.
func (c *Config) Ranks() int {
	switch c.Transport {
	case TransportLocal:
		return c.Workers
	case TransportRedis:
		return c.Size
	}
	return 1
}

// ResolveOutput fills OutputPath from the kernel when none was given.
func (c *Config) ResolveOutput(kernel *blur.Kernel) string {
	if c.OutputPath == "" {
		c.OutputPath = DefaultOutputPath(c.InputPath, c.Kernel.Type, kernel.Width, kernel.Height, c.Kernel.Factor)
	}
	return c.OutputPath
}

// DefaultOutputPath names the blurred image after its input and kernel:
// <stem>.bb_<k>_<x>x<y>.hyb.<ext>, with _<ff> appended to the kernel part
// for the weighted kernel, ff being the first two significant digits of f.
func DefaultOutputPath(input string, ktype, width, height int, factor float64) string {
	ext := filepath.Ext(input)
	stem := strings.TrimSuffix(input, ext)
	if ktype != blur.KernelWeighted {
		return fmt.Sprintf("%s.bb_%d_%dx%d.hyb%s", stem, ktype, width, height, ext)
	}
	return fmt.Sprintf("%s.bb_1_%dx%d_%s.hyb%s", stem, width, height, significantDigits(factor), ext)
}

func significantDigits(f float64) string {
	s := strconv.FormatFloat(f, 'e', 6, 64)
	s = strings.TrimPrefix(s, "-")
	return s[:1] + s[2:3]
}
