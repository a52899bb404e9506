package stats

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
)

// RunInfo describes one blur run for the report.
type RunInfo struct {
	RunID      string
	Transport  string
	Kernel     string
	InputPath  string
	OutputPath string
	Width      int
	Height     int
	MaxValue   int
	Ranks      int
	Threads    int
	Timestamp  time.Time
}

// WriteReport writes a human readable summary of a run.
func WriteReport(w io.Writer, info RunInfo, timings []Timings) error {
	pixels := uint64(info.Width) * uint64(info.Height)
	var slowest time.Duration
	for _, t := range timings {
		slowest = max(slowest, t.Total())
	}

	fmt.Fprintf(w, "=== Halo Blur Results ===\n")
	fmt.Fprintf(w, "Timestamp: %s\n", info.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Run ID: %s\n", info.RunID)
	fmt.Fprintf(w, "Transport: %s\n", info.Transport)
	fmt.Fprintf(w, "Kernel: %s\n", info.Kernel)
	fmt.Fprintf(w, "Image: %dx%d maxval %d (%s pixels, %s)\n", info.Width, info.Height, info.MaxValue,
		humanize.Comma(int64(pixels)), humanize.IBytes(2*pixels))
	fmt.Fprintf(w, "Ranks: %d, threads per rank: %d\n", info.Ranks, info.Threads)
	fmt.Fprintf(w, "Input: %s\n", info.InputPath)
	fmt.Fprintf(w, "Output: %s\n\n", info.OutputPath)

	for _, t := range timings {
		fmt.Fprintf(w, "%s (%s samples)\n", t, humanize.Comma(int64(t.Samples)))
	}
	_, err := fmt.Fprintf(w, "\nSlowest rank: %.3fs\n", slowest.Seconds())
	return err
}

// WriteReportFile writes the report to path, creating parent directories.
func WriteReportFile(path string, info RunInfo, timings []Timings) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()
	return WriteReport(file, info, timings)
}
