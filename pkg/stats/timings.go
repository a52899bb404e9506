// Package stats records per-rank phase timings and writes run reports.
package stats

import (
	"fmt"
	"time"
)

// Timings are the wall-clock durations of one rank's phases.
type Timings struct {
	Rank    int           `json:"rank"`
	IO      time.Duration `json:"io"`
	Scatter time.Duration `json:"scatter"`
	Calc    time.Duration `json:"calc"`
	Gather  time.Duration `json:"gather"`
	// Samples is the number of output samples the rank produced.
	Samples int `json:"samples"`
}

func (t Timings) Total() time.Duration {
	return t.IO + t.Scatter + t.Calc + t.Gather
}

func (t Timings) String() string {
	return fmt.Sprintf("[%d] Walltime timings. I/0: %fs, Scattering: %fs, Calculation: %fs, Gathering: %fs. Total: %fs",
		t.Rank, t.IO.Seconds(), t.Scatter.Seconds(), t.Calc.Seconds(), t.Gather.Seconds(), t.Total().Seconds())
}

// Stopwatch measures consecutive phases.
type Stopwatch struct {
	now  func() time.Time
	last time.Time
}

func NewStopwatch() *Stopwatch {
	return newStopwatch(time.Now)
}

func newStopwatch(now func() time.Time) *Stopwatch {
	return &Stopwatch{now: now, last: now()}
}

// Lap returns the time since the previous Lap (or creation) and restarts.
func (s *Stopwatch) Lap() time.Duration {
	t := s.now()
	d := t.Sub(s.last)
	s.last = t
	return d
}
