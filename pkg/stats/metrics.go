package stats

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects run timings in a private Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry
	phases   *prometheus.HistogramVec
	samples  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		phases: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "blur",
			Name:      "phase_duration_seconds",
			Help:      "Wall-clock duration of each run phase per rank.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"rank", "phase"}),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blur",
			Name:      "output_samples_total",
			Help:      "Output samples produced per rank.",
		}, []string{"rank"}),
	}
	m.registry.MustRegister(m.phases, m.samples)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Observe records the timings of one rank.
func (m *Metrics) Observe(t Timings) {
	rank := strconv.Itoa(t.Rank)
	m.phases.WithLabelValues(rank, "io").Observe(t.IO.Seconds())
	m.phases.WithLabelValues(rank, "scatter").Observe(t.Scatter.Seconds())
	m.phases.WithLabelValues(rank, "calc").Observe(t.Calc.Seconds())
	m.phases.WithLabelValues(rank, "gather").Observe(t.Gather.Seconds())
	m.samples.WithLabelValues(rank).Add(float64(t.Samples))
}

// WriteTextfile writes the metrics in the node-exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
