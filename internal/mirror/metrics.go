package mirror

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports probe and selection counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	probeResults *prometheus.CounterVec
	excluded     prometheus.Counter
	throughput   prometheus.Histogram
	resolutions  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when reg is
// non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		probeResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mirrorpick",
			Name:      "probe_results_total",
			Help:      "Probe results collected, by outcome.",
		}, []string{"outcome"}),
		excluded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mirrorpick",
			Name:      "probe_excluded_total",
			Help:      "Probes that did not report before their collection ceiling.",
		}),
		throughput: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mirrorpick",
			Name:      "probe_throughput_bytes_per_second",
			Help:      "Measured throughput of successful probes.",
			Buckets:   prometheus.ExponentialBuckets(16*1024, 4, 8),
		}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mirrorpick",
			Name:      "resolutions_total",
			Help:      "Completed resolutions, by whether the first candidate was used as a fallback.",
		}, []string{"fallback"}),
	}
	if reg != nil {
		reg.MustRegister(m.probeResults, m.excluded, m.throughput, m.resolutions)
	}
	return m
}

func (m *Metrics) observeProbe(r ProbeResult) {
	if m == nil {
		return
	}
	if !r.Succeeded {
		m.probeResults.WithLabelValues("failed").Inc()
		return
	}
	m.probeResults.WithLabelValues("success").Inc()
	m.throughput.Observe(float64(r.BytesPerSecond))
}

func (m *Metrics) observeExcluded(n int) {
	if m == nil || n == 0 {
		return
	}
	m.excluded.Add(float64(n))
}

func (m *Metrics) observeResolution(fallback bool) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(strconv.FormatBool(fallback)).Inc()
}
