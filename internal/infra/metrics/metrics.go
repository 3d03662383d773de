package metrics

import (
	"net/http"
	"time"

	"post_scheduler/internal/app"
	"post_scheduler/internal/domain/timing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "post_scheduler"

// Collector exposes Prometheus metrics for the execution loop, the profile builder
// and the publisher circuit breaker.
type Collector struct {
	registry       *prometheus.Registry
	sweepDuration  *prometheus.HistogramVec
	sweepRows      *prometheus.CounterVec
	profileBuilds  *prometheus.CounterVec
	profileLatency prometheus.Histogram
	circuitState   *prometheus.GaugeVec
}

// NewCollector registers every metric on a private registry.
func NewCollector() (*Collector, error) {
	registry := prometheus.NewRegistry()

	sweepDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "sweep",
		Name:      "duration_seconds",
		Help:      "Wall time of one execution-loop sweep.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})

	sweepRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sweep",
		Name:      "rows_total",
		Help:      "Scheduled posts handled by sweeps, by outcome.",
	}, []string{"kind", "outcome"})

	profileBuilds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "profile",
		Name:      "builds_total",
		Help:      "Timing profiles built, by confidence.",
	}, []string{"confidence"})

	profileLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "profile",
		Name:      "build_duration_seconds",
		Help:      "Latency of building one timing profile from history.",
		Buckets:   prometheus.DefBuckets,
	})

	circuitState := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "publisher",
		Name:      "circuit_state",
		Help:      "1 for the current publisher circuit breaker state, 0 otherwise.",
	}, []string{"state"})

	for _, c := range []prometheus.Collector{sweepDuration, sweepRows, profileBuilds, profileLatency, circuitState} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return &Collector{
		registry:       registry,
		sweepDuration:  sweepDuration,
		sweepRows:      sweepRows,
		profileBuilds:  profileBuilds,
		profileLatency: profileLatency,
		circuitState:   circuitState,
	}, nil
}

// Handler returns an HTTP handler for exposing Prometheus metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveSweep(kind string, elapsed time.Duration, res app.SweepResult) {
	c.sweepDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	c.sweepRows.WithLabelValues(kind, "claimed").Add(float64(res.Claimed))
	c.sweepRows.WithLabelValues(kind, "posted").Add(float64(res.Posted))
	c.sweepRows.WithLabelValues(kind, "failed").Add(float64(res.Failed))
	c.sweepRows.WithLabelValues(kind, "lost").Add(float64(res.Lost))
}

func (c *Collector) ObserveProfileBuild(confidence timing.Confidence, elapsed time.Duration) {
	c.profileBuilds.WithLabelValues(string(confidence)).Inc()
	c.profileLatency.Observe(elapsed.Seconds())
}

// SetCircuitState marks state as the current breaker state.
func (c *Collector) SetCircuitState(state string) {
	for _, s := range []string{"closed", "open", "half-open"} {
		v := 0.0
		if s == state {
			v = 1
		}
		c.circuitState.WithLabelValues(s).Set(v)
	}
}
