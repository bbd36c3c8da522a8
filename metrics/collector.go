// Package metrics exports simulated run outcomes as Prometheus metrics.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/caffeineduck/guardsim/outcome"
)

// Collector records every outcome it observes. It satisfies
// executor.Observer.
type Collector struct {
	runsTotal       *prometheus.CounterVec
	runDuration     prometheus.Histogram
	peakMemory      prometheus.Histogram
	violationsTotal *prometheus.CounterVec
	uiBlockingTotal prometheus.Counter

	logger *zap.Logger
}

// NewCollector registers the run metrics with reg under namespace.
func NewCollector(reg prometheus.Registerer, namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	return &Collector{
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of simulated runs",
			},
			[]string{"status", "category"},
		),
		runDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Measured execution time of simulated runs in seconds",
				Buckets:   []float64{0.001, 0.004, 0.016, 0.05, 0.1, 0.5, 1, 5},
			},
		),
		peakMemory: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_peak_memory_bytes",
				Help:      "Peak memory ledger usage of simulated runs",
				Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
			},
		),
		violationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "violations_total",
				Help:      "Total number of recorded violations",
			},
			[]string{"category", "phase", "fatal"},
		),
		uiBlockingTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ui_blocking_runs_total",
				Help:      "Total number of runs above the UI-blocking threshold",
			},
		),
		logger: logger.With(zap.String("component", "metrics")),
	}
}

// Observe records o.
func (c *Collector) Observe(o outcome.Outcome) {
	status := "success"
	if !o.Success {
		status = "failure"
	}
	c.runsTotal.WithLabelValues(status, string(o.Category())).Inc()
	c.runDuration.Observe(o.Metrics.ExecutionTimeMs / 1000)
	c.peakMemory.Observe(float64(o.Metrics.PeakMemoryBytes))

	for _, v := range o.Metrics.Violations {
		c.violationsTotal.WithLabelValues(string(v.Category), string(v.Phase), strconv.FormatBool(v.Fatal)).Inc()
	}
	if o.Metrics.UIBlocking {
		c.uiBlockingTotal.Inc()
	}

	c.logger.Debug("outcome recorded",
		zap.String("run_id", o.RunID),
		zap.String("status", status),
		zap.Int("violations", len(o.Metrics.Violations)))
}
