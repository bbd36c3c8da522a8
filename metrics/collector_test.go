package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/caffeineduck/guardsim/outcome"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector(reg, "guardsim", zap.NewNop()), reg
}

func TestCollectorObserveSuccess(t *testing.T) {
	c, _ := newTestCollector(t)

	c.Observe(outcome.Outcome{
		Success: true,
		Metrics: outcome.Metrics{
			ExecutionTimeMs: 20,
			PeakMemoryBytes: 128,
			UIBlocking:      true,
			Violations: []outcome.Violation{
				{Category: outcome.CategoryTimeout, Phase: outcome.PhasePostCheck},
				{Category: outcome.CategoryCapability, Phase: outcome.PhasePreCheck},
			},
		},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsTotal.WithLabelValues("success", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.uiBlockingTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.violationsTotal.WithLabelValues("timeout", "post-check", "false")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.violationsTotal))
	assert.Equal(t, 1, testutil.CollectAndCount(c.runDuration))
}

func TestCollectorObserveFailure(t *testing.T) {
	c, _ := newTestCollector(t)

	failed := outcome.Outcome{
		Error: outcome.NewError(outcome.CategoryMemory, "source size 200 bytes exceeds limit 100 bytes"),
		Metrics: outcome.Metrics{
			Violations: []outcome.Violation{
				{Category: outcome.CategoryMemory, Phase: outcome.PhasePreCheck, Fatal: true},
			},
		},
	}
	c.Observe(failed)
	c.Observe(failed)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.runsTotal.WithLabelValues("failure", "memory")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.violationsTotal.WithLabelValues("memory", "pre-check", "true")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.uiBlockingTotal))
}

func TestCollectorExposition(t *testing.T) {
	c, reg := newTestCollector(t)
	c.Observe(outcome.Outcome{Success: true})

	expected := `
# HELP guardsim_runs_total Total number of simulated runs
# TYPE guardsim_runs_total counter
guardsim_runs_total{category="",status="success"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "guardsim_runs_total"))
}

func TestCollectorRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg, "guardsim", nil)

	assert.Panics(t, func() { NewCollector(reg, "guardsim", nil) })
}
