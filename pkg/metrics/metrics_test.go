package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestConfigBuild(t *testing.T) {
	require.Nil(t, Config{}.Build())
	require.Same(t, DefaultRegistry, Config{Enabled: true}.Build())

	reg := prometheus.NewRegistry()
	built := Config{Enabled: true, Registry: reg}.Build()
	require.NotNil(t, built)
	require.NotSame(t, DefaultRegistry, built)
}

func TestRegistryCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.StageTransitions.WithLabelValues("p", "succeeded").Inc()
	r.StageDuration.WithLabelValues("p").Observe(0.1)
	r.WorkerPoolSize.WithLabelValues("pool").Set(4)
	r.SchedulerRuns.WithLabelValues("nightly", OutcomeFailed).Inc()

	count, err := testutil.GatherAndCount(reg,
		"taskchain_stage_transitions_total",
		"taskchain_stage_duration_seconds",
		"taskchain_workerpool_size",
		"taskchain_scheduler_runs_total",
	)
	require.NoError(t, err)
	require.Equal(t, 4, count)
	require.Equal(t, float64(4), testutil.ToFloat64(r.WorkerPoolSize.WithLabelValues("pool")))
}

func TestRegistryDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewRegistry(reg)
	require.Panics(t, func() { NewRegistry(reg) })
}
