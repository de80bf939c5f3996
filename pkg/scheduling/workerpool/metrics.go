package workerpool

import (
	"context"

	"github.com/vnykmshr/taskchain/pkg/metrics"
)

// MetricsPool wraps a worker Pool with Prometheus metrics collection.
type MetricsPool struct {
	Pool
	name     string
	registry *metrics.Registry
}

// NewWithConfigAndMetrics creates a new worker pool with custom config and metrics.
// When metrics are disabled the plain pool is returned.
func NewWithConfigAndMetrics(config Config, name string, metricsConfig metrics.Config) (Pool, error) {
	registry := metricsConfig.Build()

	mp := &MetricsPool{
		name:     name,
		registry: registry,
	}

	if registry != nil {
		userComplete := config.OnTaskComplete
		config.OnTaskComplete = func(result Result) {
			mp.updateMetrics()
			if userComplete != nil {
				userComplete(result)
			}
		}
	}

	basePool, err := NewWithConfig(config)
	if err != nil {
		return nil, err
	}
	if registry == nil {
		return basePool, nil
	}

	mp.Pool = basePool
	mp.updateMetrics()

	return mp, nil
}

// updateMetrics updates the current state metrics.
func (mp *MetricsPool) updateMetrics() {
	if mp.Pool == nil {
		return
	}
	mp.registry.WorkerPoolSize.WithLabelValues(mp.name).Set(float64(mp.Size()))
	mp.registry.WorkerPoolActive.WithLabelValues(mp.name).Set(float64(mp.ActiveWorkers()))
	mp.registry.WorkerPoolQueued.WithLabelValues(mp.name).Set(float64(mp.QueueSize()))
}

// Submit adds a task to the pool for execution.
func (mp *MetricsPool) Submit(task Task) error {
	return mp.SubmitWithContext(context.Background(), task)
}

// SubmitWithContext submits a task and refreshes the pool gauges.
func (mp *MetricsPool) SubmitWithContext(ctx context.Context, task Task) error {
	err := mp.Pool.SubmitWithContext(ctx, task)
	mp.updateMetrics()
	return err
}
