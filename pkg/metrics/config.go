package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const defaultNamespace = "taskchain"

// Config holds configuration for metrics collection.
type Config struct {
	// Enabled controls whether metrics collection is active.
	Enabled bool

	// Registry is the Prometheus registry to use. If nil, uses prometheus.DefaultRegisterer.
	Registry prometheus.Registerer

	// Namespace overrides the default "taskchain" namespace for metrics.
	Namespace string

	// Labels are additional labels to add to all metrics.
	Labels prometheus.Labels
}

// DefaultConfig returns a default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Registry:  prometheus.DefaultRegisterer,
		Namespace: defaultNamespace,
		Labels:    nil,
	}
}

// Build returns the Registry described by c, or nil when metrics are disabled.
func (c Config) Build() *Registry {
	if !c.Enabled {
		return nil
	}
	if c.Registry == nil && c.Namespace == "" && c.Labels == nil {
		return DefaultRegistry
	}
	return NewRegistryWithConfig(c)
}
