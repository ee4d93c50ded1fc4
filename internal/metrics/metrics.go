// Package metrics wires the limiter's admission outcomes into
// Prometheus counters, implementing ratelimiter.Metrics with
// github.com/prometheus/client_golang the way the domain-stack
// reference material instruments its own rate limiter.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"ratelimit-gateway/internal/ratelimiter"
)

// Collector implements ratelimiter.Metrics and exposes the counters via
// the registerer it was built with (the default one, for New).
type Collector struct {
	allows            prometheus.Counter
	denies            *prometheus.CounterVec
	unknownCredential prometheus.Counter
	storeUnavailable  prometheus.Counter
	internalErrors    prometheus.Counter
}

// New registers a Collector against the default Prometheus registerer.
// Call once per process.
func New() *Collector {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers a Collector against reg, so tests and
// alternate entrypoints can avoid colliding with the default registry.
func NewWithRegisterer(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		allows: factory.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_admit_allow_total",
			Help: "Total admitted requests.",
		}),
		denies: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_admit_deny_total",
			Help: "Total denied requests, by dimension.",
		}, []string{"dimension"}),
		unknownCredential: factory.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_unknown_credential_total",
			Help: "Total requests rejected for an unrecognized credential.",
		}),
		storeUnavailable: factory.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_store_unavailable_total",
			Help: "Total admission or reconciliation calls that failed because the shared store was unreachable.",
		}),
		internalErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_internal_error_total",
			Help: "Total admission or reconciliation calls that failed for an unclassified reason.",
		}),
	}
}

// ObserveAllow implements ratelimiter.Metrics.
func (c *Collector) ObserveAllow() { c.allows.Inc() }

// ObserveDeny implements ratelimiter.Metrics.
func (c *Collector) ObserveDeny(dim ratelimiter.Dimension) {
	c.denies.WithLabelValues(string(dim)).Inc()
}

// ObserveUnknownCredential implements ratelimiter.Metrics.
func (c *Collector) ObserveUnknownCredential() { c.unknownCredential.Inc() }

// ObserveStoreUnavailable implements ratelimiter.Metrics.
func (c *Collector) ObserveStoreUnavailable() { c.storeUnavailable.Inc() }

// ObserveInternalError implements ratelimiter.Metrics.
func (c *Collector) ObserveInternalError() { c.internalErrors.Inc() }
