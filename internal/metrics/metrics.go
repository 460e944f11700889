// Package metrics wraps the Prometheus collectors the broker exposes via
// promauto and promhttp.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps Prometheus collectors used by the broker. Each Registry
// owns a private *prometheus.Registry rather than registering on
// prometheus.DefaultRegisterer, so constructing more than one per process
// (as metrics_test.go does) never collides over a shared metric name.
type Registry struct {
	reg *prometheus.Registry

	ActiveSessions     prometheus.Gauge
	SubscriptionsTotal prometheus.Gauge
	CPUPercent         prometheus.Gauge

	DataFramesRouted  prometheus.Counter
	DataFramesDropped prometheus.Counter
	SubscribeTotal    prometheus.Counter
	UnsubscribeTotal  prometheus.Counter
	CleanupSweeps     prometheus.Counter
	CleanupRemoved    prometheus.Counter
	ProtocolErrors    prometheus.Counter
	AcceptErrors      prometheus.Counter
}

// NewRegistry creates the broker's Prometheus metrics collectors, bound to
// a fresh, private prometheus.Registry.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "broker_active_sessions",
			Help: "Number of currently connected Sessions.",
		}),
		SubscriptionsTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "broker_subscriptions_total",
			Help: "Sum of subscriber counts across all topics.",
		}),
		CPUPercent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "broker_cpu_percent",
			Help: "Smoothed host-wide CPU utilization percentage.",
		}),
		DataFramesRouted: factory.NewCounter(prometheus.CounterOpts{
			Name: "broker_data_frames_routed_total",
			Help: "Total DATA frames routed to at least one subscriber.",
		}),
		DataFramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "broker_data_frames_dropped_total",
			Help: "Total DATA frames published to a topic with zero subscribers.",
		}),
		SubscribeTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "broker_subscribe_total",
			Help: "Total SUBSCRIBE frames processed.",
		}),
		UnsubscribeTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "broker_unsubscribe_total",
			Help: "Total explicit or eager unsubscribe operations.",
		}),
		CleanupSweeps: factory.NewCounter(prometheus.CounterOpts{
			Name: "broker_cleanup_sweeps_total",
			Help: "Total periodic index cleanup sweeps run.",
		}),
		CleanupRemoved: factory.NewCounter(prometheus.CounterOpts{
			Name: "broker_cleanup_removed_total",
			Help: "Total dead session references removed by cleanup sweeps.",
		}),
		ProtocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "broker_protocol_errors_total",
			Help: "Total Sessions terminated due to a protocol error.",
		}),
		AcceptErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "broker_accept_errors_total",
			Help: "Total connection accept/admission errors.",
		}),
	}
}

// Handler returns an HTTP handler exposing this Registry's metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
