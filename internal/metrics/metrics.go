// Package metrics exposes the Prometheus collectors for the server's
// ambient observability stack (SPEC_FULL.md §2.12): connections,
// commands, pub/sub fan-out, and worker-pool queue depth.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps every collector the server registers.
type Registry struct {
	reg *prometheus.Registry

	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter

	CommandsTotal  *prometheus.CounterVec
	CommandErrors  *prometheus.CounterVec
	CommandLatency *prometheus.HistogramVec

	PubSubMessagesPublished prometheus.Counter
	PubSubMessagesDelivered prometheus.Counter
	PubSubSubscribers       prometheus.Gauge

	WorkerQueueDepth prometheus.Gauge

	SnapshotDuration prometheus.Histogram
	SnapshotsTotal   prometheus.Counter

	KeyspaceSize prometheus.Gauge
}

// New registers a fresh set of collectors against their own registry,
// so multiple servers (or tests) in one process never collide on
// Prometheus's global default registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Registry{
		reg: reg,
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "odinkv_connections_active",
			Help: "Current number of connected clients.",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "odinkv_connections_total",
			Help: "Total number of accepted connections.",
		}),
		CommandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "odinkv_commands_total",
			Help: "Total number of commands dispatched, by command name.",
		}, []string{"command"}),
		CommandErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "odinkv_command_errors_total",
			Help: "Total number of commands that returned an error, by command name.",
		}, []string{"command"}),
		CommandLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "odinkv_command_duration_seconds",
			Help:    "Command handler latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"command"}),
		PubSubMessagesPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "odinkv_pubsub_messages_published_total",
			Help: "Total number of PUBLISH calls.",
		}),
		PubSubMessagesDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "odinkv_pubsub_messages_delivered_total",
			Help: "Total number of successful per-subscriber deliveries.",
		}),
		PubSubSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "odinkv_pubsub_subscribers",
			Help: "Current number of distinct subscribed clients.",
		}),
		WorkerQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "odinkv_worker_queue_depth",
			Help: "Number of tasks waiting in the thread pool queue.",
		}),
		SnapshotDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "odinkv_snapshot_duration_seconds",
			Help:    "Time spent encoding and writing a snapshot.",
			Buckets: prometheus.DefBuckets,
		}),
		SnapshotsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "odinkv_snapshots_total",
			Help: "Total number of snapshots written.",
		}),
		KeyspaceSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "odinkv_keyspace_size",
			Help: "Number of live keys as of the last DBSIZE sample.",
		}),
	}
}

// Handler returns an HTTP handler exposing the metrics in Prometheus
// text format, served on the separate metrics listener (SPEC_FULL.md §6).
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
