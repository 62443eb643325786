// Package metrics accumulates broker counters and gauges and renders
// them to a text exposition file on an interval. The daemon has no
// listening HTTP port of its own, so metrics are written to disk
// rather than served.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is a private registry (not prometheus.DefaultRegisterer) so
// that Writer.Render only ever emits broker metrics, never anything an
// imported library registers globally.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

// Delivery metrics.
var (
	MessagesTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "messages_total",
		Help: "Total number of messages successfully delivered to a recipient session.",
	})

	MessagesFailedTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "messages_failed_total",
		Help: "Total number of messages archived without delivery, by reason.",
	}, []string{"reason"})

	InjectionsTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "injections_total",
		Help: "Total number of successful relay inject calls.",
	})

	InjectionsRetriedTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "injections_retried_total",
		Help: "Total number of relay inject retries (Unavailable, or a first NotFound that dropped the session from the cache).",
	})

	MessageQueueSize = factory.NewGauge(prometheus.GaugeOpts{
		Name: "message_queue_size",
		Help: "Number of delivery tasks currently enqueued but not yet processed.",
	})
)

// Registration and orientation metrics.
var (
	SessionsOrientedTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "sessions_oriented_total",
		Help: "Total number of sessions that received an orientation prompt.",
	})

	AgentsRegisteredTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "agents_registered_total",
		Help: "Total number of agent records created.",
	})
)

// Garbage collection metrics.
var (
	GCAgentsRemovedTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "gc_agents_removed_total",
		Help: "Total number of stale agent records removed by garbage collection.",
	})

	GCMessagesExpiredTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "gc_messages_expired_total",
		Help: "Total number of pending messages archived as expired by garbage collection.",
	})

	GCSessionsRemovedTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "gc_sessions_removed_total",
		Help: "Total number of session-map entries dropped by garbage collection.",
	})

	GCThreadsRemovedTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "gc_threads_removed_total",
		Help: "Total number of thread files removed by garbage collection.",
	})
)

// Thread tracker metrics.
var (
	ThreadsClosedTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "threads_closed_total",
		Help: "Total number of threads marked closed by a RESOLVED completion message.",
	})
)
