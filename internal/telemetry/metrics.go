package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "slotowl"

// HTTPRequestDuration tracks HTTP request latency.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// WebhookEventsTotal counts inbound webhook events by kind and outcome.
var WebhookEventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webhook",
		Name:      "events_total",
		Help:      "Inbound webhook events by kind and outcome.",
	},
	[]string{"kind", "outcome"},
)

// DedupDuplicatesTotal counts redeliveries absorbed by the deduplication store.
var DedupDuplicatesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dedup",
		Name:      "duplicates_total",
		Help:      "Inbound messages skipped because their id was already claimed.",
	},
)

// DedupDegradedTotal counts claims served by the in-memory fallback.
var DedupDegradedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dedup",
		Name:      "degraded_total",
		Help:      "Claims answered by the in-memory store because durable storage failed.",
	},
)

// AgentTurnsTotal counts completed agent turns by outcome (ok, fallback, error).
var AgentTurnsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "turns_total",
		Help:      "Agent turns by outcome.",
	},
	[]string{"outcome"},
)

// AgentToolCallsTotal counts tool invocations by tool and status.
var AgentToolCallsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "tool_calls_total",
		Help:      "Tool invocations by tool name and status.",
	},
	[]string{"tool", "status"},
)

// AgentIterations records how many model invocations a turn needed.
var AgentIterations = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "iterations",
		Help:      "Model invocations per agent turn.",
		Buckets:   []float64{1, 2, 3, 4, 5, 8},
	},
)

// AppointmentsTotal counts scheduling operations by operation and result.
var AppointmentsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduling",
		Name:      "operations_total",
		Help:      "Scheduling operations by operation and result.",
	},
	[]string{"operation", "result"},
)

// OutboundMessagesTotal counts outbound message parts by delivery status.
var OutboundMessagesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "outbound",
		Name:      "messages_total",
		Help:      "Outbound message parts by delivery status.",
	},
	[]string{"status"},
)

// HousekeepingDeletedTotal counts rows removed by retention sweeps.
var HousekeepingDeletedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "housekeeping",
		Name:      "deleted_total",
		Help:      "Rows removed by retention sweeps, by table.",
	},
	[]string{"table"},
)

// NewMetricsRegistry creates a Prometheus registry with default and service collectors.
func NewMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
		WebhookEventsTotal,
		DedupDuplicatesTotal,
		DedupDegradedTotal,
		AgentTurnsTotal,
		AgentToolCallsTotal,
		AgentIterations,
		AppointmentsTotal,
		OutboundMessagesTotal,
		HousekeepingDeletedTotal,
	)
	return reg
}
