// Package metrics defines the Prometheus instrumentation for the runtime.
// Everything is registered on the default registry and exposed by the API
// server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsReceived counts events received from the host by event type.
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "host_events_received_total",
			Help: "Events received from the automation host by event type",
		},
		[]string{"event_type"},
	)

	// HandlerInvocations counts subscription handler invocations by app.
	HandlerInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_handler_invocations_total",
			Help: "Subscription handler invocations by owning app",
		},
		[]string{"app"},
	)

	// HandlerSuppressed counts handler invocations suppressed by
	// debounce, throttle, or a failed change predicate.
	HandlerSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_handler_suppressed_total",
			Help: "Handler invocations suppressed by debounce, throttle, or predicate",
		},
		[]string{"app", "reason"},
	)

	// ServiceCalls counts service calls observed on the host's event
	// stream, including ones issued by this process.
	ServiceCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "host_service_calls_total",
			Help: "Service calls observed on the automation host by domain and service",
		},
		[]string{"domain", "service"},
	)

	// SchedulerRuns counts scheduled job executions by job name.
	SchedulerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_job_runs_total",
			Help: "Scheduled job executions by job name",
		},
		[]string{"job"},
	)
)
