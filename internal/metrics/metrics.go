package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Queue metrics
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ichor_queue_depth",
			Help: "Current number of pending events in an instance's queue",
		},
		[]string{"instance"},
	)

	QueuePushTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ichor_queue_push_total",
			Help: "Total number of events pushed onto an instance's queue",
		},
		[]string{"instance", "priority_band"},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ichor_dispatch_duration_seconds",
			Help:    "Time from an event leaving the queue to its handler chain completing",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"instance"},
	)

	// Resolver / cascade metrics
	DependencyOnlineTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ichor_dependency_online_total",
			Help: "Total number of dependency-online cascades processed",
		},
		[]string{"instance"},
	)

	DependencyOfflineTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ichor_dependency_offline_total",
			Help: "Total number of dependency-offline cascades processed",
		},
		[]string{"instance"},
	)

	// Lifecycle metrics
	ServiceStateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ichor_service_state_transitions_total",
			Help: "Total number of service lifecycle state transitions",
		},
		[]string{"instance", "from", "to"},
	)

	ServicesActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ichor_services_active",
			Help: "Current number of services in the ACTIVE state",
		},
		[]string{"instance"},
	)

	// Timer metrics
	TimerDrift = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ichor_timer_drift_seconds",
			Help:    "Observed minus requested timer interval",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
		[]string{"instance"},
	)

	// Circuit breaker metrics (connfactory.Factory)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ichor_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ichor_circuit_breaker_requests_total",
			Help: "Total number of requests through a connfactory circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure"
	)

	// Broadcast metrics
	BroadcastPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ichor_broadcast_publish_total",
			Help: "Total number of events published to the cross-instance broadcast channel",
		},
		[]string{"transport"},
	)

	BroadcastReceiveTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ichor_broadcast_receive_total",
			Help: "Total number of events received from the cross-instance broadcast channel",
		},
		[]string{"transport"},
	)
)

// RecordQueuePush increments QueuePushTotal for instance under the
// priority band label the caller passes.
func RecordQueuePush(instance string, band string) {
	QueuePushTotal.WithLabelValues(instance, band).Inc()
}

// SetQueueDepth updates the gauge tracking an instance's pending event
// count; called by internal/collab/metricssampler on each of its timer
// ticks.
func SetQueueDepth(instance string, depth int) {
	QueueDepth.WithLabelValues(instance).Set(float64(depth))
}

// RecordDispatch observes how long one event's handler chain took.
func RecordDispatch(instance string, duration time.Duration) {
	DispatchDuration.WithLabelValues(instance).Observe(duration.Seconds())
}

// RecordDependencyOnline increments the online-cascade counter.
func RecordDependencyOnline(instance string) {
	DependencyOnlineTotal.WithLabelValues(instance).Inc()
}

// RecordDependencyOffline increments the offline-cascade counter.
func RecordDependencyOffline(instance string) {
	DependencyOfflineTotal.WithLabelValues(instance).Inc()
}

// RecordStateTransition increments the lifecycle transition counter and
// is the place to wire a state-diagram dashboard panel from.
func RecordStateTransition(instance, from, to string) {
	ServiceStateTransitions.WithLabelValues(instance, from, to).Inc()
}

// SetServicesActive updates the gauge of currently ACTIVE services.
func SetServicesActive(instance string, count int) {
	ServicesActive.WithLabelValues(instance).Set(float64(count))
}

// RecordTimerDrift observes the gap between a timer's requested
// interval and the interval actually measured between two fires.
func RecordTimerDrift(instance string, drift time.Duration) {
	TimerDrift.WithLabelValues(instance).Observe(drift.Seconds())
}

// SetCircuitBreakerState records a connfactory breaker's current state
// as 0 (closed), 1 (half-open), or 2 (open), matching gobreaker.State's
// own ordering.
func SetCircuitBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordCircuitBreakerRequest increments the breaker request counter,
// result being "success" or "failure".
func RecordCircuitBreakerRequest(name, result string) {
	CircuitBreakerRequests.WithLabelValues(name, result).Inc()
}

// RecordBroadcastPublish increments the broadcast publish counter.
func RecordBroadcastPublish(transport string) {
	BroadcastPublishTotal.WithLabelValues(transport).Inc()
}

// RecordBroadcastReceive increments the broadcast receive counter.
func RecordBroadcastReceive(transport string) {
	BroadcastReceiveTotal.WithLabelValues(transport).Inc()
}
