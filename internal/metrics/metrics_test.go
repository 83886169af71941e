package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordQueuePush(t *testing.T) {
	before := testutil.ToFloat64(QueuePushTotal.WithLabelValues("test-instance", "event"))
	RecordQueuePush("test-instance", "event")
	after := testutil.ToFloat64(QueuePushTotal.WithLabelValues("test-instance", "event"))
	assert.Equal(t, before+1, after)
}

func TestSetQueueDepth(t *testing.T) {
	SetQueueDepth("depth-instance", 7)
	assert.Equal(t, float64(7), testutil.ToFloat64(QueueDepth.WithLabelValues("depth-instance")))

	SetQueueDepth("depth-instance", 0)
	assert.Equal(t, float64(0), testutil.ToFloat64(QueueDepth.WithLabelValues("depth-instance")))
}

func TestRecordDispatchDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordDispatch("dispatch-instance", 2*time.Millisecond)
	})
}

func TestRecordDependencyCascades(t *testing.T) {
	beforeOn := testutil.ToFloat64(DependencyOnlineTotal.WithLabelValues("cascade-instance"))
	beforeOff := testutil.ToFloat64(DependencyOfflineTotal.WithLabelValues("cascade-instance"))

	RecordDependencyOnline("cascade-instance")
	RecordDependencyOffline("cascade-instance")

	assert.Equal(t, beforeOn+1, testutil.ToFloat64(DependencyOnlineTotal.WithLabelValues("cascade-instance")))
	assert.Equal(t, beforeOff+1, testutil.ToFloat64(DependencyOfflineTotal.WithLabelValues("cascade-instance")))
}

func TestRecordStateTransition(t *testing.T) {
	before := testutil.ToFloat64(ServiceStateTransitions.WithLabelValues("state-instance", "INSTALLED", "STARTING"))
	RecordStateTransition("state-instance", "INSTALLED", "STARTING")
	after := testutil.ToFloat64(ServiceStateTransitions.WithLabelValues("state-instance", "INSTALLED", "STARTING"))
	assert.Equal(t, before+1, after)
}

func TestSetServicesActive(t *testing.T) {
	SetServicesActive("active-instance", 3)
	assert.Equal(t, float64(3), testutil.ToFloat64(ServicesActive.WithLabelValues("active-instance")))
}

func TestRecordTimerDrift(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordTimerDrift("timer-instance", 500*time.Microsecond)
	})
}

func TestSetCircuitBreakerState(t *testing.T) {
	SetCircuitBreakerState("breaker-a", 2)
	assert.Equal(t, float64(2), testutil.ToFloat64(CircuitBreakerState.WithLabelValues("breaker-a")))
}

func TestRecordCircuitBreakerRequest(t *testing.T) {
	before := testutil.ToFloat64(CircuitBreakerRequests.WithLabelValues("breaker-b", "success"))
	RecordCircuitBreakerRequest("breaker-b", "success")
	after := testutil.ToFloat64(CircuitBreakerRequests.WithLabelValues("breaker-b", "success"))
	assert.Equal(t, before+1, after)
}

func TestRecordBroadcastPublishAndReceive(t *testing.T) {
	beforePub := testutil.ToFloat64(BroadcastPublishTotal.WithLabelValues("memory"))
	beforeRecv := testutil.ToFloat64(BroadcastReceiveTotal.WithLabelValues("memory"))

	RecordBroadcastPublish("memory")
	RecordBroadcastReceive("memory")

	assert.Equal(t, beforePub+1, testutil.ToFloat64(BroadcastPublishTotal.WithLabelValues("memory")))
	assert.Equal(t, beforeRecv+1, testutil.ToFloat64(BroadcastReceiveTotal.WithLabelValues("memory")))
}

func TestMetricsPassLint(t *testing.T) {
	problems, err := testutil.GatherAndLint(prometheus.DefaultGatherer)
	assert.NoError(t, err)
	assert.Empty(t, problems)
}
