package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPoolCounters(t *testing.T) {
	PoolMessagesProcessed.WithLabelValues("test-pool", "success").Inc()
	PoolMessagesProcessed.WithLabelValues("test-pool", "failed").Inc()
	PoolMessagesProcessed.WithLabelValues("test-pool", "rate_limited").Inc()
	PoolAckedTotal.WithLabelValues("test-pool").Inc()
	PoolNackedTotal.WithLabelValues("test-pool").Add(3)
	PoolCascadeNacks.WithLabelValues("test-pool").Inc()
	PoolRateLimitRejections.WithLabelValues("test-pool").Inc()
}

func TestPoolGauges(t *testing.T) {
	PoolActiveWorkers.WithLabelValues("test-pool-gauges").Set(5)
	PoolIngressDepth.WithLabelValues("test-pool-gauges").Set(100)
	PoolAvailablePermits.WithLabelValues("test-pool-gauges").Set(15)
	PoolMessageGroupCount.WithLabelValues("test-pool-gauges").Set(4)

	if got := testutil.ToFloat64(PoolActiveWorkers.WithLabelValues("test-pool-gauges")); got != 5 {
		t.Errorf("PoolActiveWorkers = %f, want 5", got)
	}
	if got := testutil.ToFloat64(PoolIngressDepth.WithLabelValues("test-pool-gauges")); got != 100 {
		t.Errorf("PoolIngressDepth = %f, want 100", got)
	}
}

func TestMediatorMetrics(t *testing.T) {
	for _, outcome := range []string{"success", "error_config", "error_process", "error_connection"} {
		MediatorAttempts.WithLabelValues(outcome).Inc()
	}
	MediatorHTTPRequests.WithLabelValues("200", "POST").Inc()
	MediatorHTTPRequests.WithLabelValues("500", "POST").Inc()
	MediatorDuration.WithLabelValues("http://target.local").Observe(0.05)

	target := "http://cb-target.local"
	MediatorCircuitBreakerState.WithLabelValues(target).Set(CircuitBreakerClosed)
	MediatorCircuitBreakerState.WithLabelValues(target).Set(CircuitBreakerOpen)
	MediatorCircuitBreakerTrips.WithLabelValues(target).Inc()
	MediatorCircuitBreakerState.WithLabelValues(target).Set(CircuitBreakerHalfOpen)

	if got := testutil.ToFloat64(MediatorCircuitBreakerState.WithLabelValues(target)); got != CircuitBreakerHalfOpen {
		t.Errorf("circuit breaker state = %f, want %d", got, CircuitBreakerHalfOpen)
	}
}

func TestSchedulerMetrics(t *testing.T) {
	SchedulerJobsScheduled.Add(10)
	SchedulerJobsPending.Set(50)
	SchedulerStaleJobs.Inc()
	SchedulerBlockedJobs.Add(2)

	if got := testutil.ToFloat64(SchedulerJobsPending); got != 50 {
		t.Errorf("SchedulerJobsPending = %f, want 50", got)
	}
}

func TestQueueMetrics(t *testing.T) {
	for _, qt := range []string{"nats", "sqs"} {
		QueueMessagesPublished.WithLabelValues(qt).Inc()
		QueueMessagesConsumed.WithLabelValues(qt).Inc()
		QueuePublishErrors.WithLabelValues(qt).Inc()
	}
}

func TestPipelineAndLeaderMetrics(t *testing.T) {
	PipelineMapSize.Set(12)
	PipelineTotalCapacity.Set(400)
	PipelineDuplicatesDropped.Inc()
	LeaderState.Set(1)
	LeaderTransitions.WithLabelValues("elected").Inc()
	LeaderTransitions.WithLabelValues("demoted").Inc()

	if got := testutil.ToFloat64(LeaderState); got != 1 {
		t.Errorf("LeaderState = %f, want 1", got)
	}
}

func TestStoreMetrics(t *testing.T) {
	StoreQueries.WithLabelValues("FindByID", "success").Inc()
	StoreQueries.WithLabelValues("AppendAttempt", "error").Inc()
	StoreQueryDuration.WithLabelValues("FindReadyPending").Observe(0.012)
}

func TestCircuitBreakerConstants(t *testing.T) {
	if CircuitBreakerClosed != 0 || CircuitBreakerOpen != 1 || CircuitBreakerHalfOpen != 2 {
		t.Errorf("unexpected circuit breaker constants: %d %d %d",
			CircuitBreakerClosed, CircuitBreakerOpen, CircuitBreakerHalfOpen)
	}
}

func TestCounterValueIsolated(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter",
		Help: "Test counter",
	})
	reg.MustRegister(counter)

	counter.Add(5)
	counter.Inc()
	if got := testutil.ToFloat64(counter); got != 6 {
		t.Errorf("counter = %f, want 6", got)
	}
}

func BenchmarkCounterInc(b *testing.B) {
	counter := PoolMessagesProcessed.WithLabelValues("bench-pool", "success")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		counter.Inc()
	}
}
