// Package obs wires Prometheus metrics for the job lifecycle.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"

	"server/internal/resilience"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	JobsCreated   *prometheus.CounterVec
	JobsCompleted *prometheus.CounterVec
	JobsFailed    *prometheus.CounterVec
	JobsCancelled *prometheus.CounterVec
	EngineCalls   *prometheus.CounterVec
}

// NewMetrics registers the job counters on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "video_jobs_created_total",
			Help: "Jobs accepted for processing.",
		}, []string{"engine"}),
		JobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "video_jobs_completed_total",
			Help: "Jobs that reached the completed state.",
		}, []string{"engine"}),
		JobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "video_jobs_failed_total",
			Help: "Jobs that reached the failed state.",
		}, []string{"engine"}),
		JobsCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "video_jobs_cancelled_total",
			Help: "Jobs cancelled by their owner.",
		}, []string{"engine"}),
		EngineCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "video_engine_calls_total",
			Help: "Engine adapter calls by operation and outcome.",
		}, []string{"engine", "op", "outcome"}),
	}
	reg.MustRegister(m.JobsCreated, m.JobsCompleted, m.JobsFailed, m.JobsCancelled, m.EngineCalls)
	return m
}

// RegisterBreaker exposes a breaker's state as a gauge: 0 CLOSED, 1 OPEN,
// 2 HALF_OPEN.
func RegisterBreaker(reg prometheus.Registerer, breaker *resilience.CircuitBreaker) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "video_engine_circuit_state",
		Help:        "Circuit breaker state per engine (0=CLOSED, 1=OPEN, 2=HALF_OPEN).",
		ConstLabels: prometheus.Labels{"engine": breaker.Name()},
	}, func() float64 {
		switch breaker.State() {
		case resilience.CircuitOpen:
			return 1
		case resilience.CircuitHalfOpen:
			return 2
		}
		return 0
	}))
}
