package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/tempsys-core/internal/auth"
)

const namespace = "tempsys"

// PrometheusRecorder exports auth events as Prometheus metrics:
//
//	tempsys_auth_operations_total{op,outcome}
//	tempsys_auth_operation_duration_seconds{op}
//	tempsys_tokens_reaped_total
type PrometheusRecorder struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	reaped     prometheus.Counter
}

// NewPrometheusRecorder creates the collectors and registers them with reg.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	r := &PrometheusRecorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "operations_total",
			Help:      "Completed auth operations by outcome.",
		}, []string{"op", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "operation_duration_seconds",
			Help:      "Auth operation latency, including password hashing.",
			// Argon2id dominates; buckets span cheap refreshes to slow logins.
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"op"}),
		reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tokens",
			Name:      "reaped_total",
			Help:      "Inactive tokens removed by the reaper.",
		}),
	}

	for _, c := range []prometheus.Collector{r.operations, r.duration, r.reaped} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering auth metrics: %w", err)
		}
	}
	return r, nil
}

// Record implements auth.Recorder.
func (r *PrometheusRecorder) Record(e auth.Event) {
	r.operations.WithLabelValues(e.Op, e.Outcome).Inc()
	r.duration.WithLabelValues(e.Op).Observe(e.Took.Seconds())
	if e.Op == auth.OpSweep && e.Removed > 0 {
		r.reaped.Add(float64(e.Removed))
	}
}
