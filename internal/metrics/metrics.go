// Package metrics exposes Prometheus collectors for pipeline actions and
// depot operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "depotci"

// Recorder groups the collectors. A nil *Recorder records nothing.
type Recorder struct {
	actions        *prometheus.CounterVec
	actionDuration *prometheus.HistogramVec
	depotOps       *prometheus.CounterVec
}

// New builds unregistered collectors.
func New() *Recorder {
	return &Recorder{
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_total",
				Help:      "Pipeline actions executed, by kind and final status",
			},
			[]string{"kind", "status"}),
		actionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "action_duration_seconds",
				Help:      "Wall time of pipeline actions by kind",
				Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
			},
			[]string{"kind"}),
		depotOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "depot_operations_total",
				Help:      "Depot operations by operation and outcome",
			},
			[]string{"operation", "outcome"}),
	}
}

// Register adds the collectors to registerer.
func (r *Recorder) Register(registerer prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{r.actions, r.actionDuration, r.depotOps} {
		if err := registerer.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveAction records one finished action.
func (r *Recorder) ObserveAction(kind, status string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.actions.WithLabelValues(kind, status).Inc()
	r.actionDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// DepotOperation records one depot call and how it ended.
func (r *Recorder) DepotOperation(operation, outcome string) {
	if r == nil {
		return
	}
	r.depotOps.WithLabelValues(operation, outcome).Inc()
}
