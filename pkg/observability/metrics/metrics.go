// Package metrics exposes Prometheus instrumentation for the reconciliation
// engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder records reconciliation metrics. A nil Recorder is a no-op so the
// engine can run uninstrumented.
type Recorder struct {
	passes        *prometheus.CounterVec
	applies       *prometheus.CounterVec
	failedEntries *prometheus.GaugeVec
	duration      *prometheus.HistogramVec
}

// NewRecorder constructs a Recorder and registers its collectors with the
// provided registerer. If reg is nil the default Prometheus registerer is
// used.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "statesync_passes_total",
			Help: "Total number of reconciliation passes grouped by application and result.",
		}, []string{"application", "result"}),
		applies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "statesync_applies_total",
			Help: "Total number of apply operations grouped by operation type and result.",
		}, []string{"operation", "result"}),
		failedEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "statesync_failed_entries",
			Help: "Number of diff entries currently counting apply failures per application.",
		}, []string{"application"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "statesync_pass_duration_seconds",
			Help:    "Duration of reconciliation passes in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"application"}),
	}
	r.passes = registerCollector(reg, r.passes)
	r.applies = registerCollector(reg, r.applies)
	r.failedEntries = registerCollector(reg, r.failedEntries)
	r.duration = registerCollector(reg, r.duration)
	return r
}

// ObservePass records the outcome of one reconciliation pass.
func (r *Recorder) ObservePass(application, result string, failedEntries int, duration time.Duration) {
	if r == nil {
		return
	}
	r.passes.WithLabelValues(application, result).Inc()
	r.failedEntries.WithLabelValues(application).Set(float64(failedEntries))
	r.duration.WithLabelValues(application).Observe(duration.Seconds())
}

// ObserveApply records one apply operation.
func (r *Recorder) ObserveApply(operation string, err error) {
	if r == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	r.applies.WithLabelValues(operation, result).Inc()
}

func registerCollector[C prometheus.Collector](reg prometheus.Registerer, collector C) C {
	if err := reg.Register(collector); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return collector
}
