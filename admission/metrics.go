/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsLabelOutcome = "outcome"
	metricsLabelReason  = "reason"
	metricsLabelPhase   = "phase"
	metricsLabelConfig  = "config_id"
	metricsLabelTable   = "table"
)

// Counter tables used as a metric label.
const (
	TableIP       = "ip"
	TableResource = "resource"
)

// Lock phases used as a metric label.
const (
	PhaseAdmission  = "admission"
	PhaseCompletion = "completion"
)

// MetricsCollector receives events from the engine.
type MetricsCollector interface {
	IncDecisions(outcome Outcome, reason Reason)
	IncLockFailures(phase string)
	IncInconsistencies()
}

type disabledMetrics struct{}

func (disabledMetrics) IncDecisions(Outcome, Reason) {}
func (disabledMetrics) IncLockFailures(string)       {}
func (disabledMetrics) IncInconsistencies()          {}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// PrometheusMetrics is a MetricsCollector that exposes engine events as Prometheus metrics.
type PrometheusMetrics struct {
	Decisions       *prometheus.CounterVec
	LockFailures    *prometheus.CounterVec
	Inconsistencies prometheus.Counter
	OccupiedSlots   *prometheus.GaugeVec
	InFlight        *prometheus.GaugeVec
}

var _ MetricsCollector = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates a new PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new PrometheusMetrics.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	return &PrometheusMetrics{
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "vlimit_decisions_total",
			Help:        "Total number of admission decisions.",
			ConstLabels: opts.ConstLabels,
		}, []string{metricsLabelOutcome, metricsLabelReason}),
		LockFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "vlimit_lock_failures_total",
			Help:        "Total number of failures to acquire or release the shared counters lock.",
			ConstLabels: opts.ConstLabels,
		}, []string{metricsLabelPhase}),
		Inconsistencies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "vlimit_inconsistencies_total",
			Help:        "Total number of releases of counters that were not found in the shared tables.",
			ConstLabels: opts.ConstLabels,
		}),
		OccupiedSlots: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "vlimit_occupied_slots",
			Help:        "Number of occupied slots in the shared counter tables.",
			ConstLabels: opts.ConstLabels,
		}, []string{metricsLabelConfig, metricsLabelTable}),
		InFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "vlimit_in_flight_requests",
			Help:        "Sum of counters in the shared counter tables, i.e. the number of counted in-flight requests.",
			ConstLabels: opts.ConstLabels,
		}, []string{metricsLabelConfig, metricsLabelTable}),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(pm.Decisions, pm.LockFailures, pm.Inconsistencies, pm.OccupiedSlots, pm.InFlight)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.Decisions)
	prometheus.Unregister(pm.LockFailures)
	prometheus.Unregister(pm.Inconsistencies)
	prometheus.Unregister(pm.OccupiedSlots)
	prometheus.Unregister(pm.InFlight)
}

// IncDecisions increments the counter of decisions.
func (pm *PrometheusMetrics) IncDecisions(outcome Outcome, reason Reason) {
	pm.Decisions.WithLabelValues(outcome.String(), string(reason)).Inc()
}

// IncLockFailures increments the counter of lock failures.
func (pm *PrometheusMetrics) IncLockFailures(phase string) {
	pm.LockFailures.WithLabelValues(phase).Inc()
}

// IncInconsistencies increments the counter of releases that found no slot.
func (pm *PrometheusMetrics) IncInconsistencies() {
	pm.Inconsistencies.Inc()
}

// ObserveSnapshot sets the occupancy gauges of the configuration from its snapshot.
func (pm *PrometheusMetrics) ObserveSnapshot(snap Snapshot) {
	configID := strconv.Itoa(snap.ConfigID)
	for _, t := range []struct {
		name  string
		slots []Slot
	}{{TableIP, snap.IP}, {TableResource, snap.Resources}} {
		total := 0
		for _, slot := range t.slots {
			total += slot.Counter
		}
		pm.OccupiedSlots.WithLabelValues(configID, t.name).Set(float64(len(t.slots)))
		pm.InFlight.WithLabelValues(configID, t.name).Set(float64(total))
	}
}
