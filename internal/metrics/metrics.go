// Package metrics exposes Prometheus collectors for scheduler activity.
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "compass"

// Metrics holds the scheduler and normalizer collectors.
type Metrics struct {
	evaluations         *prometheus.CounterVec
	coalesced           prometheus.Counter
	discarded           prometheus.Counter
	calendarUnavailable *prometheus.CounterVec
	evaluationDuration  prometheus.Histogram
	droppedEvents       *prometheus.CounterVec
}

// MustNew constructs Metrics and registers them with reg. A nil reg uses
// the default registerer. Registration errors panic, surfacing wiring bugs
// (such as registering twice on one registry) early.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "evaluations_total",
				Help:      "Published evaluations by trigger, mode and confidence.",
			},
			[]string{"trigger", "mode", "confidence"},
		),
		coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "coalesced_total",
			Help:      "Triggers folded into a pending re-run while an evaluation was in flight.",
		}),
		discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "discarded_total",
			Help:      "Evaluation results dropped because a newer trigger superseded them.",
		}),
		calendarUnavailable: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "calendar_unavailable_total",
				Help:      "Evaluations that ran without a calendar view, by reason.",
			},
			[]string{"reason"},
		),
		evaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "evaluation_duration_seconds",
			Help:      "Time from trigger acceptance to publish, including the calendar fetch.",
			Buckets:   prometheus.DefBuckets,
		}),
		droppedEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "signals",
				Name:      "dropped_events_total",
				Help:      "Malformed calendar events dropped during normalization, by problem.",
			},
			[]string{"problem"},
		),
	}

	reg.MustRegister(
		m.evaluations,
		m.coalesced,
		m.discarded,
		m.calendarUnavailable,
		m.evaluationDuration,
		m.droppedEvents,
	)
	return m
}

// ObserveEvaluation records one published evaluation.
func (m *Metrics) ObserveEvaluation(trigger, mode, confidence string, took time.Duration) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(trigger, mode, confidence).Inc()
	m.evaluationDuration.Observe(took.Seconds())
}

// IncCoalesced records a trigger folded into a pending re-run.
func (m *Metrics) IncCoalesced() {
	if m == nil {
		return
	}
	m.coalesced.Inc()
}

// IncDiscarded records a superseded evaluation result.
func (m *Metrics) IncDiscarded() {
	if m == nil {
		return
	}
	m.discarded.Inc()
}

// IncCalendarUnavailable records an evaluation without a calendar view.
func (m *Metrics) IncCalendarUnavailable(reason string) {
	if m == nil {
		return
	}
	m.calendarUnavailable.WithLabelValues(reason).Inc()
}

// AddDroppedEvents records n malformed events with the given problem.
func (m *Metrics) AddDroppedEvents(problem string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.droppedEvents.WithLabelValues(problem).Add(float64(n))
}
