// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set holds every collector the engine reports.
type Set struct {
	registry *prometheus.Registry

	TriggersClaimed      *prometheus.CounterVec
	TurnsTotal           *prometheus.CounterVec
	TurnDuration         *prometheus.HistogramVec
	ResponderFailures    prometheus.Counter
	SessionsCompleted    prometheus.Counter
	ConcurrencyConflicts prometheus.Counter
}

// NewSet registers all collectors on a private registry.
func NewSet() *Set {
	s := &Set{
		registry: prometheus.NewRegistry(),
		TriggersClaimed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_triggers_claimed_total",
				Help: "Triggers claimed from the queue, by kind.",
			},
			[]string{"kind"},
		),
		TurnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_turns_total",
				Help: "Turns produced, by speaking role.",
			},
			[]string{"role"},
		),
		TurnDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "parley_turn_duration_seconds",
				Help:    "Wall time spent producing a turn.",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"mode"},
		),
		ResponderFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_responder_failures_total",
			Help: "Responder calls that returned an error.",
		}),
		SessionsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_sessions_completed_total",
			Help: "Sessions transitioned to completed.",
		}),
		ConcurrencyConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_concurrency_conflicts_total",
			Help: "Advances rejected because the session lease was held.",
		}),
	}
	s.registry.MustRegister(
		s.TriggersClaimed,
		s.TurnsTotal,
		s.TurnDuration,
		s.ResponderFailures,
		s.SessionsCompleted,
		s.ConcurrencyConflicts,
	)
	return s
}

// Handler serves the registry in the Prometheus exposition format.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
