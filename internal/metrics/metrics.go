// Package metrics holds the Prometheus collectors of the reminder engine.
// Collectors are registered on an injected registerer so that tests and
// multiple engines in one process do not collide on the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// RemindersProcessed counts per-reminder tick outcomes.
	// Labels:
	//   - outcome: "sent", "released", "skipped", "stale_task", "stale_user", "error"
	RemindersProcessed *prometheus.CounterVec

	// Deliveries counts channel attempts.
	// Labels:
	//   - channel: "push" or "email"
	//   - status: "success", "failed", "invalid_token"
	Deliveries *prometheus.CounterVec

	PrunedTokens   prometheus.Counter
	SweptReminders prometheus.Counter

	// TickDuration tracks how long a dispatcher tick takes end to end.
	TickDuration prometheus.Histogram

	// DueBacklog is the number of due, unsent reminders seen by the last tick.
	DueBacklog prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RemindersProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taskminder_reminders_processed_total",
			Help: "Reminders handled by dispatcher ticks, by outcome",
		}, []string{"outcome"}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taskminder_deliveries_total",
			Help: "Delivery attempts by channel and status",
		}, []string{"channel", "status"}),
		PrunedTokens: f.NewCounter(prometheus.CounterOpts{
			Name: "taskminder_pruned_tokens_total",
			Help: "Push tokens removed after the provider reported them invalid",
		}),
		SweptReminders: f.NewCounter(prometheus.CounterOpts{
			Name: "taskminder_swept_reminders_total",
			Help: "Reminders deleted by the retention sweeper",
		}),
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskminder_tick_duration_seconds",
			Help:    "Duration of dispatcher ticks",
			Buckets: prometheus.DefBuckets,
		}),
		DueBacklog: f.NewGauge(prometheus.GaugeOpts{
			Name: "taskminder_due_backlog",
			Help: "Due unsent reminders returned by the last tick query",
		}),
	}
}
