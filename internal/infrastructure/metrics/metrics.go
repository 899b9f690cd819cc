// Package metrics exposes Prometheus counters for the ledger, the rollover,
// activity processing and the dispatcher. One Metrics value satisfies every
// metrics port the application layer declares.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leveleando/leveleando-tg/internal/application/command"
	"github.com/leveleando/leveleando-tg/internal/application/eventhandler"
	"github.com/leveleando/leveleando-tg/internal/infrastructure/messaging"
)

const namespace = "leveleando"

var (
	_ command.LedgerMetrics   = (*Metrics)(nil)
	_ command.RolloverMetrics = (*Metrics)(nil)
	_ eventhandler.Metrics    = (*Metrics)(nil)
	_ messaging.Metrics       = (*Metrics)(nil)
)

// Metrics holds every collector, registered on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	xpGranted           prometheus.Counter
	levelUps            *prometheus.CounterVec
	casConflicts        prometheus.Counter
	rollovers           prometheus.Counter
	rolloverCredited    prometheus.Counter
	rolloverWiped       prometheus.Counter
	activityProcessed   *prometheus.CounterVec
	activityDuration    prometheus.Histogram
	notificationsFailed *prometheus.CounterVec
	jobsFinished        *prometheus.CounterVec
	jobDuration         *prometheus.HistogramVec
	jobsRetried         *prometheus.CounterVec
	jobsDeadLettered    *prometheus.CounterVec
}

// New registers the collectors plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		xpGranted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "xp_granted_total",
			Help:      "XP credited to members across both tracks.",
		}),
		levelUps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "level_ups_total",
			Help:      "Levels gained, by track.",
		}, []string{"track"}),
		casConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_cas_conflicts_total",
			Help:      "Compare-and-swap writes that lost to a concurrent update.",
		}),
		rollovers: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollovers_total",
			Help:      "Monthly rollovers completed.",
		}),
		rolloverCredited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollover_standings_credited_total",
			Help:      "Top-3 finishes credited by rollovers.",
		}),
		rolloverWiped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollover_records_reset_total",
			Help:      "Monthly records reset by rollovers.",
		}),
		activityProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_events_total",
			Help:      "Activity events by final processing state.",
		}, []string{"state"}),
		activityDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "activity_event_duration_seconds",
			Help:      "Time to process one activity event.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		notificationsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Chat notifications that could not be delivered, by kind.",
		}, []string{"kind"}),
		jobsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "jobs_total",
			Help:      "Dispatcher jobs by name and outcome.",
		}, []string{"job", "outcome"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "job_duration_seconds",
			Help:      "Dispatcher job duration including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		jobsRetried: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "job_retries_total",
			Help:      "Dispatcher job retries.",
		}, []string{"job"}),
		jobsDeadLettered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "jobs_dead_lettered_total",
			Help:      "Dispatcher jobs that failed after all retries.",
		}, []string{"job"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ──────────────────────────────────────────────────────────────────────────────
// Ledger
// ──────────────────────────────────────────────────────────────────────────────

func (m *Metrics) CASConflict() { m.casConflicts.Inc() }

func (m *Metrics) XPGranted(amount int) {
	if amount > 0 {
		m.xpGranted.Add(float64(amount))
	}
}

func (m *Metrics) LevelUp(track string, levels int) {
	if levels > 0 {
		m.levelUps.WithLabelValues(track).Add(float64(levels))
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Rollover
// ──────────────────────────────────────────────────────────────────────────────

func (m *Metrics) RolloverCompleted(credited int, wiped int64) {
	m.rollovers.Inc()
	m.rolloverCredited.Add(float64(credited))
	m.rolloverWiped.Add(float64(wiped))
}

// ──────────────────────────────────────────────────────────────────────────────
// Activity
// ──────────────────────────────────────────────────────────────────────────────

func (m *Metrics) ActivityProcessed(state string, elapsed time.Duration) {
	m.activityProcessed.WithLabelValues(state).Inc()
	m.activityDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) NotificationFailed(kind string) {
	m.notificationsFailed.WithLabelValues(kind).Inc()
}

// ──────────────────────────────────────────────────────────────────────────────
// Dispatcher
// ──────────────────────────────────────────────────────────────────────────────

func (m *Metrics) JobFinished(name string, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.jobsFinished.WithLabelValues(name, outcome).Inc()
	m.jobDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

func (m *Metrics) JobRetried(name string) { m.jobsRetried.WithLabelValues(name).Inc() }

func (m *Metrics) JobDeadLettered(name string) { m.jobsDeadLettered.WithLabelValues(name).Inc() }
