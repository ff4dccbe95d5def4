package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	sessionsMaterializedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stepzy",
		Subsystem: "scheduler",
		Name:      "sessions_materialized_total",
		Help:      "Number of sessions created from activity recurrence rules.",
	})
	admissionsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stepzy",
		Subsystem: "admission",
		Name:      "participants_admitted_total",
		Help:      "Number of participants admitted to sessions, labeled by resolved status.",
	}, []string{"status"})
	departuresCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stepzy",
		Subsystem: "admission",
		Name:      "participants_left_total",
		Help:      "Number of participants that left sessions, labeled by the status they held.",
	}, []string{"status"})
	promotionsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stepzy",
		Subsystem: "admission",
		Name:      "waitlist_promotions_total",
		Help:      "Number of waiting participants promoted to confirmed.",
	})
	notificationsDroppedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stepzy",
		Subsystem: "notifications",
		Name:      "dropped_total",
		Help:      "Number of notifications that could not be recorded, labeled by kind.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(sessionsMaterializedCounter, admissionsCounter, departuresCounter, promotionsCounter, notificationsDroppedCounter)
}

// RecordSessionsMaterialized adds newly created sessions to the materialization counter.
func RecordSessionsMaterialized(n int) {
	if n <= 0 {
		return
	}
	sessionsMaterializedCounter.Add(float64(n))
}

// RecordAdmission counts one admitted participant.
func RecordAdmission(status string) {
	admissionsCounter.WithLabelValues(status).Inc()
}

// RecordDeparture counts one participant leaving a session.
func RecordDeparture(status string) {
	departuresCounter.WithLabelValues(status).Inc()
}

// RecordPromotion counts one waitlist promotion.
func RecordPromotion() {
	promotionsCounter.Inc()
}

// RecordNotificationDropped counts a notification swallowed after a failure.
func RecordNotificationDropped(kind string) {
	notificationsDroppedCounter.WithLabelValues(kind).Inc()
}
