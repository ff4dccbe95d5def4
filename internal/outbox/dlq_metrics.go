package outbox

import "github.com/prometheus/client_golang/prometheus"

var (
	dlqEntriesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stepzy",
		Subsystem: "dlq",
		Name:      "entries_total",
		Help:      "DLQ entries handled by the replay manager, by outcome.",
	}, []string{"outcome", "topic", "event_type"})

	dlqBacklogGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stepzy",
		Subsystem: "dlq",
		Name:      "queued_messages",
		Help:      "Entries still waiting in the DLQ, quarantined ones excluded.",
	})
)

func init() {
	prometheus.MustRegister(dlqEntriesCounter, dlqBacklogGauge)
}

func recordDLQOutcome(outcome replayOutcome, entry dlqEntry) {
	if outcome == "" {
		return
	}
	dlqEntriesCounter.WithLabelValues(string(outcome), entry.Topic, entry.EventType).Inc()
}
