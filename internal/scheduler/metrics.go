package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	runCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stepzy",
		Subsystem: "scheduler",
		Name:      "runs_total",
		Help:      "Materialization passes grouped by result.",
	}, []string{"result"})

	runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "stepzy",
		Subsystem: "scheduler",
		Name:      "run_duration_seconds",
		Help:      "Duration of materialization passes.",
		Buckets:   prometheus.DefBuckets,
	})

	lastSuccessGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stepzy",
		Subsystem: "scheduler",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last pass that completed without errors.",
	})
)

func init() {
	prometheus.MustRegister(runCounter, runDuration, lastSuccessGauge)
}

func recordRun(elapsed time.Duration, err error) {
	runDuration.Observe(elapsed.Seconds())
	if err != nil {
		runCounter.WithLabelValues("error").Inc()
		return
	}
	runCounter.WithLabelValues("ok").Inc()
	lastSuccessGauge.SetToCurrentTime()
}
