// Package observability holds the Prometheus instruments for roster operations.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	rosterOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roster_service",
		Subsystem: "roster",
		Name:      "operations_total",
		Help:      "Roster operations grouped by operation and outcome.",
	}, []string{"operation", "outcome"})

	rosterSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "roster_service",
		Subsystem: "roster",
		Name:      "participants",
		Help:      "Current number of participants per activity.",
	}, []string{"activity"})

	notifyFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "roster_service",
		Subsystem: "notify",
		Name:      "failures_total",
		Help:      "Roster change notifications that could not be delivered.",
	})

	lastCommitGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "roster_service",
		Subsystem: "persistence",
		Name:      "last_roster_commit_timestamp_seconds",
		Help:      "Unix timestamp of the most recent roster change persisted.",
	})
)

func init() {
	prometheus.MustRegister(rosterOperations, rosterSize, notifyFailures, lastCommitGauge)
}

// RecordOperation counts a roster operation outcome such as "ok", "full" or "not_found".
func RecordOperation(operation, outcome string) {
	rosterOperations.WithLabelValues(operation, outcome).Inc()
}

// SetRosterSize updates the participant gauge for an activity.
func SetRosterSize(activity string, size int) {
	rosterSize.WithLabelValues(activity).Set(float64(size))
}

// RecordNotifyFailure counts a dropped notification.
func RecordNotifyFailure() {
	notifyFailures.Inc()
}

// RecordCommit updates the commit watermark gauge.
func RecordCommit(ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastCommitGauge.Set(float64(ts.Unix()))
}
