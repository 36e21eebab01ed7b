package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	relayEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roster_service",
		Subsystem: "outbox",
		Name:      "relayed_events_total",
		Help:      "Outbox events settled by the relay, by outcome.",
	}, []string{"outcome"})

	relayBatchSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "roster_service",
		Subsystem: "outbox",
		Name:      "relay_batch_seconds",
		Help:      "Time spent claiming and settling one relay batch.",
		Buckets:   prometheus.DefBuckets,
	})

	dlqActions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roster_service",
		Subsystem: "outbox_dlq",
		Name:      "actions_total",
		Help:      "Dead letter entries requeued or quarantined by the redriver.",
	}, []string{"action"})

	dlqEntries = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "roster_service",
		Subsystem: "outbox_dlq",
		Name:      "entries",
		Help:      "Dead letter entries by state.",
	}, []string{"state"})
)

func init() {
	prometheus.MustRegister(relayEvents, relayBatchSeconds, dlqActions, dlqEntries)
}
