package consumer

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeProcessed = "processed"
	outcomeRetried   = "retried"
	outcomeSkipped   = "skipped"
	outcomeMalformed = "malformed"
)

var (
	eventsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roster_service",
		Subsystem: "consumer",
		Name:      "events_total",
		Help:      "Roster events seen by the consumer, by outcome. Retries count each failed attempt.",
	}, []string{"topic", "event_type", "outcome"})

	fetchErrorCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "roster_service",
		Subsystem: "consumer",
		Name:      "fetch_errors_total",
		Help:      "Failed Kafka fetches.",
	})

	lastEventGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "roster_service",
		Subsystem: "consumer",
		Name:      "last_event_timestamp_seconds",
		Help:      "Record timestamp of the most recent event handled per topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(eventsCounter, fetchErrorCounter, lastEventGauge)
}

func recordEvent(topic, eventType, outcome string) {
	eventsCounter.WithLabelValues(topic, eventType, outcome).Inc()
}

func recordFetchError() {
	fetchErrorCounter.Inc()
}

func recordLastEvent(msg Message) {
	if !msg.Timestamp.IsZero() {
		lastEventGauge.WithLabelValues(msg.Topic).Set(float64(msg.Timestamp.Unix()))
	}
}
