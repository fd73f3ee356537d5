package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "skillly",
		Subsystem: "server",
		Name:      "messages_stored_total",
		Help:      "Messages appended to the store, duplicates excluded.",
	})

	metricDuplicates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "skillly",
		Subsystem: "server",
		Name:      "messages_duplicate_total",
		Help:      "Retransmitted frames suppressed by the store.",
	})

	metricNotified = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "skillly",
		Subsystem: "server",
		Name:      "notifications_sent_total",
		Help:      "Cross-room events enqueued on notification sockets.",
	})

	metricSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "skillly",
		Subsystem: "server",
		Name:      "open_sockets",
		Help:      "Currently open websocket connections.",
	})
)
