package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "skillly",
		Subsystem: "chat",
		Name:      "messages_delivered_total",
		Help:      "Inbound messages delivered to subscribers after deduplication.",
	})

	metricDuplicates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "skillly",
		Subsystem: "chat",
		Name:      "messages_duplicate_total",
		Help:      "Inbound messages suppressed as duplicates.",
	})

	metricDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "skillly",
		Subsystem: "chat",
		Name:      "frames_dropped_total",
		Help:      "Inbound frames dropped because they failed to parse or validate.",
	})

	metricSendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "skillly",
		Subsystem: "chat",
		Name:      "send_failures_total",
		Help:      "Sends refused because the room socket was not open.",
	})

	metricOpenConns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "skillly",
		Subsystem: "chat",
		Name:      "room_connections_open",
		Help:      "Room sockets currently open.",
	})

	metricReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "skillly",
		Subsystem: "chat",
		Name:      "global_reconnect_attempts_total",
		Help:      "Reconnect attempts made by the global notification channel.",
	})
)
