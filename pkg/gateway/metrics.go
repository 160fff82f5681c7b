package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus метрики gateway сессии. Регистрируются на уровне пакета,
// чтобы несколько сессий в одном процессе разделяли общие коллекторы.
var (
	metricEventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat",
		Subsystem: "gateway",
		Name:      "events_dispatched_total",
		Help:      "Total number of dispatch events delivered to the consumer",
	}, []string{"type"})

	metricEventsDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chat",
		Subsystem: "gateway",
		Name:      "events_discarded_total",
		Help:      "Total number of duplicate or stale events discarded by sequence check",
	})

	metricHeartbeatsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chat",
		Subsystem: "gateway",
		Name:      "heartbeats_sent_total",
		Help:      "Total number of heartbeats sent",
	})

	metricHeartbeatLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "chat",
		Subsystem: "gateway",
		Name:      "heartbeat_latency_seconds",
		Help:      "Latency between heartbeat send and acknowledgement",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	metricResumes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat",
		Subsystem: "gateway",
		Name:      "resumes_total",
		Help:      "Total number of resume attempts by outcome",
	}, []string{"outcome"})

	metricReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chat",
		Subsystem: "gateway",
		Name:      "reconnects_total",
		Help:      "Total number of full reconnect attempts",
	})

	metricSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chat",
		Subsystem: "gateway",
		Name:      "sessions_active",
		Help:      "Number of currently open gateway sessions",
	})
)
