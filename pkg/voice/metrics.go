package voice

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus метрики голосового слоя. Регистрируются на уровне пакета,
// чтобы несколько подключений в одном процессе разделяли коллекторы.
var (
	metricPacketsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chat",
		Subsystem: "voice",
		Name:      "packets_sent_total",
		Help:      "Total number of audio packets sent",
	})

	metricSilenceSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chat",
		Subsystem: "voice",
		Name:      "silence_frames_sent_total",
		Help:      "Total number of silence frames substituted for missing source frames",
	})

	metricPacketsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chat",
		Subsystem: "voice",
		Name:      "packets_received_total",
		Help:      "Total number of audio packets received and decrypted",
	})

	metricDecryptFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chat",
		Subsystem: "voice",
		Name:      "decrypt_failures_total",
		Help:      "Total number of inbound packets dropped by authenticity check",
	})

	metricQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chat",
		Subsystem: "voice",
		Name:      "queue_depth",
		Help:      "Number of tracks waiting in the playback queue",
	})

	metricConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chat",
		Subsystem: "voice",
		Name:      "connections_active",
		Help:      "Number of currently established voice connections",
	})
)
