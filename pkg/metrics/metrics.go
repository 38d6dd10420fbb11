package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ActiveConnections *prometheus.GaugeVec
	EventsPublished   *prometheus.CounterVec
	DeliveryGaps      prometheus.Counter
	MessageAppends    *prometheus.CounterVec
	AppendDuration    prometheus.Histogram
	ReconcileSyncs    *prometheus.CounterVec
	ChangelogLag      prometheus.Gauge
	OpenConversations prometheus.Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		ActiveConnections: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chat_active_connections",
			Help: "Currently connected websocket clients by role",
		}, []string{"role"}),
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_events_published_total",
			Help: "Total events published to rooms",
		}, []string{"event"}),
		DeliveryGaps: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chat_delivery_gaps_total",
			Help: "Events dropped because a member send buffer was unavailable",
		}),
		MessageAppends: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_message_appends_total",
			Help: "Message append attempts by outcome",
		}, []string{"outcome"}),
		AppendDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "chat_append_duration_seconds",
			Help:    "Time taken to durably append a message",
			Buckets: prometheus.DefBuckets,
		}),
		ReconcileSyncs: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_reconcile_syncs_total",
			Help: "Reconciliation sync calls by outcome",
		}, []string{"outcome"}),
		ChangelogLag: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chat_changelog_consumer_lag_seconds",
			Help: "Age of the last changelog row observed",
		}),
		OpenConversations: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chat_open_conversations",
			Help: "Conversation rooms with at least one live customer connection",
		}),
	}
}
