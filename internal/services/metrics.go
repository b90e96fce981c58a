package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the bot
type Metrics struct {
	MessagesReceived prometheus.Counter
	RepliesSent      prometheus.Counter
	ReplyLatency     prometheus.Histogram
	ChatErrors       *prometheus.CounterVec
	TriggerHits      *prometheus.CounterVec
	ContextSize      prometheus.Histogram
}

// InitMetrics initializes the Prometheus metrics
func InitMetrics() *Metrics {
	return &Metrics{
		MessagesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tgchat_messages_received_total",
			Help: "Total number of inbound Telegram messages processed",
		}),

		RepliesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tgchat_replies_sent_total",
			Help: "Total number of generated replies sent",
		}),

		ReplyLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "tgchat_reply_duration_seconds",
			Help:    "Latency from trigger to sent reply in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120}, // LLM calls dominate
		}),

		ChatErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tgchat_errors_total",
			Help: "Total number of errors by type",
		}, []string{"error_type"}), // "store", "response", "telegram", "malformed"

		TriggerHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tgchat_trigger_hits_total",
			Help: "Trigger evaluator decisions by rule",
		}, []string{"rule"}), // "mention", "keyword", "reply", "none"

		ContextSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "tgchat_context_window_fill",
			Help:    "Messages in the context window at prompt build time",
			Buckets: []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
	}
}
