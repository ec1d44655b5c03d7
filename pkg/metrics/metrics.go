// Package metrics provides Prometheus metrics for the peer++ bot.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the bot's Prometheus collectors.
type Metrics struct {
	WebhooksReceived  prometheus.Counter
	WebhooksRejected  prometheus.Counter
	WebhooksIgnored   prometheus.Counter
	EvalsJudged       *prometheus.CounterVec // label: required ("true"/"false")
	PlaceholderErrors prometheus.Counter
	CacheRefreshes    prometheus.Counter
	CacheStaleServes  prometheus.Counter
	Bookings          *prometheus.CounterVec // label: outcome
	DirectMessages    *prometheus.CounterVec // label: status ("sent"/"failed")
}

// New creates the bot's metrics registered on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		WebhooksReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "peerpp", Subsystem: "webhook", Name: "received_total",
			Help: "Webhook deliveries accepted for processing.",
		}),
		WebhooksRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "peerpp", Subsystem: "webhook", Name: "rejected_total",
			Help: "Webhook deliveries rejected for bad headers or secrets.",
		}),
		WebhooksIgnored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "peerpp", Subsystem: "webhook", Name: "ignored_total",
			Help: "Webhook deliveries ignored (self-fired or unwatched project).",
		}),
		EvalsJudged: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peerpp", Subsystem: "eligibility", Name: "judged_total",
			Help: "Eligibility decisions, by whether an extra review was required.",
		}, []string{"required"}),
		PlaceholderErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "peerpp", Subsystem: "eligibility", Name: "placeholder_errors_total",
			Help: "Failed placeholder creations after a positive decision.",
		}),
		CacheRefreshes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "peerpp", Subsystem: "lockcache", Name: "refreshes_total",
			Help: "Snapshot refreshes from the intra API.",
		}),
		CacheStaleServes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "peerpp", Subsystem: "lockcache", Name: "stale_serves_total",
			Help: "Requests served from a stale snapshot after a failed refresh.",
		}),
		Bookings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peerpp", Subsystem: "booking", Name: "claims_total",
			Help: "Claim attempts, by outcome.",
		}, []string{"outcome"}),
		DirectMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peerpp", Subsystem: "slack", Name: "direct_messages_total",
			Help: "Direct messages, by delivery status.",
		}, []string{"status"}),
	}
}
