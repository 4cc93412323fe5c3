package livefeed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	namespace = "collab"
	subsystem = "livefeed"

	activeSubscriptions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active_subscriptions",
			Help:      "Number of open subscriptions per feed",
		},
		[]string{"feed"},
	)

	eventsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_total",
			Help:      "Events delivered to subscribers",
		},
		[]string{"feed", "kind"},
	)

	countRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "count_requests_total",
			Help:      "Count method calls, by cache result",
		},
		[]string{"feed", "cache"},
	)
)
