package projection

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var projectedEvents = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "collab",
		Subsystem: "projector",
		Name:      "events_total",
		Help:      "Events applied to read models, by aggregate type and result.",
	},
	[]string{"aggregate", "result"},
)
