package migrate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	appliedVersion = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "collab",
			Subsystem: "migrate",
			Name:      "applied_version",
			Help:      "Schema version after the last migration step",
		},
	)

	migrationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "collab",
			Subsystem: "migrate",
			Name:      "failures_total",
			Help:      "Failed migration steps by direction",
		},
		[]string{"direction"},
	)
)
