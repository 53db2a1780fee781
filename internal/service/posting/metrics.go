package posting

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	postedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "glcore",
			Subsystem: "posting",
			Name:      "entries_posted_total",
			Help:      "Journal entries committed, by source",
		},
		[]string{"source"},
	)
	reversedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "glcore",
			Subsystem: "posting",
			Name:      "entries_reversed_total",
			Help:      "Journal entries reversed",
		},
	)
)
