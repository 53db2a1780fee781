package importer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	importsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "glcore",
			Subsystem: "importer",
			Name:      "imports_total",
			Help:      "Statement imports completed, by format",
		},
		[]string{"format"},
	)
	transactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "glcore",
			Subsystem: "importer",
			Name:      "transactions_total",
			Help:      "Parsed statement lines, by outcome",
		},
		[]string{"outcome"},
	)
)

func observeImport(res Result) {
	importsTotal.WithLabelValues(res.Format).Inc()
	transactionsTotal.WithLabelValues("imported").Add(float64(res.Imported))
	transactionsTotal.WithLabelValues("duplicate").Add(float64(res.Duplicates))
}
