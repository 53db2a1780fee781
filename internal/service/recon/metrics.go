package recon

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/minerva-erp/glcore/internal/ledger"
)

var (
	runsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "glcore",
			Subsystem: "recon",
			Name:      "runs_total",
			Help:      "Reconciliation runs completed",
		},
	)
	itemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "glcore",
			Subsystem: "recon",
			Name:      "items_total",
			Help:      "Reconciliation items produced, by status",
		},
		[]string{"status"},
	)
	lastMismatches = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "glcore",
			Subsystem: "recon",
			Name:      "last_dimension_mismatches",
			Help:      "Matched items with unexpected dimension tags in the last run",
		},
	)
)

func observeRun(rec ledger.BankReconciliation) {
	runsTotal.Inc()
	mismatches := 0
	for _, it := range rec.Items {
		itemsTotal.WithLabelValues(string(it.Status)).Inc()
		if it.DimensionMismatch && it.IsMatched() {
			mismatches++
		}
	}
	lastMismatches.Set(float64(mismatches))
}
