package aggregate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	integrityBalanced = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "glcore",
			Subsystem: "integrity",
			Name:      "balanced",
			Help:      "1 when global debits equal credits in every currency",
		},
	)
	integrityDriftAccounts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "glcore",
			Subsystem: "integrity",
			Name:      "balance_drift_accounts",
			Help:      "Accounts where live and materialized balances disagree",
		},
	)
	integritySequenceGaps = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "glcore",
			Subsystem: "integrity",
			Name:      "sequence_gaps",
			Help:      "Entry numbers missing without a void record",
		},
	)
)

func observeIntegrity(r IntegrityReport) {
	if r.Balanced {
		integrityBalanced.Set(1)
	} else {
		integrityBalanced.Set(0)
	}
	integrityDriftAccounts.Set(float64(len(r.Drift)))
	integritySequenceGaps.Set(float64(len(r.SequenceGaps)))
}
