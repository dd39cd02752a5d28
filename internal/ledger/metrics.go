package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	readingsRecordedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "consumo_readings_recorded_total",
			Help: "Total number of readings stored by the ledger.",
		},
	)
	ledgerConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "consumo_ledger_conflicts_total",
			Help: "Total number of readings rejected because their id was already taken.",
		},
	)
	ledgerErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consumo_ledger_errors_total",
			Help: "Total number of ledger failures by stage.",
		},
		[]string{"stage"},
	)
)
