package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var indexDroppedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "ledger_expiry_index_dropped_total",
		Help: "Malformed expiry index members removed by the sweep",
	},
)
