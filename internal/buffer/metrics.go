package buffer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "write_buffer_queue_depth",
			Help: "Current depth of the write buffer queues",
		},
		[]string{"queue"},
	)

	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "write_buffer_commands_total",
			Help: "Write buffer command outcomes",
		},
		[]string{"outcome"}, // processed, failed, rejected, evicted, dead_letter
	)
)
