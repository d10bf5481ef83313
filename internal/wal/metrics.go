package wal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	entriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wal_entries_total",
			Help: "Total WAL entries written, by operation and status",
		},
		[]string{"operation", "status"},
	)

	appendFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wal_append_failures_total",
			Help: "Total WAL append failures (durability errors)",
		},
	)

	lsnFallbackTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wal_lsn_fallback_total",
			Help: "Total LSN allocations served by the wall-clock fallback",
		},
	)

	compressedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wal_compressed_payloads_total",
			Help: "Total WAL payloads compressed by the async processor",
		},
	)

	processorDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wal_processor_dropped_total",
			Help: "Total entries dropped because the async processor queue was full",
		},
	)

	recoveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wal_recovered_entries_total",
			Help: "Total stuck WAL entries resolved by the recovery sweep, by outcome",
		},
		[]string{"outcome"},
	)

	archivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wal_archived_entries_total",
			Help: "Total WAL entries moved to the archive table",
		},
	)
)
