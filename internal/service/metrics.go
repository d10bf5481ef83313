package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	purchasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchases_total",
			Help: "Purchase attempts by outcome",
		},
		[]string{"outcome"}, // completed, declined, failed
	)

	purchaseDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "purchase_duration_seconds",
			Help:    "End-to-end purchase saga duration",
			Buckets: prometheus.DefBuckets,
		},
	)

	finalizeFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_finalize_failures_total",
			Help: "Purchases where the payment succeeded but finalization did not complete",
		},
	)
)
