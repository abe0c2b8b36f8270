package crawler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gamecrawler_pages_total",
		Help: "Pages processed by outcome",
	}, []string{"outcome"})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gamecrawler_fetch_duration_seconds",
		Help:    "Page fetch latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	discoveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gamecrawler_discovered_slugs_total",
		Help: "Related slugs accepted into the frontier",
	})
)

// Outcome labels for pagesTotal.
const (
	outcomeSaved        = "saved"
	outcomeBlocked      = "robots_blocked"
	outcomeFetchFailed  = "fetch_failed"
	outcomeMalformed    = "malformed_state"
	outcomeMissingOffer = "missing_offer"
	outcomePersistError = "persist_failed"
	outcomeCancelled    = "cancelled"
)
