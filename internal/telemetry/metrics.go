// Package telemetry exposes prometheus metrics for the ask pipeline.
// They are served on /metrics by the HTTP transport.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AsksTotal counts ask invocations by terminal fetch status.
	AsksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "econoquery_asks_total",
		Help: "Ask pipeline invocations by terminal fetch status",
	}, []string{"fetch_status"})

	// FetchAttempts counts data API fetch attempts by outcome.
	FetchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "econoquery_fetch_attempts_total",
		Help: "Data API fetch attempts by outcome",
	}, []string{"outcome"})

	// Repairs counts parameter repair attempts.
	Repairs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "econoquery_param_repairs_total",
		Help: "Parameter sets re-synthesized after a rejection",
	})

	// AskDuration observes end-to-end ask latency.
	AskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "econoquery_ask_duration_seconds",
		Help:    "End-to-end ask pipeline duration",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	// RefreshTotal counts metadata refreshes by result.
	RefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "econoquery_metadata_refreshes_total",
		Help: "Metadata snapshot refreshes by result",
	}, []string{"result"})
)
