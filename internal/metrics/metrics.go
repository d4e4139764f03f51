// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ReconcileEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nxledger_reconcile_entries_total",
		Help: "Cart entries processed by reconciliation, by outcome",
	}, []string{"outcome"})

	ChainConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nxledger_chain_conflicts_total",
		Help: "Compare-and-set closes that lost to a concurrent writer",
	}, []string{"entity"})

	ConsistencyRepairs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nxledger_consistency_repairs_total",
		Help: "Chain inconsistencies detected or repaired, by kind",
	}, []string{"kind"})

	HistoryQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nxledger_history_query_duration_seconds",
		Help:    "Duration of temporal reconstruction queries",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"query_type"})

	LockWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nxledger_lock_wait_seconds",
		Help:    "Time spent waiting for container locks",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 5},
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nxledger_http_requests_total",
		Help: "HTTP requests by method and status code",
	}, []string{"method", "code"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nxledger_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
