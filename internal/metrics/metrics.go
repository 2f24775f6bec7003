// Package metrics is the column store's only Prometheus touchpoint. It is
// a pure observability side channel: nothing in internal/appendtree or
// columnstore reads these values back, matching the design note that
// metrics are not part of the external contract.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	AppendsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "columnstore",
		Name:      "appends_total",
		Help:      "Appends processed per result code.",
	}, []string{"result"})

	FlushesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "columnstore",
		Name:      "flushes_total",
		Help:      "Appends that sealed at least one level.",
	})

	UncommittedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "columnstore",
		Name:      "uncommitted_bytes",
		Help:      "Sum of uncommitted_size() across all trees, sampled on UncommittedMemory().",
	})

	QueryBatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "columnstore",
		Name:      "query_batches_total",
		Help:      "Row-iterator batches read by the query driver.",
	})

	QuerySamplesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "columnstore",
		Name:      "query_samples_total",
		Help:      "Samples delivered to query consumers.",
	})

	QueryErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "columnstore",
		Name:      "query_errors_total",
		Help:      "Queries that ended in set_error, by code.",
	}, []string{"code"})
)

// MustRegister registers every metric above against reg. Called once from
// cmd/columnstored; package tests use a throwaway registry instead so
// repeated test runs don't collide on global registration.
func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		AppendsTotal,
		FlushesTotal,
		UncommittedBytes,
		QueryBatchesTotal,
		QuerySamplesTotal,
		QueryErrorsTotal,
	)
}
