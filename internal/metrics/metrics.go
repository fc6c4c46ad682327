// Registers:
//
//	#LincsQuery_query_success_total
//	#LincsQuery_query_errors_total
//	#LincsQuery_query_retries_total
//	#LincsQuery_rows_fetched_total
//	#LincsQuery_exports_total
//	#LincsQuery_query_duration_seconds
//	#go_* and process_* system metrics
//
// The dashboard mounts Handler() on /metrics.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once          sync.Once
	querySuccess  *prometheus.CounterVec
	queryErrors   *prometheus.CounterVec
	queryRetries  *prometheus.CounterVec
	rowsFetched   *prometheus.CounterVec
	exportsTotal  *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
)

func Init() {
	once.Do(func() {
		querySuccess = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "LincsQuery_query_success_total",
				Help: "Number of successful perturbagen queries",
			},
			[]string{"direction"},
		)

		queryErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "LincsQuery_query_errors_total",
				Help: "Number of failed perturbagen queries by error kind",
			},
			[]string{"direction", "kind"},
		)

		queryRetries = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "LincsQuery_query_retries_total",
				Help: "Number of retry waits before repeated upstream attempts",
			},
			[]string{"direction"},
		)

		rowsFetched = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "LincsQuery_rows_fetched_total",
				Help: "Number of perturbagen rows returned by the upstream API",
			},
			[]string{"direction"},
		)

		exportsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "LincsQuery_exports_total",
				Help: "Number of export artifacts produced",
			},
			[]string{"format"},
		)

		queryDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "LincsQuery_query_duration_seconds",
				Help:    "End-to-end duration of perturbagen queries including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"direction"},
		)

		_ = prometheus.Register(querySuccess)
		_ = prometheus.Register(queryErrors)
		_ = prometheus.Register(queryRetries)
		_ = prometheus.Register(rowsFetched)
		_ = prometheus.Register(exportsTotal)
		_ = prometheus.Register(queryDuration)
		_ = prometheus.Register(collectors.NewGoCollector())
		_ = prometheus.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncrementQuerySuccess increases the success counter for a direction.
func IncrementQuerySuccess(direction string) {
	if querySuccess != nil {
		querySuccess.WithLabelValues(direction).Inc()
	}
}

// IncrementQueryError increases the error counter for a direction and kind.
func IncrementQueryError(direction, kind string) {
	if queryErrors != nil {
		queryErrors.WithLabelValues(direction, kind).Inc()
	}
}

// IncrementRetry increases the retry counter for a direction.
func IncrementRetry(direction string) {
	if queryRetries != nil {
		queryRetries.WithLabelValues(direction).Inc()
	}
}

// AddRowsFetched adds to the fetched row counter for a direction.
func AddRowsFetched(direction string, rows int) {
	if rowsFetched != nil && rows > 0 {
		rowsFetched.WithLabelValues(direction).Add(float64(rows))
	}
}

// IncrementExport increases the export counter for a format.
func IncrementExport(format string) {
	if exportsTotal != nil {
		exportsTotal.WithLabelValues(format).Inc()
	}
}

// ObserveQueryDuration records a completed query duration in seconds.
func ObserveQueryDuration(direction string, seconds float64) {
	if queryDuration != nil {
		queryDuration.WithLabelValues(direction).Observe(seconds)
	}
}
