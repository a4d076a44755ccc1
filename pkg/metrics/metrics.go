package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "api_http_requests_total", Help: "HTTP requests"},
		[]string{"method", "path", "status"},
	)
	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	GatewayCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "gateway_calls_total", Help: "OA gateway calls by operation and result"},
		[]string{"op", "result"},
	)
	GatewayCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_call_duration_seconds",
			Help:    "OA gateway round trip",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	BroadcastOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "broadcast_outcomes_total", Help: "Per-recipient broadcast outcomes"},
		[]string{"status"},
	)
	BroadcastRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "broadcast_runs_total", Help: "Finished broadcast runs by final state"},
		[]string{"state"},
	)
	ReportsPublishedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "broadcast_reports_published_total", Help: "Run reports published to queue"},
	)

	ArchiverReportsConsumed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "archiver_reports_consumed_total", Help: "Reports consumed"},
	)
	ArchiverReportsArchived = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "archiver_reports_archived_total", Help: "Reports written to the archive"},
	)
	ArchiverReportsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "archiver_reports_failed_total", Help: "Reports that could not be archived"},
	)
	ArchiverProcessDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "archiver_report_process_duration_seconds",
			Help:    "Time spent archiving a report",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		APIRequestsTotal, APIRequestDuration,
		GatewayCallsTotal, GatewayCallDuration,
		BroadcastOutcomesTotal, BroadcastRunsTotal, ReportsPublishedTotal,
		ArchiverReportsConsumed, ArchiverReportsArchived, ArchiverReportsFailed, ArchiverProcessDuration,
	)
}

func Handler() http.Handler { return promhttp.Handler() }
