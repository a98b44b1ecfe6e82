package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "boxsync_active_sessions",
			Help: "Number of logged in sessions",
		},
	)

	openHandles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "boxsync_open_files",
			Help: "Number of files currently opened by clients",
		},
	)

	busyRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boxsync_busy_rejections_total",
			Help: "Total opens for writing rejected because another session was writing the file",
		},
	)

	bytesReadTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boxsync_bytes_read_total",
			Help: "Total bytes sent to clients",
		},
	)

	bytesWrittenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boxsync_bytes_written_total",
			Help: "Total bytes received from clients",
		},
	)

	rpcRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxsync_rpc_requests_total",
			Help: "Total number of RPC requests",
		},
		[]string{"method", "status"},
	)

	rpcRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "boxsync_rpc_request_duration_seconds",
			Help:    "RPC request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

// metricsHandler returns the Prometheus metrics HTTP handler.
func metricsHandler() http.Handler {
	return promhttp.Handler()
}

func setActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

func setOpenHandles(n int) {
	openHandles.Set(float64(n))
}

func recordBusyRejection() {
	busyRejectionsTotal.Inc()
}

func recordBytesRead(n int) {
	bytesReadTotal.Add(float64(n))
}

func recordBytesWritten(n int) {
	bytesWrittenTotal.Add(float64(n))
}
