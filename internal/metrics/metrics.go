// Package metrics exposes Prometheus collectors for the sync engine.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	probesTotal          *prometheus.CounterVec
	documentsFoundTotal  prometheus.Counter
	downloadsTotal       *prometheus.CounterVec
	downloadBytesTotal   prometheus.Counter
	retriesTotal         prometheus.Counter
	manifestFlushesTotal prometheus.Counter
	probeDuration        prometheus.Histogram

	once sync.Once
)

// Init registers the collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		probesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "register_probes_total",
				Help: "Candidate URL existence checks, labeled by outcome (hit/miss).",
			},
			[]string{"outcome"},
		)
		documentsFoundTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "register_documents_found_total",
				Help: "Documents confirmed to exist during discovery.",
			},
		)
		downloadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "register_downloads_total",
				Help: "Document download attempts, labeled by final status.",
			},
			[]string{"status"},
		)
		downloadBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "register_download_bytes_total",
				Help: "Total bytes of documents written to storage.",
			},
		)
		retriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "register_request_retries_total",
				Help: "HTTP requests retried after a transient failure.",
			},
		)
		manifestFlushesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "register_manifest_flushes_total",
				Help: "Manifest upsert batches written to storage.",
			},
		)
		probeDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "register_probe_duration_seconds",
				Help:    "Latency of individual existence checks.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		)
	})
}

// RecordProbe counts one existence check and its latency.
func RecordProbe(hit bool, d time.Duration) {
	if probesTotal == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	probesTotal.WithLabelValues(outcome).Inc()
	probeDuration.Observe(d.Seconds())
}

// RecordDocumentFound counts one confirmed discovery.
func RecordDocumentFound() {
	if documentsFoundTotal != nil {
		documentsFoundTotal.Inc()
	}
}

// RecordDownload counts one finished download attempt by manifest status.
func RecordDownload(status string, bytes int) {
	if downloadsTotal == nil {
		return
	}
	downloadsTotal.WithLabelValues(status).Inc()
	downloadBytesTotal.Add(float64(bytes))
}

// RecordRetry counts one retried request.
func RecordRetry() {
	if retriesTotal != nil {
		retriesTotal.Inc()
	}
}

// RecordManifestFlush counts one manifest batch write.
func RecordManifestFlush() {
	if manifestFlushesTotal != nil {
		manifestFlushesTotal.Inc()
	}
}

// Serve exposes /metrics on addr until the server fails. Intended to run
// in a goroutine for the duration of a sync run.
func Serve(addr string, logger *zap.Logger) {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	logger.Info("metrics server listening", zap.String("addr", addr))
	server := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn("metrics server stopped", zap.Error(err))
	}
}
