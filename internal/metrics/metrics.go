// Package metrics holds the application's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	uploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meloofy",
			Subsystem: "pipeline",
			Name:      "uploads_total",
			Help:      "Total upload pipeline invocations.",
		},
		[]string{"status"}, // ok | failed
	)

	uploadFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meloofy",
			Subsystem: "pipeline",
			Name:      "upload_failures_total",
			Help:      "Upload failures by pipeline stage.",
		},
		[]string{"stage"}, // read | storage | metadata
	)

	uploadBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "meloofy",
			Subsystem: "pipeline",
			Name:      "upload_bytes_total",
			Help:      "Total bytes pushed to object storage.",
		},
	)

	uploadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "meloofy",
			Subsystem: "pipeline",
			Name:      "upload_duration_seconds",
			Help:      "End-to-end duration of upload pipeline invocations.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
	)

	playbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meloofy",
			Subsystem: "player",
			Name:      "playbacks_total",
			Help:      "Total playback attempts.",
		},
		[]string{"status"}, // ok | unavailable
	)

	janitorRemoved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "meloofy",
			Subsystem: "janitor",
			Name:      "orphans_removed_total",
			Help:      "Orphaned storage objects removed by the janitor.",
		},
	)
)

func init() {
	Registry.MustRegister(
		uploads,
		uploadFailures,
		uploadBytes,
		uploadDuration,
		playbacks,
		janitorRemoved,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordUpload records one pipeline run.
func RecordUpload(ok bool, bytes int64, duration time.Duration) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	uploads.WithLabelValues(status).Inc()
	if ok {
		uploadBytes.Add(float64(bytes))
	}
	uploadDuration.Observe(duration.Seconds())
}

// RecordUploadFailure attributes a failure to a pipeline stage.
func RecordUploadFailure(stage string) {
	uploadFailures.WithLabelValues(stage).Inc()
}

// RecordPlayback records one playback attempt.
func RecordPlayback(ok bool) {
	status := "ok"
	if !ok {
		status = "unavailable"
	}
	playbacks.WithLabelValues(status).Inc()
}

// RecordOrphansRemoved counts storage objects deleted by the janitor.
func RecordOrphansRemoved(n int) {
	janitorRemoved.Add(float64(n))
}
