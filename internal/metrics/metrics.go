// Package metrics exposes Prometheus collectors for the exporter service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tasksTotal          *prometheus.CounterVec
	tasksRunning        prometheus.Gauge
	eventsAppendedTotal *prometheus.CounterVec
	streamSubscribers   prometheus.Gauge
	taskDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call multiple
// times.
func Init() {
	once.Do(func() {
		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kumocrawler_tasks_total",
				Help: "Total number of finished tasks, labeled by kind and terminal status.",
			},
			[]string{"kind", "status"},
		)

		tasksRunning = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "kumocrawler_tasks_running",
				Help: "Number of tasks currently running a browser session.",
			},
		)

		eventsAppendedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kumocrawler_events_appended_total",
				Help: "Total number of progress events appended to task streams, labeled by type.",
			},
			[]string{"type"},
		)

		streamSubscribers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "kumocrawler_stream_subscribers",
				Help: "Number of currently attached SSE consumers.",
			},
		)

		taskDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kumocrawler_task_duration_seconds",
				Help:    "Wall time of finished tasks, labeled by kind.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"kind"},
		)
	})
}

// Handler returns the HTTP handler that serves the metrics endpoint.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// TaskStarted records a task entering the running state.
func TaskStarted() {
	Init()
	tasksRunning.Inc()
}

// TaskFinished records a task reaching its terminal state.
func TaskFinished(kind, status string, dur time.Duration) {
	Init()
	tasksRunning.Dec()
	tasksTotal.WithLabelValues(kind, status).Inc()
	taskDurationSeconds.WithLabelValues(kind).Observe(dur.Seconds())
}

// EventAppended counts a progress event written to a task stream.
func EventAppended(eventType string) {
	Init()
	eventsAppendedTotal.WithLabelValues(eventType).Inc()
}

// SubscriberAttached counts an SSE consumer connecting.
func SubscriberAttached() {
	Init()
	streamSubscribers.Inc()
}

// SubscriberDetached counts an SSE consumer disconnecting.
func SubscriberDetached() {
	Init()
	streamSubscribers.Dec()
}
