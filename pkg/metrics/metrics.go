package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue metrics
	QueueLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coco_queue_length",
			Help: "Current number of entries waiting in the persistent queue",
		},
	)

	QueueEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coco_queue_enqueued_total",
			Help: "Total number of entries enqueued, by endpoint",
		},
		[]string{"endpoint"},
	)

	QueueDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coco_queue_dropped_total",
			Help: "Total number of entries rejected because the queue was full, by endpoint",
		},
		[]string{"endpoint"},
	)

	// Worker / endpoint metrics
	EndpointInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coco_endpoint_invocations_total",
			Help: "Total endpoint invocations by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	EndpointDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coco_endpoint_duration_seconds",
			Help:    "Endpoint execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// Forwarder metrics
	ForwardRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coco_forward_requests_total",
			Help: "Total forwarded HTTP requests by host and status class",
		},
		[]string{"host", "status"},
	)

	ForwardDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coco_forward_duration_seconds",
			Help:    "Per-host forward request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"host"},
	)

	// Check metrics
	CheckFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coco_check_failures_total",
			Help: "Total reply-check failures by endpoint and check kind",
		},
		[]string{"endpoint", "kind"},
	)

	// Frontend metrics
	FrontendRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coco_frontend_requests_total",
			Help: "Total frontend HTTP requests by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)

	FrontendRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coco_frontend_request_duration_seconds",
			Help:    "Frontend request duration in seconds, enqueue through rendezvous",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// Blocklist metrics
	BlocklistSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coco_blocklist_size",
			Help: "Current number of hosts on the blocklist",
		},
	)

	// State metrics
	StateWritesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coco_state_writes_total",
			Help: "Total successful state-store mutations",
		},
	)

	StateHashDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coco_state_hash_duration_seconds",
			Help:    "Time taken to hash a state subtree",
			Buckets: prometheus.DefBuckets,
		},
	)

	WorkerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coco_worker_queue_depth",
			Help: "Queue depth as observed by the worker immediately before each dequeue",
		},
	)
)

func init() {
	prometheus.MustRegister(QueueLength)
	prometheus.MustRegister(QueueEnqueuedTotal)
	prometheus.MustRegister(QueueDroppedTotal)
	prometheus.MustRegister(EndpointInvocationsTotal)
	prometheus.MustRegister(EndpointDuration)
	prometheus.MustRegister(ForwardRequestsTotal)
	prometheus.MustRegister(ForwardDuration)
	prometheus.MustRegister(CheckFailuresTotal)
	prometheus.MustRegister(FrontendRequestsTotal)
	prometheus.MustRegister(FrontendRequestDuration)
	prometheus.MustRegister(BlocklistSize)
	prometheus.MustRegister(StateWritesTotal)
	prometheus.MustRegister(StateHashDuration)
	prometheus.MustRegister(WorkerQueueDepth)
}

// InitDropCounter registers a zero-valued dropped-request series for
// endpoint so it appears in scrapes from boot, before any request is ever
// dropped (original_source primes its Redis counter with incr(..., 0) for
// the same reason).
func InitDropCounter(endpoint string) {
	QueueDroppedTotal.WithLabelValues(endpoint)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
