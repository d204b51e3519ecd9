package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rejection reasons for datagrams that never reach a worker
const (
	RejectRateLimited = "rate_limited"
	RejectQueueFull   = "queue_full"
)

// Reload results
const (
	ReloadUnchanged = "unchanged"
	ReloadUpdated   = "updated"
	ReloadFailed    = "failed"
)

// Metrics contains all Prometheus metrics for the dictionary service
type Metrics struct {
	registry *prometheus.Registry

	// UDP receive metrics
	RequestsReceived prometheus.Counter
	RequestsRejected *prometheus.CounterVec
	ReceiveErrors    prometheus.Counter

	// Queue metrics
	QueueSize      prometheus.Gauge
	QueueEvictions prometheus.Counter
	QueueWait      prometheus.Histogram

	// Worker metrics
	RequestsProcessed  *prometheus.CounterVec
	ProcessingDuration prometheus.Histogram
	WorkerPanics       prometheus.Counter

	// Response metrics
	ResponsesSent prometheus.Counter
	SendErrors    prometheus.Counter

	// Dictionary metrics
	DictionaryEntries prometheus.Gauge
	DictionaryReloads *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them on reg.
// A fresh registry is created when reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// UDP receive metrics
		RequestsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "dict_requests_received_total",
			Help: "Total number of request datagrams received",
		}),
		RequestsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dict_requests_rejected_total",
			Help: "Total number of datagrams rejected before reaching a worker",
		}, []string{"reason"}),
		ReceiveErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "dict_receive_errors_total",
			Help: "Total number of UDP receive errors (timeouts excluded)",
		}),

		// Queue metrics
		QueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dict_queue_size",
			Help: "Current number of requests waiting in the hand-off queue",
		}),
		QueueEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "dict_queue_evictions_total",
			Help: "Total number of queued requests evicted to admit newer ones",
		}),
		QueueWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dict_queue_wait_seconds",
			Help:    "Time requests spent in the queue before a worker picked them up",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10), // 100µs to ~26s
		}),

		// Worker metrics
		RequestsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dict_requests_processed_total",
			Help: "Total number of requests processed by workers",
		}, []string{"status"}),
		ProcessingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dict_request_processing_seconds",
			Help:    "Time spent decoding, looking up and answering a request",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs to ~2.6s
		}),
		WorkerPanics: factory.NewCounter(prometheus.CounterOpts{
			Name: "dict_worker_panics_total",
			Help: "Total number of panics recovered while processing requests",
		}),

		// Response metrics
		ResponsesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "dict_responses_sent_total",
			Help: "Total number of response datagrams sent",
		}),
		SendErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "dict_send_errors_total",
			Help: "Total number of response datagrams that failed to send",
		}),

		// Dictionary metrics
		DictionaryEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dict_entries",
			Help: "Number of entries in the live dictionary snapshot",
		}),
		DictionaryReloads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dict_reloads_total",
			Help: "Total number of dictionary reload attempts by result",
		}, []string{"result"}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dict_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dict_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dict_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequestReceived increments the requests received counter
func (m *Metrics) RecordRequestReceived() {
	if m == nil {
		return
	}
	m.RequestsReceived.Inc()
}

// RecordRequestRejected increments the rejection counter for reason
func (m *Metrics) RecordRequestRejected(reason string) {
	if m == nil {
		return
	}
	m.RequestsRejected.WithLabelValues(reason).Inc()
}

// RecordReceiveError increments the receive errors counter
func (m *Metrics) RecordReceiveError() {
	if m == nil {
		return
	}
	m.ReceiveErrors.Inc()
}

// SetQueueSize sets the current queue size
func (m *Metrics) SetQueueSize(size int) {
	if m == nil {
		return
	}
	m.QueueSize.Set(float64(size))
}

// RecordQueueEviction increments the queue evictions counter
func (m *Metrics) RecordQueueEviction() {
	if m == nil {
		return
	}
	m.QueueEvictions.Inc()
}

// RecordQueueWait records how long a request waited in the queue
func (m *Metrics) RecordQueueWait(seconds float64) {
	if m == nil {
		return
	}
	m.QueueWait.Observe(seconds)
}

// RecordRequestProcessed records a processed request by response status
func (m *Metrics) RecordRequestProcessed(status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RequestsProcessed.WithLabelValues(status).Inc()
	m.ProcessingDuration.Observe(durationSeconds)
}

// RecordWorkerPanic increments the recovered panics counter
func (m *Metrics) RecordWorkerPanic() {
	if m == nil {
		return
	}
	m.WorkerPanics.Inc()
}

// RecordResponseSent increments the responses sent counter
func (m *Metrics) RecordResponseSent() {
	if m == nil {
		return
	}
	m.ResponsesSent.Inc()
}

// RecordSendError increments the send errors counter
func (m *Metrics) RecordSendError() {
	if m == nil {
		return
	}
	m.SendErrors.Inc()
}

// SetDictionaryEntries sets the live entry count
func (m *Metrics) SetDictionaryEntries(count int) {
	if m == nil {
		return
	}
	m.DictionaryEntries.Set(float64(count))
}

// RecordReload records a reload attempt by result
func (m *Metrics) RecordReload(result string) {
	if m == nil {
		return
	}
	m.DictionaryReloads.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
