// Package metrics exposes Prometheus instrumentation for recognition runs
// and the HTTP server.
package metrics

import (
	"time"

	"github.com/MeKo-Tech/naocr/internal/recog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector. It implements recog.Observer.
type Metrics struct {
	recognitionsStarted  *prometheus.CounterVec
	recognitionsFinished *prometheus.CounterVec
	recognitionDuration  *prometheus.HistogramVec
	pagesRecognized      *prometheus.CounterVec
	pageTextLength       *prometheus.HistogramVec

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	UploadSizeBytes     prometheus.Histogram
	WebsocketConns      prometheus.Gauge
	WebsocketMessages   *prometheus.CounterVec
	RateLimitHits       *prometheus.CounterVec
}

// New registers the collectors with reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		recognitionsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "naocr_recognitions_started_total",
			Help: "Total number of recognitions that passed their preconditions",
		}, []string{"kind"}),
		recognitionsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "naocr_recognitions_finished_total",
			Help: "Total number of finished recognitions by outcome",
		}, []string{"kind", "status"}),
		recognitionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "naocr_recognition_duration_seconds",
			Help:    "Recognition duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 25, 50, 100},
		}, []string{"kind"}),
		pagesRecognized: f.NewCounterVec(prometheus.CounterOpts{
			Name: "naocr_pages_recognized_total",
			Help: "Total number of recognized pages",
		}, []string{"kind"}),
		pageTextLength: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "naocr_page_text_length",
			Help:    "Length of recognized text per page",
			Buckets: []float64{0, 10, 50, 100, 500, 1000, 5000, 10000, 50000},
		}, []string{"kind"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "naocr_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "naocr_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		UploadSizeBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "naocr_upload_size_bytes",
			Help:    "Size of uploaded page images in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024, 50 * 1024 * 1024},
		}),
		WebsocketConns: f.NewGauge(prometheus.GaugeOpts{
			Name: "naocr_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		}),
		WebsocketMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "naocr_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		}, []string{"direction"}),
		RateLimitHits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "naocr_rate_limit_hits_total",
			Help: "Total number of requests refused by the rate limiter",
		}, []string{"type"}),
	}
}

func (m *Metrics) RecognitionStarted(kind recog.Kind) {
	m.recognitionsStarted.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) PageRecognized(kind recog.Kind, textLen int) {
	m.pagesRecognized.WithLabelValues(string(kind)).Inc()
	m.pageTextLength.WithLabelValues(string(kind)).Observe(float64(textLen))
}

func (m *Metrics) RecognitionFinished(kind recog.Kind, status recog.Status, elapsed time.Duration) {
	m.recognitionsFinished.WithLabelValues(string(kind), string(status)).Inc()
	if status != recog.StatusRejected {
		m.recognitionDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
	}
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, status string, d time.Duration) {
	m.HTTPRequests.WithLabelValues(method, endpoint, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(d.Seconds())
}
