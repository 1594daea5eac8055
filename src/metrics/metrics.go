// Package metrics collects Prometheus metrics for the gateway and the
// reference backend.
//
// Metrics are optional: constructors return no-op implementations when
// given a nil registerer, so components can always call them.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// call outcomes
const (
	OutcomeResolved = "resolved"
	OutcomeRejected = "rejected"
	OutcomeAborted  = "aborted"
)

// GatewayMetrics observes the client gateway.
type GatewayMetrics interface {
	CallStarted(operation string)
	CallCompleted(operation, outcome string)
	ReplyDropped(operation, reason string)
	ChunkReceived(bytes int)
}

// BackendMetrics observes the reference backend.
type BackendMetrics interface {
	RequestServed(operation, status string, took time.Duration)
	BytesServed(operation string, bytes int)
	PushSent(topic string)
}

type noopGateway struct{}

func (noopGateway) CallStarted(string)           {}
func (noopGateway) CallCompleted(string, string) {}
func (noopGateway) ReplyDropped(string, string)  {}
func (noopGateway) ChunkReceived(int)            {}

type noopBackend struct{}

func (noopBackend) RequestServed(string, string, time.Duration) {}
func (noopBackend) BytesServed(string, int)                     {}
func (noopBackend) PushSent(string)                             {}

func NewNoopGatewayMetrics() GatewayMetrics { return noopGateway{} }

func NewNoopBackendMetrics() BackendMetrics { return noopBackend{} }

type gatewayMetrics struct {
	calls     *prometheus.CounterVec
	completed *prometheus.CounterVec
	inFlight  *prometheus.GaugeVec
	dropped   *prometheus.CounterVec
	chunks    prometheus.Counter
	chunkSize prometheus.Histogram
}

// NewGatewayMetrics registers the gateway collectors on reg.
func NewGatewayMetrics(reg prometheus.Registerer) GatewayMetrics {
	if reg == nil {
		return NewNoopGatewayMetrics()
	}
	f := promauto.With(reg)
	return &gatewayMetrics{
		calls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "filemanager_calls_total",
			Help: "Calls issued by consumers, by operation",
		}, []string{"operation"}),
		completed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "filemanager_calls_completed_total",
			Help: "Completed calls by operation and outcome",
		}, []string{"operation", "outcome"}),
		inFlight: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "filemanager_calls_in_flight",
			Help: "Calls waiting for a reply",
		}, []string{"operation"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "filemanager_replies_dropped_total",
			Help: "Replies that matched no pending call",
		}, []string{"operation", "reason"}),
		chunks: f.NewCounter(prometheus.CounterOpts{
			Name: "filemanager_load_chunks_total",
			Help: "Load chunks accepted into a transfer",
		}),
		chunkSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "filemanager_load_chunk_bytes",
			Help:    "Size of accepted Load chunks",
			Buckets: []float64{1024, 8192, 32768, 65536, 102400},
		}),
	}
}

func (m *gatewayMetrics) CallStarted(operation string) {
	m.calls.WithLabelValues(operation).Inc()
	m.inFlight.WithLabelValues(operation).Inc()
}

func (m *gatewayMetrics) CallCompleted(operation, outcome string) {
	m.completed.WithLabelValues(operation, outcome).Inc()
	m.inFlight.WithLabelValues(operation).Dec()
}

func (m *gatewayMetrics) ReplyDropped(operation, reason string) {
	m.dropped.WithLabelValues(operation, reason).Inc()
}

func (m *gatewayMetrics) ChunkReceived(bytes int) {
	m.chunks.Inc()
	m.chunkSize.Observe(float64(bytes))
}

type backendMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	bytes    *prometheus.CounterVec
	pushes   *prometheus.CounterVec
}

// NewBackendMetrics registers the backend collectors on reg.
func NewBackendMetrics(reg prometheus.Registerer) BackendMetrics {
	if reg == nil {
		return NewNoopBackendMetrics()
	}
	f := promauto.With(reg)
	return &backendMetrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fileserver_requests_total",
			Help: "Requests served by operation and status",
		}, []string{"operation", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fileserver_request_duration_milliseconds",
			Help:    "Request handling time in milliseconds",
			Buckets: []float64{1, 10, 100, 1000},
		}, []string{"operation"}),
		bytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fileserver_bytes_total",
			Help: "File bytes read or written by operation",
		}, []string{"operation"}),
		pushes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fileserver_pushes_total",
			Help: "Push telegrams sent to subscribers",
		}, []string{"topic"}),
	}
}

func (m *backendMetrics) RequestServed(operation, status string, took time.Duration) {
	m.requests.WithLabelValues(operation, status).Inc()
	m.duration.WithLabelValues(operation).Observe(float64(took.Microseconds()) / 1000)
}

func (m *backendMetrics) BytesServed(operation string, bytes int) {
	m.bytes.WithLabelValues(operation).Add(float64(bytes))
}

func (m *backendMetrics) PushSent(topic string) {
	m.pushes.WithLabelValues(topic).Inc()
}
