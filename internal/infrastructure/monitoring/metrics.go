package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsStarted prometheus.Counter
	SessionsClosed  *prometheus.CounterVec
	TokensCaptured  prometheus.Counter
	TokenTimeouts   prometheus.Counter

	// Browser metrics
	DriverCalls    *prometheus.CounterVec
	DriverDuration *prometheus.HistogramVec
	DispatchErrors *prometheus.CounterVec

	// Stream metrics
	FramesSent    prometheus.Counter
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// Webhook metrics
	WebhookDeliveries *prometheus.CounterVec

	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current metric values for the JSON API
type Snapshot struct {
	TotalRequests     int64   `json:"total_requests"`
	TotalErrors       int64   `json:"total_errors"`
	ActiveSessions    int64   `json:"active_sessions"`
	ActiveConnections int64   `json:"active_connections"`
	TokensCaptured    int64   `json:"tokens_captured"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// NewMetrics creates a collector on its own registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authstream_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authstream_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "authstream_sessions_active",
				Help: "Number of registered browser sessions",
			},
		),
		SessionsStarted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "authstream_sessions_started_total",
				Help: "Total number of browser sessions started",
			},
		),
		SessionsClosed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authstream_sessions_closed_total",
				Help: "Total number of browser sessions closed",
			},
			[]string{"reason"},
		),
		TokensCaptured: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "authstream_tokens_captured_total",
				Help: "Total number of bearer tokens captured",
			},
		),
		TokenTimeouts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "authstream_token_timeouts_total",
				Help: "Total number of sessions that gave up waiting for a token",
			},
		),

		DriverCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authstream_driver_calls_total",
				Help: "Total number of browser driver calls",
			},
			[]string{"op", "status"},
		),
		DriverDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authstream_driver_duration_seconds",
				Help:    "Browser driver call duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"op"},
		),
		DispatchErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authstream_dispatch_errors_total",
				Help: "Total number of input events the browser rejected",
			},
			[]string{"kind"},
		),

		FramesSent: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "authstream_frames_sent_total",
				Help: "Total number of frames pushed to clients",
			},
		),
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "authstream_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authstream_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),

		WebhookDeliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authstream_webhook_deliveries_total",
				Help: "Total number of token webhook deliveries",
			},
			[]string{"status"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "authstream_uptime_seconds",
			Help: "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the underlying Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status[0] == '4' || status[0] == '5' {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordDriverCall records one browser driver call
func (m *Metrics) RecordDriverCall(op, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DriverCalls.WithLabelValues(op, status).Inc()
	m.DriverDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordDispatchError records a rejected input event
func (m *Metrics) RecordDispatchError(kind string) {
	if m == nil {
		return
	}
	m.DispatchErrors.WithLabelValues(kind).Inc()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// RecordWebhook records a webhook delivery outcome
func (m *Metrics) RecordWebhook(status string) {
	if m == nil {
		return
	}
	m.WebhookDeliveries.WithLabelValues(status).Inc()
}

// SetSessionsActive sets the number of registered sessions
func (m *Metrics) SetSessionsActive(count int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActiveSessions = int64(count)
	m.mu.Unlock()
}

// IncSessionsStarted increments the sessions started counter
func (m *Metrics) IncSessionsStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

// IncSessionsClosed increments the sessions closed counter for reason
func (m *Metrics) IncSessionsClosed(reason string) {
	if m == nil {
		return
	}
	m.SessionsClosed.WithLabelValues(reason).Inc()
}

// IncTokensCaptured increments the captured token counter
func (m *Metrics) IncTokensCaptured() {
	if m == nil {
		return
	}
	m.TokensCaptured.Inc()
	m.mu.Lock()
	m.snapshot.TokensCaptured++
	m.mu.Unlock()
}

// IncTokenTimeouts increments the token timeout counter
func (m *Metrics) IncTokenTimeouts() {
	if m == nil {
		return
	}
	m.TokenTimeouts.Inc()
}

// IncFramesSent increments the frames counter
func (m *Metrics) IncFramesSent() {
	if m == nil {
		return
	}
	m.FramesSent.Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}

// Snapshot returns current values for JSON APIs
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.snapshot
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
