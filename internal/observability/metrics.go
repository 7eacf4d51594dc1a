package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stealth-studios/sdk-framework-basic/internal/llm"
)

// Metrics holds all Prometheus metrics for the SDK.
// Uses a custom registry, no global state.
type Metrics struct {
	Registry *prometheus.Registry

	// Model provider metrics.
	ModelRequestsTotal   *prometheus.CounterVec
	ModelRequestDuration *prometheus.HistogramVec
	ModelTokensUsed      *prometheus.CounterVec

	// Conversation metrics.
	ActiveConversations prometheus.Gauge
	BusyRejectionsTotal prometheus.Counter
	SendsCancelledTotal prometheus.Counter
	ToolCallsTotal      prometheus.Counter

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	ActiveRequests      prometheus.Gauge
}

// NewMetrics creates a Metrics with all collectors registered on a custom
// prometheus.Registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		ModelRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sdk",
			Subsystem: "model",
			Name:      "requests_total",
			Help:      "Total model API requests.",
		}, []string{"provider", "stop_reason"}),

		ModelRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sdk",
			Subsystem: "model",
			Name:      "request_duration_seconds",
			Help:      "Model API request duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider"}),

		ModelTokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sdk",
			Subsystem: "model",
			Name:      "tokens_used_total",
			Help:      "Total model tokens consumed.",
		}, []string{"provider", "direction"}),

		ActiveConversations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sdk",
			Subsystem: "chat",
			Name:      "active_conversations",
			Help:      "Number of live conversations.",
		}),

		BusyRejectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sdk",
			Subsystem: "chat",
			Name:      "busy_rejections_total",
			Help:      "Sends rejected because the conversation was busy or finished.",
		}),

		SendsCancelledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sdk",
			Subsystem: "chat",
			Name:      "sends_cancelled_total",
			Help:      "Sends converted to a cancellation result by an internal failure.",
		}),

		ToolCallsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sdk",
			Subsystem: "chat",
			Name:      "tool_calls_total",
			Help:      "Normalized tool calls returned to callers.",
		}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sdk",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sdk",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sdk",
			Name:      "active_requests",
			Help:      "Number of currently active HTTP requests.",
		}),
	}

	reg.MustRegister(
		m.ModelRequestsTotal,
		m.ModelRequestDuration,
		m.ModelTokensUsed,
		m.ActiveConversations,
		m.BusyRejectionsTotal,
		m.SendsCancelledTotal,
		m.ToolCallsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)

	return m
}

// ModelRequest records one model API round trip.
func (m *Metrics) ModelRequest(provider, stopReason string, duration time.Duration, usage llm.Usage) {
	m.ModelRequestsTotal.WithLabelValues(provider, stopReason).Inc()
	m.ModelRequestDuration.WithLabelValues(provider).Observe(duration.Seconds())
	m.ModelTokensUsed.WithLabelValues(provider, "input").Add(float64(usage.InputTokens))
	m.ModelTokensUsed.WithLabelValues(provider, "output").Add(float64(usage.OutputTokens))
}

// ConversationOpened increments the live conversation gauge.
func (m *Metrics) ConversationOpened() { m.ActiveConversations.Inc() }

// ConversationClosed decrements the live conversation gauge.
func (m *Metrics) ConversationClosed() { m.ActiveConversations.Dec() }

// BusyRejected records a send rejected by the busy lock.
func (m *Metrics) BusyRejected() { m.BusyRejectionsTotal.Inc() }

// SendCancelled records a send converted to a cancellation result.
func (m *Metrics) SendCancelled() { m.SendsCancelledTotal.Inc() }

// ToolCalls records normalized tool calls returned to the caller.
func (m *Metrics) ToolCalls(n int) { m.ToolCallsTotal.Add(float64(n)) }
