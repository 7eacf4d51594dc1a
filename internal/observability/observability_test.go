package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/stealth-studios/sdk-framework-basic/internal/config"
	"github.com/stealth-studios/sdk-framework-basic/internal/llm"
)

// --- No-op path ---

func TestNew_NilConfig(t *testing.T) {
	obs, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New(nil) error: %v", err)
	}
	if obs != nil {
		t.Fatal("expected nil Observability for nil config")
	}
}

func TestNew_AllDisabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs == nil {
		t.Fatal("expected non-nil Observability")
	}
	if obs.Metrics != nil {
		t.Error("metrics should be nil when not enabled")
	}
	if obs.Tracer != nil {
		t.Error("tracer should be nil when not enabled")
	}
	if obs.Health == nil {
		t.Error("health checker should always be created")
	}
}

func TestObservability_ShutdownNil(t *testing.T) {
	// Should not panic.
	var obs *Observability
	obs.Shutdown(context.Background())
}

func TestTracerOrNil_Nil(t *testing.T) {
	var obs *Observability
	if obs.TracerOrNil() != nil {
		t.Error("expected nil tracer from nil Observability")
	}
}

// --- Metrics ---

func TestMetrics_Created(t *testing.T) {
	m := NewMetrics()
	if m == nil {
		t.Fatal("expected non-nil Metrics")
	}
	if m.Registry == nil {
		t.Fatal("expected non-nil Registry")
	}

	// Vectors only appear in Gather after first use.
	m.ModelRequestsTotal.WithLabelValues("test", "end_turn").Inc()
	m.HTTPRequestsTotal.WithLabelValues("GET", "/test", "200").Inc()
	m.BusyRejectionsTotal.Inc()
	m.ToolCallsTotal.Add(2)

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, expected := range []string{
		"sdk_model_requests_total",
		"sdk_http_requests_total",
		"sdk_chat_busy_rejections_total",
		"sdk_chat_tool_calls_total",
	} {
		if !names[expected] {
			t.Errorf("metric %q not found in registry", expected)
		}
	}
}

func TestMetrics_ModelRequest(t *testing.T) {
	m := NewMetrics()

	m.ModelRequest("anthropic", "end_turn", 250*time.Millisecond, llm.Usage{InputTokens: 10, OutputTokens: 20})
	m.ModelRequest("anthropic", "end_turn", 100*time.Millisecond, llm.Usage{InputTokens: 5, OutputTokens: 5})
	m.ModelRequest("anthropic", "error", time.Second, llm.Usage{})

	if got := counterValue(t, m.Registry, "sdk_model_requests_total", prometheus.Labels{"provider": "anthropic", "stop_reason": "end_turn"}); got != 2 {
		t.Errorf("end_turn count = %v, want 2", got)
	}
	if got := counterValue(t, m.Registry, "sdk_model_requests_total", prometheus.Labels{"provider": "anthropic", "stop_reason": "error"}); got != 1 {
		t.Errorf("error count = %v, want 1", got)
	}
	if got := counterValue(t, m.Registry, "sdk_model_tokens_used_total", prometheus.Labels{"provider": "anthropic", "direction": "input"}); got != 15 {
		t.Errorf("input tokens = %v, want 15", got)
	}
	if got := counterValue(t, m.Registry, "sdk_model_tokens_used_total", prometheus.Labels{"provider": "anthropic", "direction": "output"}); got != 25 {
		t.Errorf("output tokens = %v, want 25", got)
	}
}

func TestMetrics_ConversationGauge(t *testing.T) {
	m := NewMetrics()

	m.ConversationOpened()
	m.ConversationOpened()
	m.ConversationClosed()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	for _, f := range families {
		if f.GetName() == "sdk_chat_active_conversations" {
			if got := f.GetMetric()[0].GetGauge().GetValue(); got != 1 {
				t.Errorf("active conversations = %v, want 1", got)
			}
			return
		}
	}
	t.Fatal("sdk_chat_active_conversations not found")
}

func labelMap(pairs []*dto.LabelPair) map[string]string {
	m := make(map[string]string)
	for _, p := range pairs {
		m[p.GetName()] = p.GetValue()
	}
	return m
}

// --- HealthChecker ---

func TestHealthChecker_NoChecks(t *testing.T) {
	h := NewHealthChecker(nil)
	status := h.CheckReady(context.Background())
	if status.Status != "ok" {
		t.Errorf("status = %q, want ok", status.Status)
	}
}

func TestHealthChecker_AllPass(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("store", func(ctx context.Context) error { return nil })
	h.AddCheck("provider", func(ctx context.Context) error { return nil })

	status := h.CheckReady(context.Background())
	if status.Status != "ok" {
		t.Errorf("status = %q, want ok", status.Status)
	}
	if status.Checks["store"].Status != "ok" {
		t.Errorf("store check = %q, want ok", status.Checks["store"].Status)
	}
}

func TestHealthChecker_OneFails(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("store", func(ctx context.Context) error { return errors.New("connection refused") })
	h.AddCheck("provider", func(ctx context.Context) error { return nil })

	status := h.CheckReady(context.Background())
	if status.Status != "degraded" {
		t.Errorf("status = %q, want degraded", status.Status)
	}
	if status.Checks["store"].Status != "fail" {
		t.Errorf("store check = %q, want fail", status.Checks["store"].Status)
	}
	if status.Checks["provider"].Status != "ok" {
		t.Errorf("provider check = %q, want ok", status.Checks["provider"].Status)
	}
}

func TestHealthChecker_OneFailsReportsError(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("store", func(ctx context.Context) error { return errors.New("connection refused") })

	status := h.CheckReady(context.Background())
	if status.Checks["store"].Error != "connection refused" {
		t.Errorf("store error = %q, want connection refused", status.Checks["store"].Error)
	}
}

func TestHealthChecker_ProbeDeadline(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("store", func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("probe context has no deadline")
		}
		return nil
	})

	status := h.CheckReady(context.Background())
	if status.Status != "ok" {
		t.Errorf("status = %q, want ok", status.Status)
	}
}

func TestHealthChecker_ReplaceByName(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("store", func(ctx context.Context) error { return errors.New("down") })
	h.AddCheck("store", func(ctx context.Context) error { return nil })

	status := h.CheckReady(context.Background())
	if status.Status != "ok" {
		t.Errorf("status = %q, want ok", status.Status)
	}
	if len(status.Checks) != 1 {
		t.Errorf("checks = %d, want 1", len(status.Checks))
	}
}

func TestHealthChecker_Liveness(t *testing.T) {
	h := NewHealthChecker(nil)
	status := h.CheckHealth()
	if status.Status != "ok" {
		t.Errorf("liveness status = %q, want ok", status.Status)
	}
}

// --- Helpers ---

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels prometheus.Labels) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			lm := labelMap(metric.GetLabel())
			match := true
			for k, v := range labels {
				if lm[k] != v {
					match = false
					break
				}
			}
			if match {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}
