package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Readiness statuses. One failing probe degrades the whole report.
const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusFail     = "fail"
)

// Each probe gets its own deadline so one stalled dependency cannot eat
// the whole readiness budget.
const probeTimeout = 2 * time.Second

// ProbeFunc checks one engine dependency. The conversation store's Ping is
// the usual probe; additional subsystems register their own.
type ProbeFunc func(ctx context.Context) error

// HealthChecker answers the liveness and readiness endpoints. Liveness is
// unconditional; readiness runs every registered probe.
type HealthChecker struct {
	logger *slog.Logger

	mu     sync.Mutex
	order  []string
	probes map[string]ProbeFunc
}

// HealthStatus is the body served on the health endpoints.
type HealthStatus struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is one probe outcome.
type CheckResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// NewHealthChecker creates a checker with no probes registered.
func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{
		logger: logger,
		probes: make(map[string]ProbeFunc),
	}
}

// AddCheck registers a probe under a name. Registering the same name again
// replaces the earlier probe.
func (h *HealthChecker) AddCheck(name string, probe ProbeFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.probes[name]; !exists {
		h.order = append(h.order, name)
	}
	h.probes[name] = probe
}

// CheckHealth reports liveness. The process answering is the whole check.
func (h *HealthChecker) CheckHealth() HealthStatus {
	return HealthStatus{Status: statusOK}
}

// CheckReady runs every registered probe, in registration order, and
// aggregates the results. No probes means ready.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	h.mu.Lock()
	names := make([]string, len(h.order))
	copy(names, h.order)
	probes := make(map[string]ProbeFunc, len(h.probes))
	for n, p := range h.probes {
		probes[n] = p
	}
	h.mu.Unlock()

	status := HealthStatus{Status: statusOK}
	if len(names) == 0 {
		return status
	}

	status.Checks = make(map[string]CheckResult, len(names))
	for _, name := range names {
		if err := h.runProbe(ctx, probes[name]); err != nil {
			status.Status = statusDegraded
			status.Checks[name] = CheckResult{Status: statusFail, Error: err.Error()}
			if h.logger != nil {
				h.logger.Warn("readiness probe failed",
					slog.String("probe", name),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		status.Checks[name] = CheckResult{Status: statusOK}
	}

	return status
}

func (h *HealthChecker) runProbe(ctx context.Context, probe ProbeFunc) error {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return probe(probeCtx)
}
