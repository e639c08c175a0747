package rest

import (
	"context"
	"net/http"
	"time"
)

// HealthStatus represents the health status
type HealthStatus string

const (
	HealthStatusPass HealthStatus = "pass"
	HealthStatusFail HealthStatus = "fail"
)

// HealthCheck probes one dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthResponse is the body of /healthz and /readyz.
type HealthResponse struct {
	Status HealthStatus            `json:"status"`
	Checks map[string]HealthResult `json:"checks,omitempty"`
}

// HealthResult is the outcome of one dependency probe.
type HealthResult struct {
	Status         HealthStatus `json:"status"`
	Error          string       `json:"error,omitempty"`
	ResponseTimeMs int64        `json:"response_time_ms"`
}

// HealthHandler serves liveness and readiness.
type HealthHandler struct {
	checks  []HealthCheck
	timeout time.Duration
}

// NewHealthHandler creates the probes. Each readiness check gets timeout.
func NewHealthHandler(timeout time.Duration, checks ...HealthCheck) *HealthHandler {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthHandler{checks: checks, timeout: timeout}
}

// Live always answers while the process serves HTTP.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: HealthStatusPass})
}

// Ready probes every dependency and fails if any probe fails.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: HealthStatusPass, Checks: make(map[string]HealthResult, len(h.checks))}

	for _, check := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		start := time.Now()
		err := check.Check(ctx)
		cancel()

		result := HealthResult{Status: HealthStatusPass, ResponseTimeMs: time.Since(start).Milliseconds()}
		if err != nil {
			result.Status = HealthStatusFail
			result.Error = err.Error()
			resp.Status = HealthStatusFail
		}
		resp.Checks[check.Name] = result
	}

	status := http.StatusOK
	if resp.Status == HealthStatusFail {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
