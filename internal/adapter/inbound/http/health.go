package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"

	"github.com/tollgate-labs/tollgate/internal/adapter/outbound/memory"
)

// HealthResponse is the JSON response from the /healthz endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`            // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`            // Component check results
	Version string            `json:"version,omitempty"` // Optional version info
}

// NodeStatus reports the connection and authentication state.
type NodeStatus interface {
	IsConnected() bool
	IsAuthenticated() bool
}

// PendingGauge reports in-flight node requests against a capacity.
type PendingGauge struct {
	Depth    func() int
	Capacity int
}

// HealthChecker verifies component health.
type HealthChecker struct {
	node         NodeStatus
	sessionStore *memory.SnapshotStore
	pending      *PendingGauge
	version      string
}

// NewHealthChecker creates a HealthChecker with optional components.
// Pass nil for components that aren't available.
func NewHealthChecker(
	node NodeStatus,
	sessionStore *memory.SnapshotStore,
	pending *PendingGauge,
	version string,
) *HealthChecker {
	return &HealthChecker{
		node:         node,
		sessionStore: sessionStore,
		pending:      pending,
		version:      version,
	}
}

// Check performs health checks on all components.
func (h *HealthChecker) Check() HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.node != nil {
		switch {
		case !h.node.IsConnected():
			checks["clearnode"] = "disconnected"
			healthy = false
		case !h.node.IsAuthenticated():
			checks["clearnode"] = "connected, not authenticated"
			healthy = false
		default:
			checks["clearnode"] = "ok"
		}
	} else {
		checks["clearnode"] = "not configured"
	}

	if h.sessionStore != nil {
		// Size() acquires lock - if this hangs, we have a problem
		checks["session_store"] = fmt.Sprintf("ok: %d snapshots", h.sessionStore.Size())
	} else {
		checks["session_store"] = "not configured"
	}

	if h.pending != nil && h.pending.Depth != nil {
		depth := h.pending.Depth()
		capacity := h.pending.Capacity
		percentFull := 0
		if capacity > 0 {
			percentFull = depth * 100 / capacity
		}

		if percentFull > 90 {
			// >90% full: callers are about to get ErrTooManyPending
			checks["pending"] = fmt.Sprintf("degraded: %d/%d (%d%%)", depth, capacity, percentFull)
			healthy = false
		} else {
			checks["pending"] = fmt.Sprintf("ok: %d/%d (%d%%)", depth, capacity, percentFull)
		}
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check()

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		_ = json.NewEncoder(w).Encode(health)
	})
}
