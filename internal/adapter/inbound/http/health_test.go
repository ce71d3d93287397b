package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tollgate-labs/tollgate/internal/adapter/outbound/memory"
	"github.com/tollgate-labs/tollgate/internal/domain/session"
)

type fakeNode struct {
	connected, authenticated bool
}

func (n fakeNode) IsConnected() bool     { return n.connected }
func (n fakeNode) IsAuthenticated() bool { return n.authenticated }

func TestHealthChecker_Healthy(t *testing.T) {
	t.Parallel()

	store := memory.NewSnapshotStore(discardLogger())
	if err := store.Create(context.Background(), &session.Session{ID: "s1", Status: session.StatusActive}); err != nil {
		t.Fatal(err)
	}
	pending := &PendingGauge{Depth: func() int { return 2 }, Capacity: 1024}

	hc := NewHealthChecker(fakeNode{connected: true, authenticated: true}, store, pending, "test-version")
	health := hc.Check()

	if health.Status != "healthy" {
		t.Errorf("Status = %q, want healthy (checks %v)", health.Status, health.Checks)
	}
	if health.Version != "test-version" {
		t.Errorf("Version = %q, want test-version", health.Version)
	}
	if health.Checks["clearnode"] != "ok" {
		t.Errorf("clearnode check = %q, want ok", health.Checks["clearnode"])
	}
	if health.Checks["session_store"] != "ok: 1 snapshots" {
		t.Errorf("session_store check = %q", health.Checks["session_store"])
	}
	if health.Checks["pending"] != "ok: 2/1024 (0%)" {
		t.Errorf("pending check = %q", health.Checks["pending"])
	}
	if health.Checks["goroutines"] == "" {
		t.Error("goroutines check missing")
	}
}

func TestHealthChecker_NilComponents(t *testing.T) {
	t.Parallel()

	hc := NewHealthChecker(nil, nil, nil, "")
	health := hc.Check()

	if health.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", health.Status)
	}
	if health.Checks["session_store"] != "not configured" || health.Checks["clearnode"] != "not configured" {
		t.Errorf("checks = %v, want not configured", health.Checks)
	}
	if _, ok := health.Checks["pending"]; ok {
		t.Error("pending check present without a gauge")
	}
}

func TestHealthChecker_Unhealthy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		node    NodeStatus
		pending *PendingGauge
		key     string
		want    string
	}{
		{name: "disconnected", node: fakeNode{}, key: "clearnode", want: "disconnected"},
		{name: "not authenticated", node: fakeNode{connected: true}, key: "clearnode", want: "connected, not authenticated"},
		{
			name:    "pending backpressure",
			node:    fakeNode{connected: true, authenticated: true},
			pending: &PendingGauge{Depth: func() int { return 95 }, Capacity: 100},
			key:     "pending",
			want:    "degraded: 95/100 (95%)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			hc := NewHealthChecker(tt.node, nil, tt.pending, "")
			health := hc.Check()
			if health.Status != "unhealthy" {
				t.Errorf("Status = %q, want unhealthy", health.Status)
			}
			if health.Checks[tt.key] != tt.want {
				t.Errorf("%s check = %q, want %q", tt.key, health.Checks[tt.key], tt.want)
			}

			rec := httptest.NewRecorder()
			hc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			if rec.Code != http.StatusServiceUnavailable {
				t.Errorf("handler status = %d, want 503", rec.Code)
			}
		})
	}
}

func TestHealthChecker_Handler(t *testing.T) {
	t.Parallel()

	hc := NewHealthChecker(fakeNode{connected: true, authenticated: true}, nil, nil, "1.0.0")
	rec := httptest.NewRecorder()
	hc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q", ct)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Version != "1.0.0" || resp.Status != "healthy" {
		t.Errorf("response = %+v", resp)
	}
}
