package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsMiddleware(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		path       string
		status     int
		wantLabel  string
		wantCount  float64
		wantSeries int
	}{
		{name: "ok", path: "/v1/session", status: http.StatusOK, wantLabel: "ok", wantCount: 1, wantSeries: 1},
		{name: "client error", path: "/v1/tolls", status: http.StatusPaymentRequired, wantLabel: "error", wantCount: 1, wantSeries: 1},
		{name: "server error", path: "/v1/tolls", status: http.StatusBadGateway, wantLabel: "error", wantCount: 1, wantSeries: 1},
		{name: "healthz skipped", path: "/healthz", status: http.StatusOK, wantLabel: "ok", wantCount: 0, wantSeries: 0},
		{name: "metrics skipped", path: "/metrics", status: http.StatusOK, wantLabel: "ok", wantCount: 0, wantSeries: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			metrics := NewMetrics(prometheus.NewRegistry())
			handler := MetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tt.path, nil))

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if got := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("POST", tt.wantLabel)); got != tt.wantCount {
				t.Errorf("http_requests_total{POST,%s} = %v, want %v", tt.wantLabel, got, tt.wantCount)
			}
			if n := testutil.CollectAndCount(metrics.HTTPDuration); n != tt.wantSeries {
				t.Errorf("http_request_duration_seconds series = %d, want %d", n, tt.wantSeries)
			}
		})
	}
}

func TestStatusToLabel(t *testing.T) {
	t.Parallel()

	for code, want := range map[int]string{
		200: "ok", 204: "ok", 302: "ok", 400: "error", 402: "error", 503: "error",
	} {
		if got := statusToLabel(code); got != want {
			t.Errorf("statusToLabel(%d) = %q, want %q", code, got, want)
		}
	}
}
