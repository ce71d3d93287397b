package http

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tollgate-labs/tollgate/internal/service"
	"github.com/tollgate-labs/tollgate/pkg/rpc"
)

// Metrics holds all Prometheus metrics for tollgate.
// It implements service.Recorder and feeds the ClearNode call observer.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	HTTPRequestsTotal *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
	ReconnectsTotal   *prometheus.CounterVec
	TollsPaidTotal    *prometheus.CounterVec
	BalanceUnits      prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tollgate",
				Name:      "requests_total",
				Help:      "Total number of ClearNode RPC requests",
			},
			[]string{"method", "status"}, // method=transfer, status=ok/error/timeout
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tollgate",
				Name:      "request_duration_seconds",
				Help:      "ClearNode RPC round-trip in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		HTTPRequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tollgate",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP API requests",
			},
			[]string{"method", "status"}, // method=GET, status=ok/error
		),
		HTTPDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tollgate",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP API request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		ReconnectsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tollgate",
				Name:      "reconnects_total",
				Help:      "Connection lifecycle events by outcome",
			},
			[]string{"outcome"}, // lost/reconnected/resumed/reauthenticated/exhausted
		),
		TollsPaidTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tollgate",
				Name:      "tolls_paid_total",
				Help:      "Toll payments by status",
			},
			[]string{"status"},
		),
		BalanceUnits: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tollgate",
				Name:      "session_balance_units",
				Help:      "Balance of the active session in smallest asset units",
			},
		),
	}
}

// RegisterPending exposes fn as the tollgate_pending_requests gauge.
func RegisterPending(reg prometheus.Registerer, fn func() int) prometheus.GaugeFunc {
	return promauto.With(reg).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "tollgate",
			Name:      "pending_requests",
			Help:      "Requests awaiting a response from the node",
		},
		func() float64 { return float64(fn()) },
	)
}

// ObserveCall records one completed ClearNode call. Its signature matches
// clearnode.CallObserver.
func (m *Metrics) ObserveCall(method rpc.Method, status string, elapsed time.Duration) {
	m.RequestsTotal.WithLabelValues(string(method), status).Inc()
	m.RequestDuration.WithLabelValues(string(method)).Observe(elapsed.Seconds())
}

// Reconnect implements service.Recorder.
func (m *Metrics) Reconnect(outcome string) {
	m.ReconnectsTotal.WithLabelValues(outcome).Inc()
}

// TollPaid implements service.Recorder.
func (m *Metrics) TollPaid(status string) {
	m.TollsPaidTotal.WithLabelValues(status).Inc()
}

// SessionBalance implements service.Recorder.
func (m *Metrics) SessionBalance(units int64) {
	m.BalanceUnits.Set(float64(units))
}

var _ service.Recorder = (*Metrics)(nil)
