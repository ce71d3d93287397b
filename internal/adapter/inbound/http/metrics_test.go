package http

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tollgate-labs/tollgate/internal/service"
	"github.com/tollgate-labs/tollgate/pkg/rpc"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	if m.RequestsTotal == nil || m.RequestDuration == nil {
		t.Error("RPC metrics not initialized")
	}
	if m.HTTPRequestsTotal == nil || m.HTTPDuration == nil {
		t.Error("HTTP metrics not initialized")
	}
	if m.ReconnectsTotal == nil || m.TollsPaidTotal == nil || m.BalanceUnits == nil {
		t.Error("service metrics not initialized")
	}
}

func TestMetrics_ObserveCall(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveCall(rpc.MethodTransfer, "ok", 20*time.Millisecond)
	m.ObserveCall(rpc.MethodTransfer, "ok", 30*time.Millisecond)
	m.ObserveCall(rpc.MethodTransfer, "timeout", 30*time.Second)

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("transfer", "ok")); got != 2 {
		t.Errorf("requests_total{transfer,ok} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("transfer", "timeout")); got != 1 {
		t.Errorf("requests_total{transfer,timeout} = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.RequestDuration, "tollgate_request_duration_seconds"); n != 1 {
		t.Errorf("request_duration_seconds series = %d, want 1", n)
	}
}

func TestMetrics_Recorder(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	var rec service.Recorder = m

	rec.Reconnect(service.OutcomeLost)
	rec.Reconnect(service.OutcomeResumed)
	rec.Reconnect(service.OutcomeLost)
	rec.TollPaid(service.TollStatusPaid)
	rec.TollPaid(service.TollStatusInsufficient)
	rec.SessionBalance(98_500_000)

	if got := testutil.ToFloat64(m.ReconnectsTotal.WithLabelValues("lost")); got != 2 {
		t.Errorf("reconnects_total{lost} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.TollsPaidTotal.WithLabelValues("paid")); got != 1 {
		t.Errorf("tolls_paid_total{paid} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.BalanceUnits); got != 98_500_000 {
		t.Errorf("session_balance_units = %v, want 98500000", got)
	}

	expected := `
# HELP tollgate_tolls_paid_total Toll payments by status
# TYPE tollgate_tolls_paid_total counter
tollgate_tolls_paid_total{status="insufficient_balance"} 1
tollgate_tolls_paid_total{status="paid"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "tollgate_tolls_paid_total"); err != nil {
		t.Error(err)
	}
}

func TestRegisterPending(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	depth := 3
	g := RegisterPending(reg, func() int { return depth })

	if got := testutil.ToFloat64(g); got != 3 {
		t.Errorf("pending_requests = %v, want 3", got)
	}
	depth = 0
	if got := testutil.ToFloat64(g); got != 0 {
		t.Errorf("pending_requests = %v, want 0", got)
	}
}
