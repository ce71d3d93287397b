package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tollgate-labs/tollgate/internal/domain/session"
	"github.com/tollgate-labs/tollgate/internal/domain/signing"
	"github.com/tollgate-labs/tollgate/internal/domain/toll"
	"github.com/tollgate-labs/tollgate/internal/port/outbound"
	"github.com/tollgate-labs/tollgate/internal/service"
)

// fakeTollService is a hand-written inbound.TollService.
type fakeTollService struct {
	mu sync.Mutex

	session    *session.Session
	payErr     error
	payTxID    string
	closeErr   error
	history    []toll.Transaction
	historyErr error
	stats      service.Stats

	lastPay   service.PayTollRequest
	lastLimit int
	closed    int
}

func (f *fakeTollService) PayToll(_ context.Context, req service.PayTollRequest) service.PayTollResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPay = req
	if f.payErr != nil {
		return service.PayTollResult{TransactionID: f.payTxID, Err: f.payErr}
	}
	return service.PayTollResult{
		Success:         true,
		TransactionID:   "tx_1_" + req.TollID,
		NewBalance:      decimal.RequireFromString("98.5"),
		NewBalanceUnits: 98_500_000,
		Timestamp:       time.Unix(1, 0).UTC(),
	}
}

func (f *fakeTollService) CloseSession(context.Context) service.CloseSessionResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	if f.closeErr != nil {
		return service.CloseSessionResult{Err: f.closeErr}
	}
	return service.CloseSessionResult{
		Success:           true,
		FinalBalance:      decimal.RequireFromString("98.5"),
		FinalBalanceUnits: 98_500_000,
	}
}

func (f *fakeTollService) CurrentSession() *session.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session.Clone()
}

func (f *fakeTollService) History(_ context.Context, limit int) ([]toll.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	if limit > 0 && limit < len(f.history) {
		return f.history[:limit], nil
	}
	return f.history, nil
}

func (f *fakeTollService) Stats() service.Stats { return f.stats }
func (f *fakeTollService) IsConnected() bool    { return true }
func (f *fakeTollService) IsAuthenticated() bool {
	return true
}
func (f *fakeTollService) Decimals() int32 { return 6 }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(svc *fakeTollService, opts ...Option) http.Handler {
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	return NewServer(NewAPI(svc), nil, opts...).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, r))
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestAPI_GetSession(t *testing.T) {
	t.Parallel()

	svc := &fakeTollService{}
	h := newTestHandler(svc)

	rec := do(t, h, http.MethodGet, "/v1/session", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	svc.session = &session.Session{
		ID:             "session_1_abc",
		UserAddress:    "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf",
		InitialDeposit: 100_000_000,
		CurrentBalance: 5_000_000,
		Status:         session.StatusActive,
		TollsPaid:      3,
	}
	rec = do(t, h, http.MethodGet, "/v1/session", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got := decodeJSON[struct {
		ID         string          `json:"session_id"`
		Units      int64           `json:"current_balance"`
		Balance    decimal.Decimal `json:"balance"`
		LowBalance bool            `json:"low_balance"`
		Status     string          `json:"status"`
	}](t, rec)

	if got.ID != "session_1_abc" || got.Units != 5_000_000 || got.Status != "active" {
		t.Errorf("session = %+v", got)
	}
	if !got.Balance.Equal(decimal.NewFromInt(5)) {
		t.Errorf("balance = %s, want 5", got.Balance)
	}
	if !got.LowBalance {
		t.Error("low_balance = false, want true under the threshold")
	}
}

func TestAPI_PayToll_Resolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		body      string
		wantID    string
		wantName  string
		wantFee   string
		wantRoad  string
		wantLat   float64
		wantAuthz string
	}{
		{
			name:     "catalog toll id",
			body:     `{"toll_id":"TOLL_02"}`,
			wantID:   "TOLL_02",
			wantName: "Mass Pike - Worcester",
			wantFee:  "2.00",
			wantRoad: "I-95 South",
			wantLat:  42.2626,
		},
		{
			name:     "qr overrides name and fee",
			body:     `{"qr":"{\"tollId\":\"TOLL_03\",\"name\":\"Custom\",\"fee\":1.25}"}`,
			wantID:   "TOLL_03",
			wantName: "Custom",
			wantFee:  "1.25",
			wantRoad: "I-95 South",
			wantLat:  42.1015,
		},
		{
			name:     "unknown toll with explicit fee",
			body:     `{"toll_id":"GATE_9","fee":"0.75","road_id":"SR-1","location":{"lat":1.5,"lng":2}}`,
			wantID:   "GATE_9",
			wantName: "GATE_9",
			wantFee:  "0.75",
			wantRoad: "SR-1",
			wantLat:  1.5,
		},
		{
			name:      "explicit fields win over catalog",
			body:      `{"toll_id":"TOLL_01","toll_name":"Booth A","fee":3,"authority":"0x948426aa46593681b609b896d6246eba1c7e932d"}`,
			wantID:    "TOLL_01",
			wantName:  "Booth A",
			wantFee:   "3",
			wantRoad:  "I-95 South",
			wantLat:   42.3601,
			wantAuthz: "0x948426aa46593681b609b896d6246eba1c7e932d",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := &fakeTollService{}
			rec := do(t, newTestHandler(svc), http.MethodPost, "/v1/tolls", tt.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
			}

			req := svc.lastPay
			if req.TollID != tt.wantID || req.TollName != tt.wantName || req.RoadID != tt.wantRoad {
				t.Errorf("request = %+v", req)
			}
			if !req.Fee.Equal(decimal.RequireFromString(tt.wantFee)) {
				t.Errorf("fee = %s, want %s", req.Fee, tt.wantFee)
			}
			if req.Location.Lat != tt.wantLat {
				t.Errorf("location = %+v, want lat %v", req.Location, tt.wantLat)
			}
			if req.Authority != tt.wantAuthz {
				t.Errorf("authority = %q, want %q", req.Authority, tt.wantAuthz)
			}

			res := decodeJSON[service.PayTollResult](t, rec)
			if !res.Success || res.TransactionID != "tx_1_"+tt.wantID || res.NewBalanceUnits != 98_500_000 {
				t.Errorf("result = %+v", res)
			}
		})
	}
}

func TestAPI_PayToll_Errors(t *testing.T) {
	t.Parallel()

	timeout := fmt.Errorf("%w: %w", service.ErrTransferFailed, outbound.ErrRequestTimeout)

	tests := []struct {
		name     string
		body     string
		payErr   error
		payTxID  string
		want     int
		wantCode string
		wantTxID string
	}{
		{name: "empty body", body: "", want: http.StatusBadRequest, wantCode: "invalid_body"},
		{name: "unknown field", body: `{"toll":"x"}`, want: http.StatusBadRequest, wantCode: "invalid_body"},
		{name: "no toll id", body: `{"fee":"1"}`, want: http.StatusBadRequest, wantCode: "invalid_request"},
		{name: "unknown toll without fee", body: `{"toll_id":"NOPE"}`, want: http.StatusNotFound, wantCode: "toll_not_found"},
		{name: "bad qr", body: `{"qr":"not json"}`, want: http.StatusBadRequest, wantCode: "invalid_request"},
		{name: "no session", body: `{"toll_id":"TOLL_01"}`, payErr: session.ErrNoActiveSession, want: http.StatusConflict, wantCode: "no_active_session"},
		{name: "insufficient", body: `{"toll_id":"TOLL_01"}`, payErr: session.ErrInsufficientBalance, want: http.StatusPaymentRequired, wantCode: "insufficient_balance"},
		{name: "too precise", body: `{"toll_id":"TOLL_01"}`, payErr: session.ErrInvalidAmount, want: http.StatusBadRequest, wantCode: "invalid_request"},
		{name: "bad authority", body: `{"toll_id":"TOLL_01"}`, payErr: signing.ErrInvalidAddress, want: http.StatusBadRequest, wantCode: "invalid_request"},
		{name: "duplicate", body: `{"toll_id":"TOLL_01"}`, payErr: service.ErrDuplicateToll, payTxID: "tx_0_TOLL_01", want: http.StatusConflict, wantCode: "duplicate_toll", wantTxID: "tx_0_TOLL_01"},
		{name: "not authenticated", body: `{"toll_id":"TOLL_01"}`, payErr: service.ErrNotAuthenticated, want: http.StatusServiceUnavailable, wantCode: "node_unavailable"},
		{name: "rejected", body: `{"toll_id":"TOLL_01"}`, payErr: fmt.Errorf("%w: insufficient funds", service.ErrTransferFailed), payTxID: "tx_5_TOLL_01", want: http.StatusBadGateway, wantCode: "transfer_failed", wantTxID: "tx_5_TOLL_01"},
		{name: "timeout", body: `{"toll_id":"TOLL_01"}`, payErr: timeout, payTxID: "tx_6_TOLL_01", want: http.StatusGatewayTimeout, wantCode: "node_timeout", wantTxID: "tx_6_TOLL_01"},
		{name: "unexpected", body: `{"toll_id":"TOLL_01"}`, payErr: fmt.Errorf("boom"), want: http.StatusInternalServerError, wantCode: "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := &fakeTollService{payErr: tt.payErr, payTxID: tt.payTxID}
			rec := do(t, newTestHandler(svc), http.MethodPost, "/v1/tolls", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
			got := decodeJSON[errorResponse](t, rec)
			if got.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", got.Code, tt.wantCode)
			}
			if got.TransactionID != tt.wantTxID {
				t.Errorf("transaction_id = %q, want %q", got.TransactionID, tt.wantTxID)
			}
			if got.Error == "" {
				t.Error("error message is empty")
			}
		})
	}
}

func TestAPI_PayToll_BodyTooLarge(t *testing.T) {
	t.Parallel()

	body := `{"toll_id":"TOLL_01","toll_name":"` + strings.Repeat("x", maxRequestBodySize) + `"}`
	rec := do(t, newTestHandler(&fakeTollService{}), http.MethodPost, "/v1/tolls", body)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestAPI_ListTolls(t *testing.T) {
	t.Parallel()

	txs := []toll.Transaction{
		{ID: "tx_3", TollID: "TOLL_03", Fee: decimal.RequireFromString("1.75")},
		{ID: "tx_2", TollID: "TOLL_02", Fee: decimal.RequireFromString("2.00")},
		{ID: "tx_1", TollID: "TOLL_01", Fee: decimal.RequireFromString("1.50")},
	}
	svc := &fakeTollService{history: txs}
	h := newTestHandler(svc)

	rec := do(t, h, http.MethodGet, "/v1/tolls", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if svc.lastLimit != defaultHistoryPage {
		t.Errorf("limit = %d, want %d", svc.lastLimit, defaultHistoryPage)
	}
	got := decodeJSON[historyResponse](t, rec)
	if len(got.Transactions) != 3 || got.Transactions[0].ID != "tx_3" {
		t.Errorf("transactions = %+v", got.Transactions)
	}
	if got.Summary.TotalTolls != 3 || !got.Summary.TotalSpent.Equal(decimal.RequireFromString("5.25")) {
		t.Errorf("summary = %+v", got.Summary)
	}
	if !got.Summary.GasSaved.Equal(decimal.RequireFromString("7.5")) {
		t.Errorf("gas saved = %s, want 7.5", got.Summary.GasSaved)
	}

	rec = do(t, h, http.MethodGet, "/v1/tolls?limit=2", "")
	if got := decodeJSON[historyResponse](t, rec); len(got.Transactions) != 2 {
		t.Errorf("limit=2 returned %d transactions", len(got.Transactions))
	}

	if rec := do(t, h, http.MethodGet, "/v1/tolls?limit=abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("limit=abc status = %d, want 400", rec.Code)
	}

	empty := newTestHandler(&fakeTollService{})
	rec = do(t, empty, http.MethodGet, "/v1/tolls", "")
	if !strings.Contains(rec.Body.String(), `"transactions":[]`) {
		t.Errorf("empty history body = %s", rec.Body.String())
	}

	none := newTestHandler(&fakeTollService{historyErr: session.ErrNoActiveSession})
	if rec := do(t, none, http.MethodGet, "/v1/tolls", ""); rec.Code != http.StatusConflict {
		t.Errorf("no session status = %d, want 409", rec.Code)
	}
}

func TestAPI_CloseSession(t *testing.T) {
	t.Parallel()

	svc := &fakeTollService{}
	h := newTestHandler(svc)

	rec := do(t, h, http.MethodPost, "/v1/session/close", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	res := decodeJSON[service.CloseSessionResult](t, rec)
	if !res.Success || res.FinalBalanceUnits != 98_500_000 {
		t.Errorf("result = %+v", res)
	}

	svc.closeErr = session.ErrNoActiveSession
	if rec := do(t, h, http.MethodPost, "/v1/session/close", ""); rec.Code != http.StatusConflict {
		t.Errorf("second close status = %d, want 409", rec.Code)
	}
	if svc.closed != 2 {
		t.Errorf("CloseSession called %d times, want 2", svc.closed)
	}

	if rec := do(t, h, http.MethodGet, "/v1/session/close", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET close status = %d, want 405", rec.Code)
	}
}

func TestAPI_Routes(t *testing.T) {
	t.Parallel()

	h := newTestHandler(&fakeTollService{})

	rec := do(t, h, http.MethodGet, "/v1/routes", "")
	routes := decodeJSON[[]routeResponse](t, rec)
	if len(routes) != 3 {
		t.Fatalf("routes = %d, want 3", len(routes))
	}

	rec = do(t, h, http.MethodGet, "/v1/routes/boston-nyc", "")
	rt := decodeJSON[routeResponse](t, rec)
	if len(rt.Tolls) != 12 {
		t.Errorf("boston-nyc tolls = %d, want 12", len(rt.Tolls))
	}
	if !rt.TotalCost.Equal(decimal.RequireFromString("28.5")) || !rt.GasSaved.Equal(decimal.NewFromInt(30)) {
		t.Errorf("cost/gas = %s/%s, want 28.5/30", rt.TotalCost, rt.GasSaved)
	}

	if rec := do(t, h, http.MethodGet, "/v1/routes/atlantis", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want 404", rec.Code)
	}
}

func TestAPI_Stats(t *testing.T) {
	t.Parallel()

	svc := &fakeTollService{stats: service.Stats{Paid: 4, Insufficient: 1, RoadCounts: map[string]int64{"I-95 South": 4}}}
	rec := do(t, newTestHandler(svc), http.MethodGet, "/v1/stats", "")
	got := decodeJSON[service.Stats](t, rec)
	if got.Paid != 4 || got.Insufficient != 1 || got.RoadCounts["I-95 South"] != 4 {
		t.Errorf("stats = %+v", got)
	}
}

func TestAPI_BearerToken(t *testing.T) {
	t.Parallel()

	h := newTestHandler(&fakeTollService{}, WithBearerToken("s3cret"))

	if rec := do(t, h, http.MethodGet, "/v1/stats", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("without token status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("with token status = %d, want 200", rec.Code)
	}

	// Health stays open without a token.
	if rec := do(t, h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", rec.Code)
	}
}
