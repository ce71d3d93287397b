package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/tollgate-labs/tollgate/internal/domain/session"
	"github.com/tollgate-labs/tollgate/internal/domain/signing"
	"github.com/tollgate-labs/tollgate/internal/domain/toll"
	"github.com/tollgate-labs/tollgate/internal/port/inbound"
	"github.com/tollgate-labs/tollgate/internal/port/outbound"
	"github.com/tollgate-labs/tollgate/internal/service"
)

// maxRequestBodySize is the maximum allowed request body size (64 KB).
const maxRequestBodySize = 64 << 10

// defaultHistoryPage is the number of transactions GET /v1/tolls returns
// when no limit is given.
const defaultHistoryPage = 20

var errTollRequired = errors.New("toll_id or qr is required")

// errorResponse is the JSON body of every non-2xx API response.
type errorResponse struct {
	Error         string `json:"error"`
	Code          string `json:"code"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// sessionResponse is a session with its display-unit balance.
type sessionResponse struct {
	*session.Session
	Balance    decimal.Decimal `json:"balance"`
	LowBalance bool            `json:"low_balance"`
}

// payTollBody is the JSON body of POST /v1/tolls. Either QR content or a
// toll id is required; catalog values fill in whatever the body leaves out.
type payTollBody struct {
	QR        string           `json:"qr,omitempty"`
	TollID    string           `json:"toll_id"`
	TollName  string           `json:"toll_name"`
	Fee       *decimal.Decimal `json:"fee"`
	Location  *toll.Location   `json:"location"`
	RoadID    string           `json:"road_id"`
	Authority string           `json:"authority,omitempty"`
}

type historyResponse struct {
	Transactions []toll.Transaction  `json:"transactions"`
	Summary      toll.DashboardStats `json:"summary"`
}

type routeResponse struct {
	toll.Route
	TotalCost decimal.Decimal `json:"total_cost"`
	GasSaved  decimal.Decimal `json:"gas_saved"`
}

// API serves the toll client's JSON endpoints.
type API struct {
	svc          inbound.TollService
	catalog      *toll.Catalog
	gasPerToll   decimal.Decimal
	lowThreshold decimal.Decimal
}

// APIOption configures the API.
type APIOption func(*API)

// WithCatalog sets the route catalog used to resolve toll ids.
func WithCatalog(c *toll.Catalog) APIOption {
	return func(a *API) {
		if c != nil {
			a.catalog = c
		}
	}
}

// WithGasPerToll sets the gas estimate used in summaries.
func WithGasPerToll(d decimal.Decimal) APIOption {
	return func(a *API) {
		if d.IsPositive() {
			a.gasPerToll = d
		}
	}
}

// WithLowBalanceThreshold sets the display-unit balance under which a
// session is reported as low.
func WithLowBalanceThreshold(d decimal.Decimal) APIOption {
	return func(a *API) { a.lowThreshold = d }
}

// NewAPI creates the API handler set.
func NewAPI(svc inbound.TollService, opts ...APIOption) *API {
	a := &API{
		svc:          svc,
		catalog:      toll.DefaultCatalog(),
		gasPerToll:   toll.DefaultGasCost,
		lowThreshold: decimal.NewFromInt(10),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Register mounts the API routes on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/session", a.getSession)
	mux.HandleFunc("POST /v1/session/close", a.closeSession)
	mux.HandleFunc("POST /v1/tolls", a.payToll)
	mux.HandleFunc("GET /v1/tolls", a.listTolls)
	mux.HandleFunc("GET /v1/stats", a.stats)
	mux.HandleFunc("GET /v1/routes", a.listRoutes)
	mux.HandleFunc("GET /v1/routes/{id}", a.getRoute)
}

func (a *API) getSession(w http.ResponseWriter, r *http.Request) {
	sess := a.svc.CurrentSession()
	if sess == nil {
		writeError(w, http.StatusNotFound, "no_session", session.ErrNoActiveSession.Error())
		return
	}
	writeJSON(w, http.StatusOK, a.sessionView(sess))
}

func (a *API) closeSession(w http.ResponseWriter, r *http.Request) {
	res := a.svc.CloseSession(r.Context())
	if res.Err != nil {
		LoggerFromContext(r.Context()).Warn("close session failed", "error", res.Err)
		status, code := errorStatus(res.Err)
		writeError(w, status, code, res.Err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) payToll(w http.ResponseWriter, r *http.Request) {
	var body payTollBody
	if err := decodeBody(w, r, &body); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	req, err := a.resolveToll(body)
	if err != nil {
		status, code := errorStatus(err)
		writeError(w, status, code, err.Error())
		return
	}

	res := a.svc.PayToll(r.Context(), req)
	if res.Err != nil {
		LoggerFromContext(r.Context()).Info("toll payment refused",
			"toll_id", req.TollID, "error", res.Err)
		status, code := errorStatus(res.Err)
		writeJSON(w, status, errorResponse{
			Error:         res.Err.Error(),
			Code:          code,
			TransactionID: res.TransactionID,
		})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// resolveToll turns a request body into a PayTollRequest.
func (a *API) resolveToll(body payTollBody) (service.PayTollRequest, error) {
	req := service.PayTollRequest{
		TollID:    body.TollID,
		TollName:  body.TollName,
		RoadID:    body.RoadID,
		Authority: body.Authority,
	}
	if body.Fee != nil {
		req.Fee = *body.Fee
	}
	feeSet := body.Fee != nil

	if body.QR != "" {
		p, err := toll.ParseQR(body.QR)
		if err != nil {
			return req, err
		}
		req.TollID, req.TollName, req.Fee, req.RoadID = p.TollID, p.Name, p.Fee, p.RoadID
		feeSet = true
	}
	if req.TollID == "" {
		return req, errTollRequired
	}

	route, cp, err := a.catalog.Checkpoint(req.TollID)
	switch {
	case err == nil:
		if req.TollName == "" {
			req.TollName = cp.Name
		}
		if !feeSet {
			req.Fee = cp.Fee
		}
		if req.RoadID == "" || req.RoadID == toll.UnknownRoad {
			req.RoadID = route.Road
		}
		req.Location = cp.Location
	case !feeSet:
		return req, err
	}

	if body.Location != nil {
		req.Location = *body.Location
	}
	if req.TollName == "" {
		req.TollName = req.TollID
	}
	return req, nil
}

func (a *API) listTolls(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryPage
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", fmt.Sprintf("invalid limit %q", v))
			return
		}
		limit = n
	}

	txs, err := a.svc.History(r.Context(), limit)
	if err != nil {
		status, code := errorStatus(err)
		writeError(w, status, code, err.Error())
		return
	}
	if txs == nil {
		txs = []toll.Transaction{}
	}
	writeJSON(w, http.StatusOK, historyResponse{
		Transactions: txs,
		Summary:      toll.Stats(txs, a.gasPerToll),
	})
}

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.Stats())
}

func (a *API) listRoutes(w http.ResponseWriter, r *http.Request) {
	routes := a.catalog.Routes()
	out := make([]routeResponse, 0, len(routes))
	for _, rt := range routes {
		out = append(out, a.routeView(rt))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) getRoute(w http.ResponseWriter, r *http.Request) {
	rt, err := a.catalog.Route(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "route_not_found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a.routeView(rt))
}

func (a *API) routeView(rt toll.Route) routeResponse {
	return routeResponse{
		Route:     rt,
		TotalCost: toll.RouteCost(rt),
		GasSaved:  toll.GasSaved(len(rt.Tolls), a.gasPerToll),
	}
}

func (a *API) sessionView(sess *session.Session) sessionResponse {
	decimals := a.svc.Decimals()
	return sessionResponse{
		Session:    sess,
		Balance:    sess.Balance(decimals),
		LowBalance: sess.IsActive() && sess.LowBalance(a.lowThreshold, decimals),
	}
}

// errorStatus maps a service error to an HTTP status and a stable code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrNoActiveSession):
		return http.StatusConflict, "no_active_session"
	case errors.Is(err, service.ErrDuplicateToll):
		return http.StatusConflict, "duplicate_toll"
	case errors.Is(err, session.ErrInsufficientBalance):
		return http.StatusPaymentRequired, "insufficient_balance"
	case errors.Is(err, session.ErrInvalidAmount),
		errors.Is(err, signing.ErrInvalidAddress),
		errors.Is(err, toll.ErrInvalidQR):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, toll.ErrTollNotFound):
		return http.StatusNotFound, "toll_not_found"
	case errors.Is(err, service.ErrNotAuthenticated),
		errors.Is(err, outbound.ErrNotConnected),
		errors.Is(err, outbound.ErrConnectionLost):
		return http.StatusServiceUnavailable, "node_unavailable"
	case errors.Is(err, outbound.ErrRequestTimeout):
		return http.StatusGatewayTimeout, "node_timeout"
	case errors.Is(err, service.ErrTransferFailed):
		return http.StatusBadGateway, "transfer_failed"
	case errors.Is(err, errTollRequired):
		return http.StatusBadRequest, "invalid_request"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty request body")
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}
