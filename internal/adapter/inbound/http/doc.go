// Package http exposes the toll client over HTTP.
//
// # Usage
//
//	reg := http.NewRegistry()
//	metrics := http.NewMetrics(reg)
//	api := http.NewAPI(tollService, http.WithCatalog(catalog))
//	srv := http.NewServer(api, metrics,
//	    http.WithAddr("127.0.0.1:8090"),
//	    http.WithGatherer(reg),
//	    http.WithLogger(logger),
//	)
//	err := srv.Start(ctx)
//
// # Endpoints
//
//	GET  /healthz             - Node connection, session store and pending checks
//	GET  /metrics             - Prometheus metrics
//	GET  /v1/session          - Current session and display balance
//	POST /v1/session/close    - Close the active session
//	POST /v1/tolls            - Pay a toll by id, explicit fields, or QR content
//	GET  /v1/tolls?limit=N    - Recent transactions with a summary
//	GET  /v1/stats            - Payment counters
//	GET  /v1/routes[/{id}]    - Route catalog with costs
//
// # Request Headers
//
//	Authorization: Bearer <token> - Required on /v1 when a token is configured
//	X-Request-ID: <id>            - Optional correlation id, echoed back
package http
