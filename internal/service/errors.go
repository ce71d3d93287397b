package service

import "errors"

var (
	// ErrNotAuthenticated is returned when an operation needs a bearer token
	// and the client holds none.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrAuthTimeout is returned when authentication does not finish in time.
	ErrAuthTimeout = errors.New("authentication timeout")

	// ErrAuthServerRejected wraps a node-side rejection of auth_request or auth_verify.
	ErrAuthServerRejected = errors.New("authentication rejected by server")

	// ErrAuthSuperseded is returned to an authentication attempt that was
	// torn down by a newer one or by a disconnect.
	ErrAuthSuperseded = errors.New("authentication attempt superseded")

	// ErrTransferFailed wraps any failure of the transfer round trip.
	ErrTransferFailed = errors.New("transfer failed")

	// ErrDuplicateToll is returned when toll dedupe is enabled and the toll
	// was already paid in the current session.
	ErrDuplicateToll = errors.New("toll already paid in this session")
)
