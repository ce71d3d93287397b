// Package inbound defines the inbound port interfaces for the toll client.
// Inbound adapters (HTTP, CLI) call these interfaces.
package inbound

import (
	"context"

	"github.com/tollgate-labs/tollgate/internal/domain/session"
	"github.com/tollgate-labs/tollgate/internal/domain/toll"
	"github.com/tollgate-labs/tollgate/internal/service"
)

// TollService is the inbound port for the payment core.
type TollService interface {
	// PayToll charges one checkpoint against the active session.
	// Failures are reported in the result, never panicked.
	PayToll(ctx context.Context, req service.PayTollRequest) service.PayTollResult

	// CloseSession ends the active session.
	CloseSession(ctx context.Context) service.CloseSessionResult

	// CurrentSession returns a copy of the session, or nil before the first open.
	CurrentSession() *session.Session

	// History returns recent transactions of the current session, newest first.
	History(ctx context.Context, limit int) ([]toll.Transaction, error)

	// Stats returns payment counters since start.
	Stats() service.Stats

	IsConnected() bool
	IsAuthenticated() bool
	Decimals() int32
}

// Compile-time check that the service implements the port.
var _ TollService = (*service.TollService)(nil)
