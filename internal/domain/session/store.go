package session

import (
	"context"
	"errors"
)

// SessionStore persists session snapshots.
// Snapshots are informational; the Ledger is the only source of truth.
// Implementations: Redis (prod), in-memory (default and tests).
type SessionStore interface {
	// Create stores a new snapshot.
	Create(ctx context.Context, session *Session) error

	// Get retrieves a snapshot by ID.
	// Returns ErrSessionNotFound if the snapshot doesn't exist or expired.
	Get(ctx context.Context, id string) (*Session, error)

	// Update overwrites an existing snapshot.
	Update(ctx context.Context, session *Session) error

	// Delete removes a snapshot.
	Delete(ctx context.Context, id string) error
}

var (
	// ErrSessionNotFound is returned when a snapshot doesn't exist or expired.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNoActiveSession is returned when an operation needs an active session.
	ErrNoActiveSession = errors.New("no active session")

	// ErrInsufficientBalance is returned when a fee exceeds the current balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidAmount is returned for negative or over-precise amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidTransition is returned for a disallowed status change.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrSessionReplaced is returned when a confirmed charge arrives for a
	// session that was closed or replaced while the transfer was in flight.
	ErrSessionReplaced = errors.New("session replaced")
)
