// Package session mirrors the off-chain channel balance of the connected user.
package session

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a Session.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusActive     Status = "active"
	StatusClosed     Status = "closed"
	StatusError      Status = "error"
)

// CanTransition reports whether a session may move from s to next.
// Allowed: connecting->active, active->closed, and any non-closed state->error.
func (s Status) CanTransition(next Status) bool {
	switch next {
	case StatusActive:
		return s == StatusConnecting
	case StatusClosed:
		return s == StatusActive
	case StatusError:
		return s != StatusClosed
	default:
		return false
	}
}

// Session is one open off-chain value channel for a user.
// Balances are integer smallest units; TotalSpent and GasSaved are display units.
type Session struct {
	ID             string          `json:"session_id"`
	ChannelID      string          `json:"channel_id"`
	UserAddress    string          `json:"user_address"`
	InitialDeposit int64           `json:"initial_deposit"`
	CurrentBalance int64           `json:"current_balance"`
	StartDate      time.Time       `json:"start_date"`
	EndDate        time.Time       `json:"end_date"`
	Status         Status          `json:"status"`
	TollsPaid      int             `json:"tolls_paid"`
	TotalSpent     decimal.Decimal `json:"total_spent"`
	GasSaved       decimal.Decimal `json:"gas_saved"`
}

// IsActive reports whether tolls may be charged against the session.
func (s *Session) IsActive() bool {
	return s != nil && s.Status == StatusActive
}

// Balance returns the current balance in display units.
func (s *Session) Balance(decimals int32) decimal.Decimal {
	return FromUnits(s.CurrentBalance, decimals)
}

// LowBalance reports whether the display balance is below threshold.
func (s *Session) LowBalance(threshold decimal.Decimal, decimals int32) bool {
	return s.Balance(decimals).LessThan(threshold)
}

// IsExpired reports whether EndDate has passed.
func (s *Session) IsExpired() bool {
	return s != nil && !s.EndDate.IsZero() && time.Now().After(s.EndDate)
}

// Clone returns a copy of s, or nil.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
