package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultDuration is how long a session stays open after StartDate.
const DefaultDuration = 30 * 24 * time.Hour

// DefaultGasSavedPerToll is the fixed on-chain gas estimate avoided per toll.
var DefaultGasSavedPerToll = decimal.RequireFromString("2.50")

// Config holds ledger configuration.
type Config struct {
	// Decimals is the settlement asset precision. Default: 6.
	Decimals int32
	// Duration sets EndDate relative to StartDate. Default: 30 days.
	Duration time.Duration
	// GasSavedPerToll is added to GasSaved for every confirmed toll. Default: 2.50.
	GasSavedPerToll decimal.Decimal
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Ledger owns the single live Session of a client process.
// All mutation goes through its methods, serialized by one mutex;
// callers only ever receive copies.
type Ledger struct {
	mu       sync.RWMutex
	current  *Session
	decimals int32
	duration time.Duration
	gas      decimal.Decimal
	now      func() time.Time
}

// NewLedger creates a Ledger with defaults applied.
func NewLedger(cfg Config) *Ledger {
	l := &Ledger{
		decimals: cfg.Decimals,
		duration: cfg.Duration,
		gas:      cfg.GasSavedPerToll,
		now:      cfg.Now,
	}
	if l.decimals == 0 {
		l.decimals = DefaultDecimals
	}
	if l.duration == 0 {
		l.duration = DefaultDuration
	}
	if l.gas.IsZero() {
		l.gas = DefaultGasSavedPerToll
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// Decimals returns the settlement asset precision.
func (l *Ledger) Decimals() int32 {
	return l.decimals
}

// Open replaces any current session with a new active one whose initial
// deposit and current balance are balanceUnits.
func (l *Ledger) Open(userAddress string, balanceUnits int64) (*Session, error) {
	if balanceUnits < 0 {
		return nil, fmt.Errorf("%w: negative balance %d", ErrInvalidAmount, balanceUnits)
	}

	now := l.now().UTC()
	s := &Session{
		ID:             newSessionID(now),
		ChannelID:      fmt.Sprintf("channel_%d", now.UnixMilli()),
		UserAddress:    userAddress,
		InitialDeposit: balanceUnits,
		CurrentBalance: balanceUnits,
		StartDate:      now,
		EndDate:        now.Add(l.duration),
		Status:         StatusConnecting,
		TotalSpent:     decimal.Zero,
		GasSaved:       decimal.Zero,
	}
	if err := transition(s, StatusActive); err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.current = s
	l.mu.Unlock()

	return s.Clone(), nil
}

// Current returns a copy of the live session, or nil.
func (l *Ledger) Current() *Session {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current.Clone()
}

// CheckFunds verifies that an active session can cover feeUnits and
// returns a copy of it. Equality is allowed.
func (l *Ledger) CheckFunds(feeUnits int64) (*Session, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.current.IsActive() {
		return nil, ErrNoActiveSession
	}
	if l.current.CurrentBalance < feeUnits {
		return l.current.Clone(), fmt.Errorf("%w: balance %d < fee %d",
			ErrInsufficientBalance, l.current.CurrentBalance, feeUnits)
	}
	return l.current.Clone(), nil
}

// ApplyToll records one confirmed toll against sessionID. Every field
// changes together or none does.
func (l *Ledger) ApplyToll(sessionID string, feeUnits int64) (*Session, error) {
	if feeUnits < 0 {
		return nil, fmt.Errorf("%w: negative fee %d", ErrInvalidAmount, feeUnits)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.current
	if !s.IsActive() {
		return nil, ErrNoActiveSession
	}
	if s.ID != sessionID {
		return nil, ErrSessionReplaced
	}
	if s.CurrentBalance < feeUnits {
		return s.Clone(), fmt.Errorf("%w: balance %d < fee %d", ErrInsufficientBalance, s.CurrentBalance, feeUnits)
	}

	s.CurrentBalance -= feeUnits
	s.TollsPaid++
	s.TotalSpent = s.TotalSpent.Add(FromUnits(feeUnits, l.decimals))
	s.GasSaved = s.GasSaved.Add(l.gas)

	return s.Clone(), nil
}

// Close marks the live session closed. The closed session stays readable
// through Current until Clear or the next Open.
func (l *Ledger) Close() (*Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current == nil {
		return nil, ErrNoActiveSession
	}
	if err := transition(l.current, StatusClosed); err != nil {
		return l.current.Clone(), err
	}
	return l.current.Clone(), nil
}

// Fail moves the live session to the error state and returns a copy of it.
// It returns nil when there is no session or the session is already closed
// or failed.
func (l *Ledger) Fail() *Session {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current == nil || l.current.Status == StatusError {
		return nil
	}
	if err := transition(l.current, StatusError); err != nil {
		return nil
	}
	return l.current.Clone()
}

// Clear drops the live session.
func (l *Ledger) Clear() {
	l.mu.Lock()
	l.current = nil
	l.mu.Unlock()
}

func transition(s *Session, next Status) error {
	if !s.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, next)
	}
	s.Status = next
	return nil
}

func newSessionID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("session_%d_%s", now.UnixMilli(), suffix)
}
