package service

// Outcome labels for Recorder.
const (
	OutcomeLost        = "lost"
	OutcomeReconnected = "reconnected"
	OutcomeResumed     = "resumed"
	OutcomeReauthed    = "reauthenticated"
	OutcomeExhausted   = "exhausted"

	TollStatusPaid         = "paid"
	TollStatusDuplicate    = "duplicate"
	TollStatusInsufficient = "insufficient_balance"
	TollStatusRejected     = "rejected"
	TollStatusFailed       = "failed"
)

// Recorder receives service-level measurements. The HTTP adapter's
// Prometheus metrics implement it.
type Recorder interface {
	// Reconnect counts a connection lifecycle outcome.
	Reconnect(outcome string)
	// TollPaid counts a payToll result by status.
	TollPaid(status string)
	// SessionBalance reports the live balance in smallest units.
	SessionBalance(units int64)
}

type nopRecorder struct{}

func (nopRecorder) Reconnect(string)     {}
func (nopRecorder) TollPaid(string)      {}
func (nopRecorder) SessionBalance(int64) {}
