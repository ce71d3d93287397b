package toll

import "context"

// DefaultHistoryLimit is how many transactions are kept per session.
const DefaultHistoryLimit = 100

// HistoryStore keeps the most recent transactions of each session.
// Implementations: SQLite (persistent), in-memory (default and tests).
type HistoryStore interface {
	// Append records a transaction and trims the session's history to the
	// store's limit, dropping the oldest entries.
	Append(ctx context.Context, tx Transaction) error

	// Recent returns up to limit transactions of a session, newest first.
	// A limit <= 0 returns everything kept.
	Recent(ctx context.Context, sessionID string, limit int) ([]Transaction, error)
}
