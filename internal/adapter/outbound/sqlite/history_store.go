// Package sqlite provides a persistent toll history store on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/tollgate-labs/tollgate/internal/domain/toll"
)

const schema = `
CREATE TABLE IF NOT EXISTS toll_transactions (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT    NOT NULL,
	session_id TEXT    NOT NULL,
	toll_id    TEXT    NOT NULL,
	name       TEXT    NOT NULL,
	fee        TEXT    NOT NULL,
	ts_ms      INTEGER NOT NULL,
	lat        REAL    NOT NULL DEFAULT 0,
	lng        REAL    NOT NULL DEFAULT 0,
	road_id    TEXT    NOT NULL DEFAULT '',
	settled    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_toll_transactions_session ON toll_transactions (session_id, seq);
`

// HistoryStore implements toll.HistoryStore on a SQLite database.
type HistoryStore struct {
	db    *sql.DB
	limit int
}

// OpenHistoryStore opens (or creates) the database at path and keeps at
// most limit transactions per session. A limit <= 0 uses toll.DefaultHistoryLimit.
func OpenHistoryStore(ctx context.Context, path string, limit int) (*HistoryStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// One connection: SQLite serializes writers, and ":memory:" is per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	if limit <= 0 {
		limit = toll.DefaultHistoryLimit
	}
	return &HistoryStore{db: db, limit: limit}, nil
}

// Append records tx and trims the session to the newest limit rows.
func (s *HistoryStore) Append(ctx context.Context, tx toll.Transaction) error {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = dbtx.Rollback() }()

	_, err = dbtx.ExecContext(ctx,
		`INSERT INTO toll_transactions (id, session_id, toll_id, name, fee, ts_ms, lat, lng, road_id, settled)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.SessionID, tx.TollID, tx.Name, tx.Fee.String(), tx.Timestamp.UnixMilli(),
		tx.Location.Lat, tx.Location.Lng, tx.RoadID, tx.Settled)
	if err != nil {
		return fmt.Errorf("insert transaction %s: %w", tx.ID, err)
	}

	_, err = dbtx.ExecContext(ctx,
		`DELETE FROM toll_transactions
		 WHERE session_id = ? AND seq NOT IN (
			SELECT seq FROM toll_transactions WHERE session_id = ? ORDER BY seq DESC LIMIT ?
		 )`,
		tx.SessionID, tx.SessionID, s.limit)
	if err != nil {
		return fmt.Errorf("trim history %s: %w", tx.SessionID, err)
	}
	return dbtx.Commit()
}

// Recent returns up to limit transactions of sessionID, newest first.
func (s *HistoryStore) Recent(ctx context.Context, sessionID string, limit int) ([]toll.Transaction, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, toll_id, name, fee, ts_ms, lat, lng, road_id, settled
		 FROM toll_transactions WHERE session_id = ? ORDER BY seq DESC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []toll.Transaction
	for rows.Next() {
		var (
			tx  toll.Transaction
			fee string
			ts  int64
		)
		if err := rows.Scan(&tx.ID, &tx.SessionID, &tx.TollID, &tx.Name, &fee, &ts,
			&tx.Location.Lat, &tx.Location.Lng, &tx.RoadID, &tx.Settled); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		tx.Fee, err = decimal.NewFromString(fee)
		if err != nil {
			return nil, fmt.Errorf("transaction %s fee: %w", tx.ID, err)
		}
		tx.Timestamp = time.UnixMilli(ts).UTC()
		out = append(out, tx)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *HistoryStore) Close() error {
	return s.db.Close()
}

// Compile-time interface verification.
var _ toll.HistoryStore = (*HistoryStore)(nil)
