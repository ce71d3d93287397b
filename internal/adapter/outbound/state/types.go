// Package state persists session snapshots in a local JSON file.
//
// The file survives restarts, so the last session of a process can be
// inspected after it exits. This package provides atomic writes, file
// locking, and backup functionality.
package state

import (
	"time"

	"github.com/tollgate-labs/tollgate/internal/domain/session"
)

// SchemaVersion is the current state file schema.
const SchemaVersion = "1"

// File is the top-level structure persisted in the state file.
type File struct {
	// Version is the schema version for forward compatibility.
	Version string `json:"version"`

	// Sessions maps session id to its latest snapshot.
	Sessions map[string]*session.Session `json:"sessions"`

	// LastSessionID is the most recently created snapshot.
	LastSessionID string `json:"last_session_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
