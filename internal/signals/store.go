package signals

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// #region schema

const signalSchema = `
CREATE TABLE IF NOT EXISTS control_signals (
	signal_id  TEXT PRIMARY KEY,
	attractor  TEXT NOT NULL,
	type       TEXT NOT NULL,
	active     INTEGER NOT NULL,
	expires_at TEXT NOT NULL,
	payload    TEXT NOT NULL
);
`

// #endregion schema

// #region signal-store

// SignalStore persists control signals so TTLs span process restarts: the
// cycle driver runs once per session, and a hard limit raised in one session
// must still bind the next.
type SignalStore struct {
	db *sql.DB
}

// NewSignalStore runs the migration.
func NewSignalStore(db *sql.DB) (*SignalStore, error) {
	if _, err := db.Exec(signalSchema); err != nil {
		return nil, fmt.Errorf("migrate signals: %w", err)
	}
	return &SignalStore{db: db}, nil
}

// Save upserts one signal's current state.
func (s *SignalStore) Save(sig *ControlSignal) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("encode signal: %w", err)
	}
	active := 0
	if sig.Active {
		active = 1
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO control_signals (signal_id, attractor, type, active, expires_at, payload)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sig.ID, string(sig.Attractor), string(sig.Type), active,
		sig.ExpiresAt.Format(time.RFC3339Nano), string(payload),
	)
	if err != nil {
		return fmt.Errorf("save signal %s: %w", sig.ID, err)
	}
	return nil
}

// LoadActive returns the signals that are still live at now.
func (s *SignalStore) LoadActive(now time.Time) ([]*ControlSignal, error) {
	rows, err := s.db.Query(`SELECT payload FROM control_signals WHERE active = 1`)
	if err != nil {
		return nil, fmt.Errorf("load signals: %w", err)
	}
	defer rows.Close()

	var out []*ControlSignal
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		var sig ControlSignal
		if err := json.Unmarshal([]byte(payload), &sig); err != nil {
			return nil, fmt.Errorf("decode signal: %w", err)
		}
		if sig.IsActive(now) {
			out = append(out, &sig)
		}
	}
	return out, rows.Err()
}

// #endregion signal-store
