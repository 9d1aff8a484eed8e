package report

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// #region schema

const schema = `
CREATE TABLE IF NOT EXISTS reports (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	generated_at TEXT NOT NULL,
	payload      TEXT NOT NULL
);
`

// #endregion schema

// #region store

// Store archives one report per cycle.
type Store struct {
	db *sql.DB
}

// NewStore runs the migration.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate reports: %w", err)
	}
	return &Store{db: db}, nil
}

// Save archives a report.
func (s *Store) Save(r Report) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO reports (generated_at, payload) VALUES (?, ?)`,
		r.GeneratedAt.Format(time.RFC3339Nano), string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

// Latest returns the most recent report, or false when none exist.
func (s *Store) Latest() (Report, bool, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM reports ORDER BY id DESC LIMIT 1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return Report{}, false, nil
	}
	if err != nil {
		return Report{}, false, fmt.Errorf("get report: %w", err)
	}
	var r Report
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return Report{}, false, fmt.Errorf("decode report: %w", err)
	}
	return r, true, nil
}

// #endregion store
