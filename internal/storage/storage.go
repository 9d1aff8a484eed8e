package storage

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// #region open

// Open opens the control-plane SQLite database with WAL mode enabled.
// Each component package owns its own tables and runs its own migration
// against the returned handle.
func Open(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	return db, nil
}

// #endregion open
