package signals

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// #region schema

const decisionSchema = `
CREATE TABLE IF NOT EXISTS decision_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	action      TEXT NOT NULL,
	signal_id   TEXT NOT NULL,
	signal_json TEXT,
	created_at  TEXT NOT NULL
);
`

// #endregion schema

// #region decision-action

// DecisionAction tags a decision log entry.
type DecisionAction string

const (
	ActionSignalActivated DecisionAction = "signal_activated"
	ActionSignalExtended  DecisionAction = "signal_extended"
	ActionSignalExpired   DecisionAction = "signal_expired"
	ActionSignalRevoked   DecisionAction = "signal_revoked"
)

// #endregion decision-action

// #region decision-record

// DecisionRecord is one row of the append-only signal decision log.
// The plan generator reads recent records to detect signal churn.
type DecisionRecord struct {
	Action    DecisionAction `json:"action"`
	SignalID  string         `json:"signal_id"`
	Signal    *ControlSignal `json:"signal,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// #endregion decision-record

// #region decision-log

// DecisionLog persists engine decisions to the decision_log table.
type DecisionLog struct {
	db *sql.DB
}

// NewDecisionLog runs the migration and returns the log.
func NewDecisionLog(db *sql.DB) (*DecisionLog, error) {
	if _, err := db.Exec(decisionSchema); err != nil {
		return nil, fmt.Errorf("migrate decision log: %w", err)
	}
	return &DecisionLog{db: db}, nil
}

// Append writes one decision record.
func (l *DecisionLog) Append(rec DecisionRecord) error {
	var signalJSON interface{}
	if rec.Signal != nil {
		data, err := json.Marshal(rec.Signal)
		if err != nil {
			return fmt.Errorf("encode signal: %w", err)
		}
		signalJSON = string(data)
	}

	_, err := l.db.Exec(
		`INSERT INTO decision_log (action, signal_id, signal_json, created_at) VALUES (?, ?, ?, ?)`,
		string(rec.Action), rec.SignalID, signalJSON, rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}

// Recent returns the most recent records, oldest first.
func (l *DecisionLog) Recent(limit int) ([]DecisionRecord, error) {
	rows, err := l.db.Query(
		`SELECT action, signal_id, signal_json, created_at FROM decision_log
		 ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var records []DecisionRecord
	for rows.Next() {
		var rec DecisionRecord
		var action, createdStr string
		var signalJSON sql.NullString
		if err := rows.Scan(&action, &rec.SignalID, &signalJSON, &createdStr); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		rec.Action = DecisionAction(action)
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		if signalJSON.Valid {
			var sig ControlSignal
			if err := json.Unmarshal([]byte(signalJSON.String), &sig); err == nil {
				rec.Signal = &sig
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// #endregion decision-log
