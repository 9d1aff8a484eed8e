package baseline

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
)

// #region schema

const schema = `
CREATE TABLE IF NOT EXISTS metric_snapshots (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id   TEXT NOT NULL,
	recorded_at  TEXT NOT NULL,
	metrics_json TEXT NOT NULL
);
`

// #endregion schema

// #region store

// Store accumulates per-session metric snapshots and computes the rolling
// baseline. The current session lives in memory until CommitSession.
type Store struct {
	db      *sql.DB
	current MetricSnapshot
	now     func() time.Time
}

// NewStore runs the snapshot migration and opens a fresh session.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate snapshots: %w", err)
	}
	s := &Store{db: db, now: time.Now}
	s.resetSession()
	return s, nil
}

// NewStoreWithClock is NewStore with an injected clock for tests.
func NewStoreWithClock(db *sql.DB, now func() time.Time) (*Store, error) {
	s, err := NewStore(db)
	if err != nil {
		return nil, err
	}
	s.now = now
	s.resetSession()
	return s, nil
}

func (s *Store) resetSession() {
	s.current = MetricSnapshot{
		SessionID:  uuid.New().String(),
		RecordedAt: s.now().UTC(),
		Metrics:    make(map[string]float64),
	}
}

// #endregion store

// #region record

// Record sets a metric on the current in-memory session snapshot.
func (s *Store) Record(name string, value float64) {
	s.current.Metrics[name] = value
}

// Current returns a copy of the in-memory session snapshot.
func (s *Store) Current() MetricSnapshot {
	out := s.current
	out.Metrics = make(map[string]float64, len(s.current.Metrics))
	for k, v := range s.current.Metrics {
		out.Metrics[k] = v
	}
	return out
}

// #endregion record

// #region commit

// CommitSession appends the current snapshot to the durable history and opens
// a new session. A durability failure is logged, not returned: baseline saves
// are telemetry and must never destabilize the caller.
func (s *Store) CommitSession() {
	metricsJSON, err := json.Marshal(s.current.Metrics)
	if err != nil {
		log.Printf("[BASELINE] failed to encode session %s: %v", s.current.SessionID, err)
		s.resetSession()
		return
	}

	_, err = s.db.Exec(
		`INSERT INTO metric_snapshots (session_id, recorded_at, metrics_json) VALUES (?, ?, ?)`,
		s.current.SessionID,
		s.current.RecordedAt.Format(time.RFC3339Nano),
		string(metricsJSON),
	)
	if err != nil {
		log.Printf("[BASELINE] failed to save session %s: %v", s.current.SessionID, err)
	}
	s.resetSession()
}

// #endregion commit

// #region history

// History returns all committed snapshots in commit order.
func (s *Store) History() ([]MetricSnapshot, error) {
	rows, err := s.db.Query(
		`SELECT session_id, recorded_at, metrics_json FROM metric_snapshots ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []MetricSnapshot
	for rows.Next() {
		var snap MetricSnapshot
		var recordedStr, metricsJSON string
		if err := rows.Scan(&snap.SessionID, &recordedStr, &metricsJSON); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.RecordedAt, _ = time.Parse(time.RFC3339Nano, recordedStr)
		if err := json.Unmarshal([]byte(metricsJSON), &snap.Metrics); err != nil {
			return nil, fmt.Errorf("decode snapshot %s: %w", snap.SessionID, err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// #endregion history

// #region summary

// Summary recomputes the baseline aggregate from the full snapshot history.
// The second return is false while the store is still collecting (no committed
// sessions yet); callers must treat that as "no baseline, no checks".
func (s *Store) Summary() (Baseline, bool) {
	snaps, err := s.History()
	if err != nil {
		log.Printf("[BASELINE] failed to load history: %v", err)
		return Baseline{}, false
	}
	if len(snaps) == 0 {
		return Baseline{}, false
	}

	values := make(map[string][]float64)
	for _, snap := range snaps {
		for name, v := range snap.Metrics {
			values[name] = append(values[name], v)
		}
	}

	b := Baseline{
		TotalSessions:   len(snaps),
		Metrics:         make(map[string]MetricStats, len(values)),
		CollectionStart: snaps[0].RecordedAt,
		CollectionEnd:   snaps[len(snaps)-1].RecordedAt,
	}
	for name, vals := range values {
		b.Metrics[name] = computeStats(vals)
	}
	return b, true
}

func computeStats(vals []float64) MetricStats {
	stats := MetricStats{Count: len(vals), Min: vals[0], Max: vals[0]}
	var sum float64
	for _, v := range vals {
		sum += v
		if v < stats.Min {
			stats.Min = v
		}
		if v > stats.Max {
			stats.Max = v
		}
	}
	stats.Mean = sum / float64(len(vals))

	// Sample stdev needs at least 2 samples, otherwise 0.
	if len(vals) > 1 {
		var sq float64
		for _, v := range vals {
			d := v - stats.Mean
			sq += d * d
		}
		stats.Stdev = math.Sqrt(sq / float64(len(vals)-1))
	}
	return stats
}

// #endregion summary
