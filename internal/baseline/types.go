package baseline

import "time"

// #region metric-snapshot

// MetricSnapshot is one session's worth of named metric values.
// Snapshots are append-only: once committed they are never edited.
type MetricSnapshot struct {
	SessionID  string             `json:"session_id"`
	RecordedAt time.Time          `json:"recorded_at"`
	Metrics    map[string]float64 `json:"metrics"`
}

// #endregion metric-snapshot

// #region metric-stats

// MetricStats holds rolling statistics for one tracked metric across all
// committed snapshots that defined it.
type MetricStats struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Stdev float64 `json:"stdev"`
}

// #endregion metric-stats

// #region baseline

// Baseline is the derived, read-only aggregate over the snapshot history.
// It is recomputed on demand and has no independent lifecycle.
type Baseline struct {
	TotalSessions   int                    `json:"total_sessions"`
	Metrics         map[string]MetricStats `json:"metrics"`
	CollectionStart time.Time              `json:"collection_start"`
	CollectionEnd   time.Time              `json:"collection_end"`
}

// Stats returns the statistics for one metric.
func (b Baseline) Stats(name string) (MetricStats, bool) {
	s, ok := b.Metrics[name]
	return s, ok
}

// Means flattens the baseline to metric → mean, the shape drift detection
// compares against.
func (b Baseline) Means() map[string]float64 {
	out := make(map[string]float64, len(b.Metrics))
	for name, s := range b.Metrics {
		out[name] = s.Mean
	}
	return out
}

// #endregion baseline
