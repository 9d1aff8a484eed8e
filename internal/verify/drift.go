package verify

import (
	"math"
	"sort"
)

// #region drift-severity

// DriftSeverity grades unexpected metric movement after a change.
type DriftSeverity string

const (
	DriftNone        DriftSeverity = "none"
	DriftSignificant DriftSeverity = "significant"
	DriftCritical    DriftSeverity = "critical"
)

// criticalDriftPercent is the absolute movement past which drift is critical
// regardless of the configured tolerance.
const criticalDriftPercent = 20.0

// #endregion drift-severity

// #region metric-drift

// MetricDrift is the measured movement of one metric that the plan did not
// promise to change.
type MetricDrift struct {
	Metric        string        `json:"metric"`
	PreValue      float64       `json:"pre_value"`
	PostValue     float64       `json:"post_value"`
	ChangePercent float64       `json:"change_percent"`
	Severity      DriftSeverity `json:"severity"`
}

// DriftResult carries the worst observed severity plus every metric that
// moved past tolerance.
type DriftResult struct {
	Severity DriftSeverity `json:"severity"`
	Drifts   []MetricDrift `json:"drifts,omitempty"`
}

// #endregion metric-drift

// #region detect-drift

// DetectDrift compares every pre-change metric against its post-change value.
// Metrics named in expected were supposed to move and are excluded. Movement
// above tolerancePercent is significant; above 20% it is critical.
func DetectDrift(pre, post, expected map[string]float64, tolerancePercent float64) DriftResult {
	names := make([]string, 0, len(pre))
	for name := range pre {
		names = append(names, name)
	}
	sort.Strings(names)

	res := DriftResult{Severity: DriftNone}
	for _, name := range names {
		if _, planned := expected[name]; planned {
			continue
		}
		postVal, ok := post[name]
		if !ok {
			continue
		}
		preVal := pre[name]
		if preVal == 0 {
			continue
		}

		change := math.Abs(postVal-preVal) / math.Abs(preVal) * 100
		severity := DriftNone
		switch {
		case change > criticalDriftPercent:
			severity = DriftCritical
		case change > tolerancePercent:
			severity = DriftSignificant
		default:
			continue
		}

		res.Drifts = append(res.Drifts, MetricDrift{
			Metric:        name,
			PreValue:      preVal,
			PostValue:     postVal,
			ChangePercent: change,
			Severity:      severity,
		})
		if severity == DriftCritical || res.Severity == DriftNone {
			res.Severity = severity
		}
	}
	return res
}

// #endregion detect-drift
