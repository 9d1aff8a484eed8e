package verify

import "sort"

// #region gain-class

// GainClass classifies how an applied change performed against the gain its
// plan promised.
type GainClass string

const (
	GainSuccess  GainClass = "success"
	GainPartial  GainClass = "partial_success"
	GainNoEffect GainClass = "no_effect"
	GainNegative GainClass = "negative"
)

// #endregion gain-class

// #region metric-delta

// MetricDelta is the measured movement of one metric the plan promised to
// improve.
type MetricDelta struct {
	Metric      string  `json:"metric"`
	Expected    float64 `json:"expected"`
	PreValue    float64 `json:"pre_value"`
	PostValue   float64 `json:"post_value"`
	GainPercent float64 `json:"gain_percent"`
}

// GainResult aggregates the per-metric deltas into a single classification.
type GainResult struct {
	Class          GainClass     `json:"class"`
	AveragePercent float64       `json:"average_percent"`
	Deltas         []MetricDelta `json:"deltas,omitempty"`
}

// #endregion metric-delta

// #region validate-gain

// ValidateGain compares post-change metrics against the plan's expected
// metrics. Gain is signed toward the promised direction: when the plan
// expects a metric to drop (fallback counts), a decrease counts as positive
// gain. Metrics missing from the post-change observation are skipped.
// strongGainPercent is the average gain above which the change classifies as
// a full success; any average below zero classifies as negative.
func ValidateGain(expected, pre, post map[string]float64, strongGainPercent float64) GainResult {
	names := make([]string, 0, len(expected))
	for name := range expected {
		names = append(names, name)
	}
	sort.Strings(names)

	var deltas []MetricDelta
	var total float64
	for _, name := range names {
		postVal, ok := post[name]
		if !ok {
			continue
		}
		preVal := pre[name]

		var gain float64
		switch {
		case preVal == 0:
			gain = 0
		case expected[name] < preVal:
			// Lower is better for this metric.
			gain = (preVal - postVal) / preVal * 100
		default:
			gain = (postVal - preVal) / preVal * 100
		}

		deltas = append(deltas, MetricDelta{
			Metric:      name,
			Expected:    expected[name],
			PreValue:    preVal,
			PostValue:   postVal,
			GainPercent: gain,
		})
		total += gain
	}

	res := GainResult{Deltas: deltas}
	if len(deltas) > 0 {
		res.AveragePercent = total / float64(len(deltas))
	}
	switch {
	case res.AveragePercent > strongGainPercent:
		res.Class = GainSuccess
	case res.AveragePercent > 0:
		res.Class = GainPartial
	case res.AveragePercent == 0:
		res.Class = GainNoEffect
	default:
		res.Class = GainNegative
	}
	return res
}

// #endregion validate-gain
