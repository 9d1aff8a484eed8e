package apply

import (
	"fmt"
	"math"
)

// #region param-type

// ParamType is the declared type of a whitelisted parameter.
type ParamType string

const (
	TypeInt   ParamType = "int"
	TypeFloat ParamType = "float"
)

// #endregion param-type

// #region param-spec

// ParamSpec bounds one whitelisted parameter.
type ParamSpec struct {
	Type        ParamType `json:"type"`
	Min         float64   `json:"min"`
	Max         float64   `json:"max"`
	Description string    `json:"description"`
}

// #endregion param-spec

// #region whitelist

// Whitelist is the fixed set of parameters sanctioned execution may touch.
// Anything not listed, or listed but out of range or wrong type, is rejected
// at application time regardless of approval.
type Whitelist map[string]ParamSpec

// DefaultWhitelist returns the standard parameter set.
func DefaultWhitelist() Whitelist {
	return Whitelist{
		// Trading parameters
		"confidence_threshold": {
			Type: TypeFloat, Min: 0.60, Max: 0.90,
			Description: "Confidence threshold for predictions",
		},
		"max_predictions": {
			Type: TypeInt, Min: 5, Max: 200,
			Description: "Maximum number of predictions per session",
		},

		// Control signal TTLs (seconds)
		"ttl_short": {
			Type: TypeInt, Min: 1800, Max: 3600,
			Description: "TTL for short-lived control signals (seconds)",
		},
		"ttl_medium": {
			Type: TypeInt, Min: 3600, Max: 7200,
			Description: "TTL for medium-lived control signals (seconds)",
		},
		"ttl_long": {
			Type: TypeInt, Min: 7200, Max: 14400,
			Description: "TTL for long-lived control signals (seconds)",
		},

		// API retry
		"api_retry_count": {
			Type: TypeInt, Min: 1, Max: 5,
			Description: "Number of API retry attempts",
		},
		"api_timeout_ms": {
			Type: TypeInt, Min: 5000, Max: 30000,
			Description: "API request timeout (milliseconds)",
		},

		// Fallback thresholds
		"ui_fallback_threshold": {
			Type: TypeInt, Min: 3, Max: 10,
			Description: "Max UI fallbacks before alert",
		},
	}
}

// #endregion whitelist

// #region validate

// Validate checks one parameter against the whitelist: the name must be
// listed, the value must match the declared type, and it must sit in
// [min, max].
func (w Whitelist) Validate(name string, value float64) error {
	spec, ok := w[name]
	if !ok {
		return fmt.Errorf("parameter %q not in whitelist", name)
	}
	// NaN compares false against both bounds, so reject it explicitly.
	if math.IsNaN(value) {
		return fmt.Errorf("parameter %q value is NaN", name)
	}
	if spec.Type == TypeInt && math.Trunc(value) != value {
		return fmt.Errorf("parameter %q expects an integer, got %v", name, value)
	}
	if value < spec.Min {
		return fmt.Errorf("parameter %q value %v below minimum %v", name, value, spec.Min)
	}
	if value > spec.Max {
		return fmt.Errorf("parameter %q value %v above maximum %v", name, value, spec.Max)
	}
	return nil
}

// ValidateBatch checks a whole change set. Any single failure means the batch
// must not be applied.
func (w Whitelist) ValidateBatch(changes map[string]float64) []error {
	var errs []error
	for name, value := range changes {
		if err := w.Validate(name, value); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// #endregion validate
