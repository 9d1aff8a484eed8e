package signals

import "time"

// #region execution-controls

// ExecutionControls is the derived operational snapshot the external agent
// consults before risky actions. Allowed influence: modes, thresholds,
// component toggles, early exit. Never code, architecture, or the baseline.
type ExecutionControls struct {
	// Modes
	ForceDemoMode     bool `json:"force_demo_mode"`
	BlockLiveMode     bool `json:"block_live_mode"`
	DisableUIFallback bool `json:"disable_ui_fallback"`

	// Thresholds
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	MaxPredictions      int     `json:"max_predictions"` // 0 = no cap

	// Early exit
	EarlyExit       bool   `json:"early_exit"`
	EarlyExitReason string `json:"early_exit_reason,omitempty"`
}

// #endregion execution-controls

// #region apply-signal

// applySignal folds one active control signal into the snapshot.
func (c *ExecutionControls) applySignal(sig *ControlSignal, now time.Time) {
	if !sig.IsActive(now) {
		return
	}

	switch sig.Type {
	case SignalHardLimit:
		c.ForceDemoMode = true
		c.BlockLiveMode = true

	case SignalModeDowngrade:
		c.DisableUIFallback = true

	case SignalEarlyExit:
		c.EarlyExit = true
		c.EarlyExitReason = "Runtime exceeded baseline threshold"
		if c.MaxPredictions == 0 || c.MaxPredictions > earlyExitPredictionCap {
			c.MaxPredictions = earlyExitPredictionCap
		}

	case SignalExecutionGuard, SignalSoftLimit, SignalLogOnly, SignalReadOnly:
		// Guards and soft limits are surfaced through guard queries and the
		// decision log; they set no flags here.
	}
}

// earlyExitPredictionCap bounds remaining work once an early exit fires.
const earlyExitPredictionCap = 5

// #endregion apply-signal

// #region should-exit

// ShouldExitEarly reports whether the agent must wind down, with the reason.
func (c ExecutionControls) ShouldExitEarly() (bool, string) {
	if c.EarlyExit {
		return true, c.EarlyExitReason
	}
	return false, ""
}

// #endregion should-exit
