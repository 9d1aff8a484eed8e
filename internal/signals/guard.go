package signals

// #region guard

// Guard is the gate-keeper the external agent consults before risky actions.
// All queries are pure reads of the current execution-control snapshot.
type Guard struct {
	engine *Engine
}

// NewGuard creates a guard over the engine's controls.
func NewGuard(engine *Engine) *Guard {
	return &Guard{engine: engine}
}

// #endregion guard

// #region queries

// CanEnterLiveMode reports whether live mode is permitted, with the blocking
// reason when it is not.
func (g *Guard) CanEnterLiveMode() (bool, string) {
	c := g.engine.Controls()
	if c.ForceDemoMode || c.BlockLiveMode {
		return false, "live mode blocked due to demo_only_mode attractor"
	}
	return true, ""
}

// CanUseUIFallback reports whether the UI fallback path is permitted.
func (g *Guard) CanUseUIFallback() (bool, string) {
	if g.engine.Controls().DisableUIFallback {
		return false, "UI fallback disabled due to playwright_fail attractor"
	}
	return true, ""
}

// PredictionLimit returns the active prediction cap, if any.
func (g *Guard) PredictionLimit() (int, bool) {
	c := g.engine.Controls()
	if c.MaxPredictions > 0 {
		return c.MaxPredictions, true
	}
	return 0, false
}

// ConfidenceThreshold returns the effective confidence threshold.
func (g *Guard) ConfidenceThreshold() float64 {
	return g.engine.Controls().ConfidenceThreshold
}

// ShouldExitEarly reports whether the agent must wind down, with the reason.
func (g *Guard) ShouldExitEarly() (bool, string) {
	return g.engine.Controls().ShouldExitEarly()
}

// #endregion queries
