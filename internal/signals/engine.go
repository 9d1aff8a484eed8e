package signals

import (
	"fmt"
	"log"
	"time"

	"github.com/grail-labs/overlord/internal/risk"
)

// #region engine

// Engine converts risk signals into time-bounded control signals and folds
// them into the execution-control snapshot. It is the only writer of
// ExecutionControls; everything else reads.
type Engine struct {
	detector  *risk.Detector
	decisions *DecisionLog
	store     *SignalStore
	params    Params
	now       func() time.Time

	active   []*ControlSignal
	controls ExecutionControls
	lastRisk []risk.Signal
}

// NewEngine wires the engine. decisions may be nil (logging skipped, useful
// in tests that only exercise the state machine).
func NewEngine(detector *risk.Detector, decisions *DecisionLog, params Params) *Engine {
	e := &Engine{
		detector:  detector,
		decisions: decisions,
		params:    params,
		now:       time.Now,
	}
	e.controls = e.baseControls()
	return e
}

// SetClock injects a deterministic clock for tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// AttachStore makes signals durable and rehydrates the active set, so a TTL
// raised in one process still binds the next. Must be called before the first
// cycle.
func (e *Engine) AttachStore(store *SignalStore) error {
	active, err := store.LoadActive(e.now())
	if err != nil {
		return fmt.Errorf("rehydrate signals: %w", err)
	}
	e.store = store
	e.active = active
	e.rebuildControls()
	return nil
}

func (e *Engine) baseControls() ExecutionControls {
	return ExecutionControls{ConfidenceThreshold: e.params.ConfidenceThreshold()}
}

// #endregion engine

// #region evaluate-and-apply

// EvaluateAndApply runs one control-plane cycle in fixed order: risk
// detection → signal generation → signal application → expiry cleanup →
// decision logging. Returns the rebuilt execution controls.
func (e *Engine) EvaluateAndApply(current map[string]float64) ExecutionControls {
	e.lastRisk = e.detector.CheckRisks(current)

	fresh := e.signalsFor(e.lastRisk)
	e.applySignals(fresh)
	e.cleanupExpired()
	e.rebuildControls()
	e.logActive()

	return e.controls
}

// #endregion evaluate-and-apply

// #region signal-generation

// signalsFor maps risk signals to control signals using the fixed
// severity/attractor table.
func (e *Engine) signalsFor(riskSignals []risk.Signal) []*ControlSignal {
	ttl := e.params.TTL()
	now := e.now()

	var out []*ControlSignal
	for _, rs := range riskSignals {
		switch {
		case rs.Level == risk.LevelHigh && rs.Attractor == risk.AttractorDemoOnlyMode:
			out = append(out, NewControlSignal(SignalHardLimit, rs.Attractor, rs.Message,
				"Force demo mode, block live trading", ttl.Long, now))

		case rs.Level == risk.LevelHigh && rs.Attractor == risk.AttractorSupabaseDown:
			out = append(out, NewControlSignal(SignalSoftLimit, rs.Attractor, rs.Message,
				"Continue without Supabase logging", ttl.Short, now))

		case rs.Level == risk.LevelHigh && rs.Attractor == risk.AttractorPlaywrightInitFail:
			out = append(out, NewControlSignal(SignalModeDowngrade, rs.Attractor, rs.Message,
				"Disable UI fallback, API-only mode", ttl.Medium, now))

		case rs.Level == risk.LevelMedium && rs.Attractor == risk.AttractorAPIScoreDrop:
			out = append(out, NewControlSignal(SignalExecutionGuard, rs.Attractor, rs.Message,
				"Verify API health before operations", ttl.Short, now))

		case rs.Level == risk.LevelMedium && rs.Attractor == risk.AttractorHighUIFallback:
			out = append(out, NewControlSignal(SignalSoftLimit, rs.Attractor, rs.Message,
				"Log excessive UI usage", ttl.Medium, now))

		case rs.Level == risk.LevelMedium && rs.Attractor == risk.AttractorRuntimeSpike:
			out = append(out, NewControlSignal(SignalEarlyExit, rs.Attractor, rs.Message,
				"Reduce prediction count to 5", ttl.Medium, now))

		default:
			out = append(out, NewControlSignal(SignalLogOnly, rs.Attractor, rs.Message,
				"Monitor only", ttl.Short, now))
		}
	}
	return out
}

// #endregion signal-generation

// #region signal-application

// applySignals coalesces fresh signals into the active set. A signal matching
// an active (attractor, type) pair extends that signal's expiry instead of
// duplicating it.
func (e *Engine) applySignals(fresh []*ControlSignal) {
	now := e.now()

	for _, sig := range fresh {
		existing := e.findSignal(sig.Attractor, sig.Type)
		if existing != nil && existing.IsActive(now) {
			existing.ExpiresAt = sig.ExpiresAt
			e.saveSignal(existing)
			e.logDecision(DecisionRecord{
				Action:    ActionSignalExtended,
				SignalID:  existing.ID,
				CreatedAt: now,
			})
			continue
		}

		e.active = append(e.active, sig)
		e.saveSignal(sig)
		log.Printf("[ENGINE] control signal activated: %s for %s", sig.Type, sig.Attractor)
		e.logDecision(DecisionRecord{
			Action:    ActionSignalActivated,
			SignalID:  sig.ID,
			Signal:    sig,
			CreatedAt: now,
		})
	}
}

func (e *Engine) findSignal(attractor risk.Attractor, sigType SignalType) *ControlSignal {
	for _, sig := range e.active {
		if sig.Attractor == attractor && sig.Type == sigType {
			return sig
		}
	}
	return nil
}

// #endregion signal-application

// #region cleanup

// cleanupExpired drops signals whose TTL elapsed. Expiry is lazy: there is no
// timer, only this per-cycle sweep.
func (e *Engine) cleanupExpired() {
	now := e.now()
	kept := e.active[:0]
	for _, sig := range e.active {
		if sig.IsExpired(now) {
			sig.Active = false
			e.saveSignal(sig)
			log.Printf("[ENGINE] signal expired: %s", sig.Attractor)
			e.logDecision(DecisionRecord{
				Action:    ActionSignalExpired,
				SignalID:  sig.ID,
				CreatedAt: now,
			})
			continue
		}
		kept = append(kept, sig)
	}
	e.active = kept
}

// #endregion cleanup

// #region rebuild

// rebuildControls recomputes the snapshot from scratch by folding every
// currently-active signal, so revocations and expiries clear their effects.
func (e *Engine) rebuildControls() {
	now := e.now()
	controls := e.baseControls()
	for _, sig := range e.active {
		controls.applySignal(sig, now)
	}
	e.controls = controls
}

// #endregion rebuild

// #region queries

// Controls returns the current execution-control snapshot.
func (e *Engine) Controls() ExecutionControls {
	return e.controls
}

// RiskSignals returns the risk signals detected by the most recent cycle, so
// callers reporting on the cycle do not rescan the history.
func (e *Engine) RiskSignals() []risk.Signal {
	return e.lastRisk
}

// ActiveSignals returns the signals that are currently live.
func (e *Engine) ActiveSignals() []*ControlSignal {
	now := e.now()
	var out []*ControlSignal
	for _, sig := range e.active {
		if sig.IsActive(now) {
			out = append(out, sig)
		}
	}
	return out
}

// Revoke deactivates a reversible signal by ID and rebuilds the controls.
// Returns false if the signal is unknown or irreversible.
func (e *Engine) Revoke(signalID string) bool {
	for _, sig := range e.active {
		if sig.ID != signalID {
			continue
		}
		if !sig.Revoke() {
			return false
		}
		e.saveSignal(sig)
		e.logDecision(DecisionRecord{
			Action:    ActionSignalRevoked,
			SignalID:  sig.ID,
			CreatedAt: e.now(),
		})
		e.rebuildControls()
		return true
	}
	return false
}

// #endregion queries

// #region logging

func (e *Engine) saveSignal(sig *ControlSignal) {
	if e.store == nil {
		return
	}
	if err := e.store.Save(sig); err != nil {
		log.Printf("[ENGINE] signal store write failed: %v", err)
	}
}

func (e *Engine) logDecision(rec DecisionRecord) {
	if e.decisions == nil {
		return
	}
	if err := e.decisions.Append(rec); err != nil {
		log.Printf("[ENGINE] decision log write failed: %v", err)
	}
}

// logActive reports live signals with remaining TTL.
func (e *Engine) logActive() {
	now := e.now()
	active := e.ActiveSignals()
	if len(active) == 0 {
		return
	}
	log.Printf("[ENGINE] active control signals: %d", len(active))
	for _, sig := range active {
		log.Printf("[ENGINE]   - %s: %s (TTL: %.0fm)",
			sig.Type, sig.Attractor, sig.ExpiresAt.Sub(now).Minutes())
	}
}

// #endregion logging
