package signals

import (
	"time"

	"github.com/google/uuid"

	"github.com/grail-labs/overlord/internal/risk"
)

// #region signal-type

// SignalType enumerates the control signal categories, from observation-only
// up to hard execution limits.
type SignalType string

const (
	// Observation only
	SignalReadOnly SignalType = "read_only"
	SignalLogOnly  SignalType = "log_only"

	// Soft limits
	SignalSoftLimit      SignalType = "soft_limit"      // warn and continue
	SignalExecutionGuard SignalType = "execution_guard" // check before acting

	// Hard limits
	SignalHardLimit     SignalType = "hard_limit"     // block the operation
	SignalModeDowngrade SignalType = "mode_downgrade" // live → demo
	SignalEarlyExit     SignalType = "early_exit"     // finish with explanation
)

// #endregion signal-type

// #region control-signal

// ControlSignal is a time-bounded, sanctioned influence on execution.
// It changes flags and limits, never code.
type ControlSignal struct {
	ID         string         `json:"id"`
	Type       SignalType     `json:"type"`
	Attractor  risk.Attractor `json:"attractor"`
	Reason     string         `json:"reason"`
	Action     string         `json:"action"`
	CreatedAt  time.Time      `json:"created_at"`
	ExpiresAt  time.Time      `json:"expires_at"`
	Reversible bool           `json:"reversible"`
	Active     bool           `json:"active"`
}

// NewControlSignal creates an active, reversible signal with the given TTL.
func NewControlSignal(sigType SignalType, attractor risk.Attractor, reason, action string, ttl time.Duration, now time.Time) *ControlSignal {
	return &ControlSignal{
		ID:         "sig_" + uuid.New().String(),
		Type:       sigType,
		Attractor:  attractor,
		Reason:     reason,
		Action:     action,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		Reversible: true,
		Active:     true,
	}
}

// IsExpired reports whether the TTL has elapsed.
func (s *ControlSignal) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// IsActive reports whether the signal is live: not revoked and not expired.
func (s *ControlSignal) IsActive(now time.Time) bool {
	return s.Active && !s.IsExpired(now)
}

// Revoke deactivates the signal. Only reversible signals may be revoked;
// the return reports whether the revocation took effect.
func (s *ControlSignal) Revoke() bool {
	if !s.Reversible {
		return false
	}
	s.Active = false
	return true
}

// #endregion control-signal

// #region ttl-table

// TTLTable holds the three signal lifetimes. The values come from the live
// parameter configuration so an applied TTL-tuning plan changes engine
// behavior on the next cycle.
type TTLTable struct {
	Short  time.Duration
	Medium time.Duration
	Long   time.Duration
}

// DefaultTTLTable matches the default parameter configuration.
func DefaultTTLTable() TTLTable {
	return TTLTable{
		Short:  30 * time.Minute,
		Medium: time.Hour,
		Long:   2 * time.Hour,
	}
}

// #endregion ttl-table

// #region params

// Params supplies the live tunable values the engine consults every cycle.
type Params interface {
	TTL() TTLTable
	ConfidenceThreshold() float64
}

// StaticParams is a fixed Params implementation for tests and defaults.
type StaticParams struct {
	Table      TTLTable
	Confidence float64
}

func (p StaticParams) TTL() TTLTable                { return p.Table }
func (p StaticParams) ConfidenceThreshold() float64 { return p.Confidence }

// DefaultParams returns the static defaults.
func DefaultParams() StaticParams {
	return StaticParams{Table: DefaultTTLTable(), Confidence: 0.70}
}

// #endregion params
