package models

import "math"

// Action is what a signal source wants done.
type Action string

const (
	ActionHold Action = "HOLD"
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Signal is the single decision type every source produces.
type Signal struct {
	Action      Action             `json:"action"`
	Confidence  float64            `json:"confidence"`
	RSI         float64            `json:"rsi"`
	MACD        float64            `json:"macd"`
	Source      string             `json:"source,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	Diagnostics map[string]float64 `json:"diagnostics,omitempty"`
}

// Hold is the no-op signal.
func Hold(source string) Signal {
	return Signal{Action: ActionHold, Source: source}
}

// Normalize clamps confidence into [0,1] and maps unknown actions to HOLD.
func (s Signal) Normalize() Signal {
	switch s.Action {
	case ActionBuy, ActionSell, ActionHold:
	default:
		s.Action = ActionHold
	}
	if math.IsNaN(s.Confidence) || s.Confidence < 0 {
		s.Confidence = 0
	}
	if s.Confidence > 1 {
		s.Confidence = 1
	}
	return s
}

// Pattern represents a detected price pattern
type Pattern struct {
	Action     Action  // BUY, SELL or HOLD when nothing was found
	Confidence float64 // 0.0 to 1.0
	Name       string  // e.g. "Engulfing", "Hammer"
}
