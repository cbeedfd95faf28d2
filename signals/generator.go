// Package signals maps post-propagation criticality into discrete
// trading-style signals for chains and locations.
package signals

import (
	"math"
	"time"

	"review-pulse/config"
)

// Signal values
const (
	SignalStrengthen = "STRENGTHEN"
	SignalWeaken     = "WEAKEN"
	SignalHold       = "HOLD"
)

// Target kinds
const (
	TargetChain    = "CHAIN"
	TargetLocation = "LOCATION"
)

// floorConfidence is reported when there is not enough data for a
// verdict; a HOLD at this confidence means "no idea yet", not "all
// clear".
const floorConfidence = 0.05

// TradingSignal is one generated signal.
type TradingSignal struct {
	Target        string    `json:"target"`
	TargetKind    string    `json:"target_kind"`
	Signal        string    `json:"signal"`
	Confidence    float64   `json:"confidence"`
	Criticality   float64   `json:"criticality"`
	Trend         float64   `json:"trend"`
	Corroborating int       `json:"corroborating"`
	TotalMembers  int       `json:"total_members"`
	Evaluable     bool      `json:"evaluable"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// Generator turns criticality plus trend direction into signals.
type Generator struct {
	cfg config.EngineConfig
}

// NewGenerator creates a signal generator
func NewGenerator(cfg config.EngineConfig) *Generator {
	return &Generator{cfg: cfg}
}

// Input carries everything a signal decision needs.
type Input struct {
	Target        string
	TargetKind    string  // TargetChain or TargetLocation
	Criticality   float64 // post-propagation score in [0,1]
	Trend         float64 // recent rating trend; negative = deteriorating
	Corroborating int     // chain members above the systemic threshold
	TotalMembers  int     // chain size, 1 for single locations
	Evaluable     bool    // false when history is insufficient
}

// Generate maps criticality and trend to a discrete signal.
//
// Below the low threshold the target holds. Above the high threshold
// the trend direction decides: deteriorating sentiment weakens the
// target, improving sentiment strengthens it. The band in between holds
// with confidence rising toward the high threshold. Insufficient data
// always yields a floor-confidence HOLD rather than an error.
func (g *Generator) Generate(in Input) TradingSignal {
	sig := TradingSignal{
		Target:        in.Target,
		TargetKind:    in.TargetKind,
		Signal:        SignalHold,
		Criticality:   in.Criticality,
		Trend:         in.Trend,
		Corroborating: in.Corroborating,
		TotalMembers:  in.TotalMembers,
		Evaluable:     in.Evaluable,
		GeneratedAt:   time.Now(),
	}

	if !in.Evaluable {
		sig.Confidence = floorConfidence
		return sig
	}

	switch {
	case in.Criticality < g.cfg.LowThreshold:
		sig.Signal = SignalHold
	case in.Criticality >= g.cfg.HighThreshold && in.Trend < 0:
		sig.Signal = SignalWeaken
	case in.Criticality >= g.cfg.HighThreshold && in.Trend > 0:
		sig.Signal = SignalStrengthen
	default:
		// Elevated but not decisive, or decisive with a flat trend
		sig.Signal = SignalHold
	}

	sig.Confidence = g.confidence(in)
	return sig
}

// confidence grows monotonically with criticality and, for chain-level
// signals, with the share of corroborating members.
func (g *Generator) confidence(in Input) float64 {
	conf := in.Criticality

	if in.TargetKind == TargetChain && in.TotalMembers > 0 {
		agreement := float64(in.Corroborating) / float64(in.TotalMembers)
		// Half the weight on the score itself, half on breadth of
		// agreement across the chain.
		conf = 0.5*conf + 0.5*conf*agreement + 0.25*agreement
	}

	return math.Min(1, math.Max(floorConfidence, conf))
}
