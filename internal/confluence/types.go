// Package confluence implements the deterministic multi-signal scoring engine.
// Evaluate is a pure function of its input: no clocks, no I/O, no randomness.
package confluence

import (
	"crypto-trading-engine/internal/market"
	"crypto-trading-engine/internal/signal"
)

// Mode selects the timeframe weighting profile
type Mode string

const (
	ModeTrend Mode = "trend"    // higher timeframes dominate
	ModeScalp Mode = "scalping" // lower timeframes dominate
)

// TimeframeVote is one timeframe's directional opinion
type TimeframeVote struct {
	Timeframe market.Timeframe
	Direction signal.Direction
	Strength  float64 // 0..1, how decisive the read was
}

// Input carries everything Evaluate needs. All market context is passed in
// explicitly so the same input always yields the same output.
type Input struct {
	Symbol string
	Mode   Mode

	// Core signals
	OrderBookImbalance float64 // [-1, 1], positive = bid pressure
	TapeDelta          float64 // [-1, 1], positive = aggressive buying
	Votes              []TimeframeVote

	// Additive confirmations
	PatternConfirmed    bool
	IndicatorConfirmed  bool
	ClusterDeltaAligned bool
	AbsorptionDetected  bool
	IcebergDetected     bool

	// Subtractive context
	HigherTimeframeTrend signal.Direction
	RecentMovePct        float64 // signed close-to-close move over the lookback window
	LowLiquiditySession  bool
	FalseBreakoutRisk    bool
}

// Breakdown exposes every intermediate figure behind a score
type Breakdown struct {
	LongWeight        float64  `json:"long_weight"`
	ShortWeight       float64  `json:"short_weight"`
	TimeframeVerdict  string   `json:"timeframe_verdict"`
	ImbalanceVerdict  string   `json:"imbalance_verdict"`
	TapeVerdict       string   `json:"tape_verdict"`
	BaseConfidence    float64  `json:"base_confidence"`
	BonusRaw          float64  `json:"bonus_raw"`
	BonusApplied      float64  `json:"bonus_applied"` // capped
	Penalty           float64  `json:"penalty"`
	AlignedTimeframes int      `json:"aligned_timeframes"`
	Reasoning         []string `json:"reasoning"`
}

// Result is the engine's verdict for one candidate
type Result struct {
	Direction  signal.Direction `json:"direction"`
	Confidence float64          `json:"confidence"` // always in [0.45, 0.95]
	Confluence bool             `json:"confluence"` // all three core signals agree
	Actionable bool             `json:"actionable"`
	Breakdown  Breakdown        `json:"breakdown"`
}
