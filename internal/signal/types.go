// Package signal defines the trading-signal and analysis-result types shared
// by the confluence engine, the scheduler and the execution layer.
package signal

import "time"

// Direction is the trade side of a signal
type Direction string

const (
	Long    Direction = "LONG"
	Short   Direction = "SHORT"
	Neutral Direction = "NEUTRAL"
)

// Opposite returns the opposing trade side (NEUTRAL maps to itself)
func (d Direction) Opposite() Direction {
	switch d {
	case Long:
		return Short
	case Short:
		return Long
	default:
		return Neutral
	}
}

// Confidence bounds: every actionable signal carries a confidence inside
// [MinConfidence, MaxConfidence].
const (
	MinConfidence = 0.45
	MaxConfidence = 0.95
)

// ClampConfidence forces a confidence into the allowed band
func ClampConfidence(c float64) float64 {
	if c < MinConfidence {
		return MinConfidence
	}
	if c > MaxConfidence {
		return MaxConfidence
	}
	return c
}

// TradingSignal is a fully specified trade candidate
type TradingSignal struct {
	Symbol           string    `json:"symbol"`
	Direction        Direction `json:"direction"`
	EntryPrice       float64   `json:"entry_price"`
	StopLoss         float64   `json:"stop_loss"`
	TakeProfits      []float64 `json:"take_profits"`
	Confidence       float64   `json:"confidence"` // always in [0.45, 0.95]
	RiskReward       float64   `json:"risk_reward"`
	Timeframe        string    `json:"timeframe"`
	Triggers         []string  `json:"triggers"`
	AIWinProbability *float64  `json:"ai_win_probability,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// AnalysisResult is produced once per (symbol, timeframe, cycle) and is
// immutable after creation.
type AnalysisResult struct {
	Symbol           string         `json:"symbol"`
	Timeframe        string         `json:"timeframe"`
	Signal           *TradingSignal `json:"signal,omitempty"`
	Confluence       bool           `json:"confluence"`
	HigherTrend      Direction      `json:"higher_trend"`   // prevailing 4h direction
	VolatilityPct    float64        `json:"volatility_pct"` // ATR as a percentage of price
	DataInsufficient bool           `json:"data_insufficient"`
	Synthetic        bool           `json:"synthetic"` // built on degraded fallback data
	Reason           string         `json:"reason"`
	AnalyzedAt       time.Time      `json:"analyzed_at"`
}

// Actionable reports whether the result carries a tradeable signal
func (r *AnalysisResult) Actionable() bool {
	return r.Signal != nil &&
		r.Signal.Direction != Neutral &&
		!r.DataInsufficient &&
		!r.Synthetic
}

// ExecutionResult is what the execution collaborator returns. It is a plain
// value: executors never panic and never return Go errors for trade-level
// failures.
type ExecutionResult struct {
	OK           bool    `json:"ok"`
	OrderID      string  `json:"order_id,omitempty"`
	Error        string  `json:"error,omitempty"`
	PositionSize float64 `json:"position_size,omitempty"`
}
