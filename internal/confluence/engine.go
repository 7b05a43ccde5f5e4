package confluence

import (
	"fmt"
	"math"

	"crypto-trading-engine/internal/market"
	"crypto-trading-engine/internal/signal"
)

// Engine scores candidates by requiring agreement between order-book
// pressure, tape delta and a weighted multi-timeframe vote.
type Engine struct {
	// Weights per timeframe (each profile sums to 1.0)
	trendWeights map[market.Timeframe]float64
	scalpWeights map[market.Timeframe]float64

	voteMargin     float64 // minimum weight gap for a timeframe verdict
	signalMinLevel float64 // |imbalance| / |tape| below this reads neutral
	maxBonusTotal  float64 // hard cap on additive confirmations
}

// NewEngine creates an engine with default weights
func NewEngine() *Engine {
	return &Engine{
		trendWeights: map[market.Timeframe]float64{
			market.Timeframe1m:  0.05,
			market.Timeframe5m:  0.10,
			market.Timeframe15m: 0.15,
			market.Timeframe1h:  0.25, // swing timeframes dominate
			market.Timeframe4h:  0.30,
			market.Timeframe1d:  0.15,
		},
		scalpWeights: map[market.Timeframe]float64{
			market.Timeframe1m:  0.30, // entry timeframes dominate
			market.Timeframe5m:  0.25,
			market.Timeframe15m: 0.20,
			market.Timeframe1h:  0.15,
			market.Timeframe4h:  0.07,
			market.Timeframe1d:  0.03,
		},
		voteMargin:     0.15,
		signalMinLevel: 0.10,
		maxBonusTotal:  0.20,
	}
}

// Evaluate scores one candidate. It is deterministic: identical inputs
// always produce identical results.
func (e *Engine) Evaluate(in Input) Result {
	bd := Breakdown{Reasoning: make([]string, 0, 8)}

	// 1. Weighted timeframe vote
	weights := e.trendWeights
	if in.Mode == ModeScalp {
		weights = e.scalpWeights
	}
	for _, v := range in.Votes {
		w, ok := weights[v.Timeframe]
		if !ok {
			continue
		}
		strength := v.Strength
		if strength <= 0 {
			strength = 1.0
		}
		switch v.Direction {
		case signal.Long:
			bd.LongWeight += w * strength
		case signal.Short:
			bd.ShortWeight += w * strength
		}
	}

	tfVerdict := signal.Neutral
	gap := bd.LongWeight - bd.ShortWeight
	switch {
	case gap >= e.voteMargin:
		tfVerdict = signal.Long
	case gap <= -e.voteMargin:
		tfVerdict = signal.Short
	}
	bd.TimeframeVerdict = string(tfVerdict)

	// Dead heat between sides is never tradeable, regardless of what the
	// order book says
	if bd.LongWeight > 0 && bd.LongWeight == bd.ShortWeight {
		bd.Reasoning = append(bd.Reasoning, "Timeframe votes split evenly")
		return Result{
			Direction:  signal.Neutral,
			Confidence: signal.MinConfidence + 0.03,
			Confluence: false,
			Actionable: false,
			Breakdown:  bd,
		}
	}

	// 2. Order book and tape verdicts
	obVerdict := directionOf(in.OrderBookImbalance, e.signalMinLevel)
	tapeVerdict := directionOf(in.TapeDelta, e.signalMinLevel)
	bd.ImbalanceVerdict = string(obVerdict)
	bd.TapeVerdict = string(tapeVerdict)

	// 3. Three-way confluence check
	confluent := tfVerdict != signal.Neutral &&
		obVerdict == tfVerdict && tapeVerdict == tfVerdict

	direction := tfVerdict
	if direction == signal.Neutral {
		direction = majority(obVerdict, tapeVerdict)
	}

	if direction == signal.Neutral {
		bd.Reasoning = append(bd.Reasoning, "No directional agreement")
		return Result{
			Direction:  signal.Neutral,
			Confidence: signal.MinConfidence,
			Confluence: false,
			Actionable: false,
			Breakdown:  bd,
		}
	}

	// 4. Base confidence
	if confluent {
		agreement := (math.Abs(in.OrderBookImbalance) + math.Abs(in.TapeDelta)) / 2
		bd.BaseConfidence = 0.62 + 0.25*agreement
		if bd.BaseConfidence > 0.78 {
			bd.BaseConfidence = 0.78
		}
		bd.Reasoning = append(bd.Reasoning,
			fmt.Sprintf("Full confluence %s (imbalance %.2f, tape %.2f)",
				direction, in.OrderBookImbalance, in.TapeDelta))
	} else {
		// Partial agreement stays near the floor; the threshold filter
		// upstream decides whether it is worth anything
		bd.BaseConfidence = 0.50
		if tfVerdict != signal.Neutral && (obVerdict == tfVerdict || tapeVerdict == tfVerdict) {
			bd.BaseConfidence = 0.55
		}
		bd.Reasoning = append(bd.Reasoning, "Partial agreement only")
	}

	confidence := bd.BaseConfidence

	// 5. Additive confirmations (confirmed setups only, hard capped)
	if confluent {
		bd.AlignedTimeframes = alignedCount(in.Votes, direction)
		if bd.AlignedTimeframes >= 5 {
			bd.BonusRaw += 0.06
			bd.Reasoning = append(bd.Reasoning, "Broad timeframe alignment")
		} else if bd.AlignedTimeframes >= 4 {
			bd.BonusRaw += 0.04
		}
		if in.PatternConfirmed {
			bd.BonusRaw += 0.05
			bd.Reasoning = append(bd.Reasoning, "Pattern confirmation")
		}
		if in.IndicatorConfirmed {
			bd.BonusRaw += 0.04
			bd.Reasoning = append(bd.Reasoning, "Indicator confirmation")
		}
		if in.ClusterDeltaAligned {
			bd.BonusRaw += 0.04
			bd.Reasoning = append(bd.Reasoning, "Cluster delta aligned")
		}
		if in.AbsorptionDetected {
			bd.BonusRaw += 0.05
			bd.Reasoning = append(bd.Reasoning, "Absorption at level")
		}
		if in.IcebergDetected {
			bd.BonusRaw += 0.04
			bd.Reasoning = append(bd.Reasoning, "Iceberg orders detected")
		}
		bd.BonusApplied = math.Min(bd.BonusRaw, e.maxBonusTotal)
		confidence += bd.BonusApplied
	}

	// 6. Subtractive context
	if in.HigherTimeframeTrend != signal.Neutral && in.HigherTimeframeTrend != direction {
		bd.Penalty += 0.07
		bd.Reasoning = append(bd.Reasoning, "Against higher-timeframe trend")
	}
	if direction == signal.Short && in.RecentMovePct <= -sharpMovePct {
		bd.Penalty += 0.05
		bd.Reasoning = append(bd.Reasoning,
			fmt.Sprintf("Chasing a %.1f%% drop", in.RecentMovePct))
	}
	if direction == signal.Long && in.RecentMovePct >= sharpMovePct {
		bd.Penalty += 0.05
		bd.Reasoning = append(bd.Reasoning,
			fmt.Sprintf("Chasing a %.1f%% rally", in.RecentMovePct))
	}
	if in.LowLiquiditySession {
		bd.Penalty += 0.04
		bd.Reasoning = append(bd.Reasoning, "Low-liquidity session")
	}
	if in.FalseBreakoutRisk {
		bd.Penalty += 0.06
		bd.Reasoning = append(bd.Reasoning, "False breakout risk")
	}
	confidence -= bd.Penalty

	return Result{
		Direction:  direction,
		Confidence: signal.ClampConfidence(confidence),
		Confluence: confluent,
		Actionable: confluent,
		Breakdown:  bd,
	}
}

// sharpMovePct is the close-to-close move that marks an entry as chasing
const sharpMovePct = 3.0

func directionOf(v, minLevel float64) signal.Direction {
	switch {
	case v >= minLevel:
		return signal.Long
	case v <= -minLevel:
		return signal.Short
	default:
		return signal.Neutral
	}
}

// majority breaks the fallback direction out of the two flow signals when the
// timeframe vote is inconclusive
func majority(a, b signal.Direction) signal.Direction {
	if a == b {
		return a
	}
	if a == signal.Neutral {
		return b
	}
	if b == signal.Neutral {
		return a
	}
	return signal.Neutral
}

func alignedCount(votes []TimeframeVote, dir signal.Direction) int {
	n := 0
	for _, v := range votes {
		if v.Direction == dir {
			n++
		}
	}
	return n
}
