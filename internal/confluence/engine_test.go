package confluence

import (
	"testing"

	"crypto-trading-engine/internal/market"
	"crypto-trading-engine/internal/signal"
)

func allVotes(dir signal.Direction, strength float64) []TimeframeVote {
	votes := make([]TimeframeVote, 0, len(market.AllTimeframes))
	for _, tf := range market.AllTimeframes {
		votes = append(votes, TimeframeVote{Timeframe: tf, Direction: dir, Strength: strength})
	}
	return votes
}

func TestEvaluateFullConfluenceLong(t *testing.T) {
	e := NewEngine()
	res := e.Evaluate(Input{
		Symbol:             "BTCUSDT",
		Mode:               ModeTrend,
		OrderBookImbalance: 0.30,
		TapeDelta:          0.25,
		Votes:              allVotes(signal.Long, 1.0),
	})

	if res.Direction != signal.Long {
		t.Fatalf("direction = %s, want LONG", res.Direction)
	}
	if !res.Confluence {
		t.Fatal("expected full confluence")
	}
	if res.Breakdown.BaseConfidence < 0.65 {
		t.Fatalf("base confidence = %.3f, want >= 0.65 before bonuses", res.Breakdown.BaseConfidence)
	}
}

func TestEvaluateConfidenceAlwaysInBounds(t *testing.T) {
	e := NewEngine()
	inputs := []Input{
		{}, // empty
		{
			OrderBookImbalance: 1.0, TapeDelta: 1.0,
			Votes:               allVotes(signal.Long, 1.0),
			PatternConfirmed:    true,
			IndicatorConfirmed:  true,
			ClusterDeltaAligned: true,
			AbsorptionDetected:  true,
			IcebergDetected:     true,
		},
		{
			OrderBookImbalance: -1.0, TapeDelta: -1.0,
			Votes:                allVotes(signal.Short, 1.0),
			HigherTimeframeTrend: signal.Long,
			RecentMovePct:        -8.0,
			LowLiquiditySession:  true,
			FalseBreakoutRisk:    true,
		},
	}
	for i, in := range inputs {
		res := e.Evaluate(in)
		if res.Confidence < signal.MinConfidence || res.Confidence > signal.MaxConfidence {
			t.Fatalf("input %d: confidence %.3f outside [%.2f, %.2f]",
				i, res.Confidence, signal.MinConfidence, signal.MaxConfidence)
		}
	}
}

func TestEvaluateBonusCap(t *testing.T) {
	e := NewEngine()
	res := e.Evaluate(Input{
		OrderBookImbalance:  0.8,
		TapeDelta:           0.8,
		Votes:               allVotes(signal.Long, 1.0),
		PatternConfirmed:    true,
		IndicatorConfirmed:  true,
		ClusterDeltaAligned: true,
		AbsorptionDetected:  true,
		IcebergDetected:     true,
	})

	if res.Breakdown.BonusRaw <= 0.20 {
		t.Fatalf("test setup should overflow the cap, raw = %.3f", res.Breakdown.BonusRaw)
	}
	if res.Breakdown.BonusApplied > 0.20 {
		t.Fatalf("applied bonus %.3f exceeds the 0.20 cap", res.Breakdown.BonusApplied)
	}
}

func TestEvaluateEqualWeightTie(t *testing.T) {
	e := NewEngine()

	// 15m and 1d carry the same trend weight, so opposing full-strength
	// votes tie exactly
	votes := []TimeframeVote{
		{Timeframe: market.Timeframe15m, Direction: signal.Long, Strength: 1.0},
		{Timeframe: market.Timeframe1d, Direction: signal.Short, Strength: 1.0},
	}

	res := e.Evaluate(Input{
		Mode:               ModeTrend,
		OrderBookImbalance: 0.5,
		TapeDelta:          0.5,
		Votes:              votes,
	})

	if res.Confluence {
		t.Fatal("tied votes must not report confluence")
	}
	if res.Confidence > 0.50 {
		t.Fatalf("tied votes gave confidence %.3f, want <= 0.50", res.Confidence)
	}
	if res.Actionable {
		t.Fatal("tied votes must not be actionable")
	}
}

func TestEvaluatePenaltiesReduceConfidence(t *testing.T) {
	e := NewEngine()
	base := Input{
		OrderBookImbalance: 0.4,
		TapeDelta:          0.4,
		Votes:              allVotes(signal.Long, 1.0),
	}
	clean := e.Evaluate(base)

	base.HigherTimeframeTrend = signal.Short
	base.LowLiquiditySession = true
	penalized := e.Evaluate(base)

	if penalized.Confidence >= clean.Confidence {
		t.Fatalf("penalties did not reduce confidence: %.3f vs %.3f",
			penalized.Confidence, clean.Confidence)
	}
	if penalized.Breakdown.Penalty == 0 {
		t.Fatal("expected recorded penalty")
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	e := NewEngine()
	in := Input{
		Symbol:             "ETHUSDT",
		Mode:               ModeScalp,
		OrderBookImbalance: 0.22,
		TapeDelta:          -0.1,
		Votes:              allVotes(signal.Long, 0.7),
		RecentMovePct:      1.2,
	}
	first := e.Evaluate(in)
	for i := 0; i < 10; i++ {
		got := e.Evaluate(in)
		if got.Confidence != first.Confidence ||
			got.Direction != first.Direction ||
			got.Confluence != first.Confluence {
			t.Fatalf("evaluation %d differed: %+v vs %+v", i, got, first)
		}
	}
}

func TestEvaluateScalpWeightsFavorLowTimeframes(t *testing.T) {
	e := NewEngine()
	votes := []TimeframeVote{
		{Timeframe: market.Timeframe1m, Direction: signal.Short, Strength: 1.0},
		{Timeframe: market.Timeframe5m, Direction: signal.Short, Strength: 1.0},
		{Timeframe: market.Timeframe15m, Direction: signal.Short, Strength: 1.0},
		{Timeframe: market.Timeframe1h, Direction: signal.Long, Strength: 1.0},
		{Timeframe: market.Timeframe4h, Direction: signal.Long, Strength: 1.0},
		{Timeframe: market.Timeframe1d, Direction: signal.Long, Strength: 1.0},
	}

	scalp := e.Evaluate(Input{Mode: ModeScalp, OrderBookImbalance: -0.3, TapeDelta: -0.3, Votes: votes})
	if scalp.Direction != signal.Short {
		t.Fatalf("scalp mode direction = %s, want SHORT", scalp.Direction)
	}

	trend := e.Evaluate(Input{Mode: ModeTrend, OrderBookImbalance: 0.3, TapeDelta: 0.3, Votes: votes})
	if trend.Direction != signal.Long {
		t.Fatalf("trend mode direction = %s, want LONG", trend.Direction)
	}
}
