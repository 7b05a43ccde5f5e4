package ml

import (
	"math"
	"testing"

	"crypto-trading-engine/internal/signal"
)

func testSignal() *signal.TradingSignal {
	return &signal.TradingSignal{
		Symbol:     "BTCUSDT",
		Direction:  signal.Long,
		Confidence: 0.72,
		Timeframe:  "15m",
	}
}

func TestModelColdStart(t *testing.T) {
	m := NewModel(nil)
	sig := testSignal()

	if m.Ready(sig) {
		t.Fatal("fresh model should not be ready")
	}
	if got := m.Predict(sig); got != DefaultModelConfig().PriorProbability {
		t.Fatalf("fresh prediction = %.3f, want the prior", got)
	}
}

func TestModelDiscountsSparseBuckets(t *testing.T) {
	m := NewModel(&ModelConfig{
		PriorProbability:  0.50,
		MinSamples:        5,
		FullWeightAt:      20,
		MinWinProbability: 0.55,
	})
	sig := testSignal()

	// 3-for-3 must not read as a 100% edge
	for i := 0; i < 3; i++ {
		m.Update(sig, true)
	}
	got := m.Predict(sig)
	want := 1.0*(3.0/20.0) + 0.50*(1-3.0/20.0)
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("discounted prediction = %.4f, want %.4f", got, want)
	}
	if got > 0.60 {
		t.Fatalf("three samples moved the estimate too far: %.3f", got)
	}
}

func TestModelReadyAfterMinSamples(t *testing.T) {
	m := NewModel(&ModelConfig{
		PriorProbability:  0.50,
		MinSamples:        4,
		FullWeightAt:      10,
		MinWinProbability: 0.55,
	})
	sig := testSignal()

	for i := 0; i < 3; i++ {
		m.Update(sig, i%2 == 0)
	}
	if m.Ready(sig) {
		t.Fatal("should still be cold at 3 of 4 samples")
	}
	m.Update(sig, true)
	if !m.Ready(sig) {
		t.Fatal("should be ready at the minimum sample count")
	}
}

func TestModelBucketsAreIndependent(t *testing.T) {
	m := NewModel(&ModelConfig{
		PriorProbability:  0.50,
		MinSamples:        2,
		FullWeightAt:      4,
		MinWinProbability: 0.55,
	})

	longSig := testSignal()
	shortSig := testSignal()
	shortSig.Direction = signal.Short

	for i := 0; i < 4; i++ {
		m.Update(longSig, true)
		m.Update(shortSig, false)
	}

	if lp := m.Predict(longSig); lp <= 0.9 {
		t.Fatalf("long bucket prediction = %.3f, want near 1", lp)
	}
	if sp := m.Predict(shortSig); sp >= 0.1 {
		t.Fatalf("short bucket prediction = %.3f, want near 0", sp)
	}
}

func TestModelStats(t *testing.T) {
	m := NewModel(nil)
	sig := testSignal()
	m.Update(sig, true)
	m.Update(sig, false)

	stats := m.Stats()
	if stats["total_outcomes"].(int) != 2 {
		t.Fatalf("total_outcomes = %v", stats["total_outcomes"])
	}
	if stats["global_win_rate"].(float64) != 0.5 {
		t.Fatalf("global_win_rate = %v", stats["global_win_rate"])
	}
}
