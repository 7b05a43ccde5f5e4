package market

import (
	"math"
	"testing"
)

func TestImbalance(t *testing.T) {
	ob := &OrderBookSnapshot{
		Symbol: "BTCUSDT",
		Bids: []BookLevel{
			{Price: 99.9, Quantity: 6},
			{Price: 99.8, Quantity: 3},
		},
		Asks: []BookLevel{
			{Price: 100.1, Quantity: 2},
			{Price: 100.2, Quantity: 1},
		},
	}

	// (9 - 3) / 12 = 0.5
	if got := ob.Imbalance(10); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("Imbalance = %v, want 0.5", got)
	}

	// Depth 1 only sees the top levels: (6 - 2) / 8
	if got := ob.Imbalance(1); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("Imbalance depth 1 = %v, want 0.5", got)
	}
}

func TestImbalanceEmptyBook(t *testing.T) {
	ob := &OrderBookSnapshot{Symbol: "BTCUSDT"}
	if got := ob.Imbalance(10); got != 0 {
		t.Fatalf("empty book imbalance = %v, want 0", got)
	}
}

func TestTapeDelta(t *testing.T) {
	trades := []TradeTick{
		{Price: 100, Amount: 3, IsBuy: true},
		{Price: 100, Amount: 1, IsBuy: false},
	}
	// (300 - 100) / 400 = 0.5
	if got := TapeDelta(trades); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("TapeDelta = %v, want 0.5", got)
	}
}

func TestTapeDeltaPrefersQuoteQuantity(t *testing.T) {
	trades := []TradeTick{
		{Price: 100, Amount: 1, QuoteQuantity: 400, IsBuy: true},
		{Price: 100, Amount: 1, QuoteQuantity: 100, IsBuy: false},
	}
	// (400 - 100) / 500 = 0.6, the price*amount fallback is ignored
	if got := TapeDelta(trades); math.Abs(got-0.6) > 1e-9 {
		t.Fatalf("TapeDelta = %v, want 0.6", got)
	}
}

func TestTapeDeltaEmpty(t *testing.T) {
	if got := TapeDelta(nil); got != 0 {
		t.Fatalf("empty tape delta = %v, want 0", got)
	}
}

func TestTimeframeMinutes(t *testing.T) {
	cases := map[Timeframe]int{
		Timeframe1m:     1,
		Timeframe5m:     5,
		Timeframe15m:    15,
		Timeframe1h:     60,
		Timeframe4h:     240,
		Timeframe1d:     1440,
		Timeframe("7w"): 0,
	}
	for tf, want := range cases {
		if got := tf.Minutes(); got != want {
			t.Errorf("%s.Minutes() = %d, want %d", tf, got, want)
		}
	}
}
