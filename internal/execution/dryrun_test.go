package execution

import (
	"context"
	"strings"
	"testing"

	"crypto-trading-engine/internal/logging"
	"crypto-trading-engine/internal/signal"
)

func sampleSignal() *signal.TradingSignal {
	return &signal.TradingSignal{
		Symbol:      "BTCUSDT",
		Direction:   signal.Long,
		EntryPrice:  100000,
		StopLoss:    98000,
		TakeProfits: []float64{103000, 105000, 108000},
		Confidence:  0.75,
		RiskReward:  2.5,
		Timeframe:   "15m",
	}
}

func TestPositionSizeRiskBased(t *testing.T) {
	opts := Options{AccountBalance: 1000, RiskPerTradePct: 1.0, MaxPositionUSD: 5000}

	// 2% stop distance, $10 risk budget: $500 notional
	size, err := PositionSize(sampleSignal(), opts)
	if err != nil {
		t.Fatalf("PositionSize: %v", err)
	}
	if size < 499.99 || size > 500.01 {
		t.Fatalf("size = %.2f, want 500", size)
	}
}

func TestPositionSizeCappedAtMax(t *testing.T) {
	sig := sampleSignal()
	sig.StopLoss = 99900 // 0.1% stop would imply $10000 notional
	opts := Options{AccountBalance: 1000, RiskPerTradePct: 1.0, MaxPositionUSD: 5000}

	size, err := PositionSize(sig, opts)
	if err != nil {
		t.Fatalf("PositionSize: %v", err)
	}
	if size != 5000 {
		t.Fatalf("size = %.2f, want capped at 5000", size)
	}
}

func TestPositionSizeRejectsBadInputs(t *testing.T) {
	opts := Options{AccountBalance: 1000, RiskPerTradePct: 1.0}

	sig := sampleSignal()
	sig.EntryPrice = 0
	if _, err := PositionSize(sig, opts); err == nil {
		t.Fatal("zero entry price should error")
	}

	sig = sampleSignal()
	sig.StopLoss = sig.EntryPrice
	if _, err := PositionSize(sig, opts); err == nil {
		t.Fatal("stop at entry should error")
	}
}

func TestDryRunExecuteRecordsOrder(t *testing.T) {
	d := NewDryRunExecutor(logging.Nop())
	opts := Options{AccountBalance: 1000, RiskPerTradePct: 1.0, MaxPositionUSD: 5000}

	result := d.ExecuteSignal(context.Background(), sampleSignal(), opts)
	if !result.OK {
		t.Fatalf("execution failed: %s", result.Error)
	}
	if result.OrderID == "" {
		t.Fatal("no order id assigned")
	}
	if result.PositionSize <= 0 {
		t.Fatalf("position size = %.2f", result.PositionSize)
	}

	orders := d.Orders()
	if len(orders) != 1 {
		t.Fatalf("order log has %d entries, want 1", len(orders))
	}
	if orders[0].OrderID != result.OrderID || orders[0].Symbol != "BTCUSDT" {
		t.Fatalf("logged order = %+v", orders[0])
	}
}

func TestDryRunSizingFailureIsResultNotError(t *testing.T) {
	d := NewDryRunExecutor(logging.Nop())
	sig := sampleSignal()
	sig.StopLoss = sig.EntryPrice

	result := d.ExecuteSignal(context.Background(), sig, Options{AccountBalance: 1000, RiskPerTradePct: 1.0})
	if result.OK {
		t.Fatal("execution should have failed")
	}
	if !strings.Contains(result.Error, "stop loss equals entry") {
		t.Fatalf("error = %q", result.Error)
	}
	if len(d.Orders()) != 0 {
		t.Fatal("failed execution must not log an order")
	}
}

func TestDryRunCancelledContext(t *testing.T) {
	d := NewDryRunExecutor(logging.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := d.ExecuteSignal(ctx, sampleSignal(), Options{AccountBalance: 1000, RiskPerTradePct: 1.0})
	if result.OK {
		t.Fatal("cancelled context should fail the execution")
	}
	if len(d.Orders()) != 0 {
		t.Fatal("cancelled execution must not log an order")
	}
}

func TestGuardConvertsPanicToResult(t *testing.T) {
	run := func() (result signal.ExecutionResult) {
		defer guard(&result)
		panic("venue client exploded")
	}
	result := run()
	if result.OK {
		t.Fatal("panicked execution must not report OK")
	}
	if !strings.Contains(result.Error, "venue client exploded") {
		t.Fatalf("error = %q", result.Error)
	}
}
