package store

import (
	"context"
	"testing"

	"crypto-trading-engine/internal/signal"
)

func TestMemoryStoreSettings(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	if _, ok, err := m.GetSetting(ctx, "u1", "mode"); err != nil || ok {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}

	if err := m.SetSetting(ctx, "u1", "mode", "trend"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := m.SetSetting(ctx, "u1", "mode", "scalping"); err != nil {
		t.Fatalf("SetSetting upsert: %v", err)
	}
	if err := m.SetSetting(ctx, "u2", "mode", "trend"); err != nil {
		t.Fatalf("SetSetting other user: %v", err)
	}

	v, ok, err := m.GetSetting(ctx, "u1", "mode")
	if err != nil || !ok || v != "scalping" {
		t.Fatalf("GetSetting = %q ok=%v err=%v, want upserted value", v, ok, err)
	}

	all, err := m.AllSettings(ctx, "u1")
	if err != nil {
		t.Fatalf("AllSettings: %v", err)
	}
	if len(all) != 1 || all["mode"] != "scalping" {
		t.Fatalf("AllSettings = %v", all)
	}
}

func TestMemoryStoreRecordSignal(t *testing.T) {
	m := NewMemoryStore()
	sig := &signal.TradingSignal{
		Symbol:     "BTCUSDT",
		Direction:  signal.Long,
		EntryPrice: 100000,
		StopLoss:   98000,
		Confidence: 0.72,
		RiskReward: 2.5,
		Timeframe:  "15m",
	}
	result := signal.ExecutionResult{OK: true, OrderID: "abc", PositionSize: 500}

	if err := m.RecordSignal(context.Background(), "u1", sig, result); err != nil {
		t.Fatalf("RecordSignal: %v", err)
	}

	signals := m.Signals()
	if len(signals) != 1 {
		t.Fatalf("got %d signals, want 1", len(signals))
	}
	got := signals[0]
	if got.UserID != "u1" || got.Symbol != "BTCUSDT" || got.OrderID != "abc" || !got.OK {
		t.Fatalf("recorded signal = %+v", got)
	}
	if got.ExecutedAt.IsZero() {
		t.Fatal("ExecutedAt not set")
	}

	// The returned slice is a copy
	signals[0].Symbol = "mutated"
	if m.Signals()[0].Symbol != "BTCUSDT" {
		t.Fatal("Signals() must return a copy")
	}
}
