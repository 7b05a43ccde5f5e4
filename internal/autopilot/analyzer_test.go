package autopilot

import (
	"testing"

	"crypto-trading-engine/internal/market"
	"crypto-trading-engine/internal/signal"
)

func bookWithBestBid(price, qty float64) *market.OrderBookSnapshot {
	return &market.OrderBookSnapshot{
		Symbol: "BTCUSDT",
		Bids: []market.BookLevel{
			{Price: price, Quantity: qty},
			{Price: price - 1, Quantity: qty},
		},
		Asks: []market.BookLevel{
			{Price: price + 1, Quantity: qty},
			{Price: price + 2, Quantity: qty},
		},
	}
}

func tapeAt(price float64, amounts ...float64) []market.TradeTick {
	ticks := make([]market.TradeTick, 0, len(amounts))
	for _, a := range amounts {
		ticks = append(ticks, market.TradeTick{Price: price, Amount: a, IsBuy: false})
	}
	return ticks
}

func TestIcebergAtDetectsHiddenRefill(t *testing.T) {
	book := bookWithBestBid(100.0, 2.0)

	// 8 units traded through a level that only ever shows 2
	trades := tapeAt(100.0, 3, 3, 2)
	if !icebergAt(book, trades, signal.Long) {
		t.Fatal("refilling best bid should flag an iceberg")
	}

	// Same executed volume away from the best level is not an iceberg
	if icebergAt(book, tapeAt(99.0, 3, 3, 2), signal.Long) {
		t.Fatal("volume at a deeper level must not flag the best bid")
	}
}

func TestIcebergAtBelowRefillRatio(t *testing.T) {
	book := bookWithBestBid(100.0, 2.0)

	// 5 < 2 * icebergRefillRatio
	if icebergAt(book, tapeAt(100.0, 3, 2), signal.Long) {
		t.Fatal("volume below the refill ratio should not flag an iceberg")
	}
}

func TestIcebergAtUsesLeanSide(t *testing.T) {
	book := bookWithBestBid(100.0, 2.0)
	trades := tapeAt(101.0, 4, 4) // best ask price

	if !icebergAt(book, trades, signal.Short) {
		t.Fatal("a SHORT leans on the ask side")
	}
	if icebergAt(book, trades, signal.Long) {
		t.Fatal("ask-side refill must not flag for a LONG")
	}
}

func TestIcebergAtEmptyBook(t *testing.T) {
	book := &market.OrderBookSnapshot{Symbol: "BTCUSDT"}
	if icebergAt(book, tapeAt(100.0, 10), signal.Long) {
		t.Fatal("empty book can never flag an iceberg")
	}
}
