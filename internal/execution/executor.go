// Package execution defines the trade execution contract and the dry-run
// executor. Execution outcomes are plain values: a failed order is data, not
// a Go error, so a bad fill can never abort a running cycle.
package execution

import (
	"context"
	"fmt"
	"math"

	"crypto-trading-engine/internal/signal"
)

// Options carries per-trade sizing parameters
type Options struct {
	AccountBalance  float64 `json:"account_balance"`
	RiskPerTradePct float64 `json:"risk_per_trade_pct"`
	Leverage        int     `json:"leverage"`
	MaxPositionUSD  float64 `json:"max_position_usd"`
}

// Executor places trades for gated signals. Implementations must never
// panic out of ExecuteSignal; failures come back inside the result.
type Executor interface {
	ExecuteSignal(ctx context.Context, sig *signal.TradingSignal, opts Options) signal.ExecutionResult
	Enabled() bool
}

// PositionSize derives the notional position from stop distance and risk
// budget, capped at the configured maximum.
func PositionSize(sig *signal.TradingSignal, opts Options) (float64, error) {
	if sig.EntryPrice <= 0 {
		return 0, fmt.Errorf("invalid entry price %.8f", sig.EntryPrice)
	}
	stopDistance := math.Abs(sig.EntryPrice-sig.StopLoss) / sig.EntryPrice
	if stopDistance <= 0 {
		return 0, fmt.Errorf("stop loss equals entry for %s", sig.Symbol)
	}

	riskUSD := opts.AccountBalance * opts.RiskPerTradePct / 100
	notional := riskUSD / stopDistance
	if opts.MaxPositionUSD > 0 && notional > opts.MaxPositionUSD {
		notional = opts.MaxPositionUSD
	}
	return notional, nil
}

// guard converts a panic inside an executor into a failed result
func guard(result *signal.ExecutionResult) {
	if r := recover(); r != nil {
		result.OK = false
		result.Error = fmt.Sprintf("executor panic: %v", r)
	}
}
