// Package venue defines the exchange-client contract the aggregation layer
// consumes, plus the concrete Binance, OKX and mock implementations.
package venue

import (
	"context"

	"crypto-trading-engine/internal/market"
)

// Client is the narrow per-venue contract used by the market-data
// aggregator. Implementations may return ProviderLimitError or
// TransientError; the aggregator handles the two differently.
type Client interface {
	Name() string
	FetchOHLCV(ctx context.Context, symbol string, tf market.Timeframe, limit int) ([]market.Candle, error)
	FetchOrderBook(ctx context.Context, symbol string, limit int) (*market.OrderBookSnapshot, error)
	FetchTrades(ctx context.Context, symbol string, limit int) ([]market.TradeTick, error)
	FetchTicker(ctx context.Context, symbol string) (float64, error)
	FetchFundingRate(ctx context.Context, symbol string) (*market.FundingRate, error)

	// Reset drops and rebuilds the underlying transport. The aggregator
	// calls it once per request after a transient failure before retrying.
	Reset()
}
