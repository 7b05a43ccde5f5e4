package venue

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"

	"crypto-trading-engine/internal/market"
)

// BinanceClient is the primary REST venue, backed by the go-binance futures
// client. Public market data endpoints need no credentials.
type BinanceClient struct {
	mu      sync.RWMutex
	client  *futures.Client
	apiKey  string
	secret  string
	testnet bool
}

// NewBinanceClient creates the primary venue client
func NewBinanceClient(apiKey, secret string, testnet bool) *BinanceClient {
	c := &BinanceClient{apiKey: apiKey, secret: secret, testnet: testnet}
	c.client = c.build()
	return c
}

func (c *BinanceClient) build() *futures.Client {
	client := futures.NewClient(c.apiKey, c.secret)
	if c.testnet {
		futures.UseTestnet = true
	}
	return client
}

// Name implements Client
func (c *BinanceClient) Name() string { return "binance" }

// Reset rebuilds the underlying HTTP client after a transient failure
func (c *BinanceClient) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.client = c.build()
}

// Futures exposes the underlying futures client for collaborators that need
// endpoints outside the Client interface, such as the volume screener
func (c *BinanceClient) Futures() *futures.Client {
	return c.api()
}

func (c *BinanceClient) api() *futures.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

// FetchOHLCV implements Client
func (c *BinanceClient) FetchOHLCV(ctx context.Context, symbol string, tf market.Timeframe, limit int) ([]market.Candle, error) {
	klines, err := c.api().NewKlinesService().
		Symbol(symbol).
		Interval(string(tf)).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, c.mapError(err)
	}

	candles := make([]market.Candle, 0, len(klines))
	for _, k := range klines {
		candles = append(candles, market.Candle{
			OpenTime: k.OpenTime,
			Open:     parseFloat(k.Open),
			High:     parseFloat(k.High),
			Low:      parseFloat(k.Low),
			Close:    parseFloat(k.Close),
			Volume:   parseFloat(k.Volume),
		})
	}
	return candles, nil
}

// FetchOrderBook implements Client
func (c *BinanceClient) FetchOrderBook(ctx context.Context, symbol string, limit int) (*market.OrderBookSnapshot, error) {
	depth, err := c.api().NewDepthService().
		Symbol(symbol).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, c.mapError(err)
	}

	snap := &market.OrderBookSnapshot{
		Symbol:     symbol,
		Bids:       make([]market.BookLevel, 0, len(depth.Bids)),
		Asks:       make([]market.BookLevel, 0, len(depth.Asks)),
		ObservedAt: time.Now(),
	}
	for _, b := range depth.Bids {
		snap.Bids = append(snap.Bids, market.BookLevel{Price: parseFloat(b.Price), Quantity: parseFloat(b.Quantity)})
	}
	for _, a := range depth.Asks {
		snap.Asks = append(snap.Asks, market.BookLevel{Price: parseFloat(a.Price), Quantity: parseFloat(a.Quantity)})
	}
	return snap, nil
}

// FetchTrades implements Client
func (c *BinanceClient) FetchTrades(ctx context.Context, symbol string, limit int) ([]market.TradeTick, error) {
	trades, err := c.api().NewRecentTradesService().
		Symbol(symbol).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, c.mapError(err)
	}

	ticks := make([]market.TradeTick, 0, len(trades))
	for _, t := range trades {
		ticks = append(ticks, market.TradeTick{
			Price:         parseFloat(t.Price),
			Amount:        parseFloat(t.Quantity),
			Time:          t.Time,
			IsBuy:         !t.IsBuyerMaker, // aggressor bought when the maker was the seller
			QuoteQuantity: parseFloat(t.QuoteQuantity),
		})
	}
	return ticks, nil
}

// FetchTicker implements Client
func (c *BinanceClient) FetchTicker(ctx context.Context, symbol string) (float64, error) {
	prices, err := c.api().NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.mapError(err)
	}
	if len(prices) == 0 {
		return 0, ErrDataInsufficient
	}
	return parseFloat(prices[0].Price), nil
}

// FetchFundingRate implements Client
func (c *BinanceClient) FetchFundingRate(ctx context.Context, symbol string) (*market.FundingRate, error) {
	premium, err := c.api().NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.mapError(err)
	}
	if len(premium) == 0 {
		return nil, ErrDataInsufficient
	}
	p := premium[0]
	return &market.FundingRate{
		Symbol:          p.Symbol,
		FundingRate:     parseFloat(p.LastFundingRate),
		NextFundingTime: p.NextFundingTime,
	}, nil
}

// mapError classifies go-binance errors into the aggregator's taxonomy
func (c *BinanceClient) mapError(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -1003, -1015: // TOO_MANY_REQUESTS, TOO_MANY_ORDERS
			return &ProviderLimitError{Venue: c.Name(), Message: apiErr.Message}
		}
		if strings.Contains(strings.ToLower(apiErr.Message), "banned") {
			return &ProviderLimitError{Venue: c.Name(), Message: apiErr.Message}
		}
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &TransientError{Venue: c.Name(), Err: err}
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
