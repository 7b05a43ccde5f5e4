// Package marketdata produces candles, order books, trades and prices per
// symbol through a tiered resolution chain: local cache, live stream
// snapshot, persisted cache, primary REST venue, secondary REST venue and a
// deterministic synthetic fallback.
package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"crypto-trading-engine/internal/cache"
	"crypto-trading-engine/internal/market"
	"crypto-trading-engine/internal/ratelimit"
	"crypto-trading-engine/internal/stream"
	"crypto-trading-engine/internal/venue"
)

// Source identifies which tier satisfied a request
type Source string

const (
	SourceCache     Source = "cache"
	SourceStream    Source = "stream"
	SourcePersisted Source = "persisted"
	SourcePrimary   Source = "primary"
	SourceSecondary Source = "secondary"
	SourceSynthetic Source = "synthetic"
)

// Synthetic reports whether the data is simulated liveness-fallback output.
// Callers must treat such data as non-actionable for real execution.
func (s Source) Synthetic() bool { return s == SourceSynthetic }

// Config holds aggregator tuning
type Config struct {
	LocalTTL        time.Duration // short-TTL in-process cache
	LocalMaxEntries int
	BackoffWindow   time.Duration // venue backoff after a plan/rate-limit error
	FetchTimeout    time.Duration // per venue attempt
	LogInterval     time.Duration // throttled error log flush interval
	MaxPerSecond    int           // outbound request budget per venue
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		LocalTTL:        10 * time.Second,
		LocalMaxEntries: 512,
		BackoffWindow:   10 * time.Minute,
		FetchTimeout:    10 * time.Second,
		LogInterval:     time.Minute,
		MaxPerSecond:    ratelimit.DefaultMaxPerSecond,
	}
}

// Aggregator serves market data with request de-duplication: identical
// concurrent requests share one in-flight fetch.
type Aggregator struct {
	cfg    Config
	logger zerolog.Logger

	streams   *stream.Manager  // optional
	persisted *cache.RedisStore // optional

	venues    []venue.Client // ordered: primary first
	synthetic venue.Client

	breakers map[string]*venueBreaker
	limiters map[string]*ratelimit.Limiter
	errLog   *throttledErrorLog

	candles *cache.Expiring[[]market.Candle]
	books   *cache.Expiring[*market.OrderBookSnapshot]
	trades  *cache.Expiring[[]market.TradeTick]
	prices  *cache.Expiring[float64]

	flight singleflight.Group
}

// New creates an aggregator. streams and persisted may be nil; their tiers
// are then skipped. venues are tried in order after the cache tiers, and
// the synthetic client answers when every venue is down.
func New(cfg Config, venues []venue.Client, synthetic venue.Client, streams *stream.Manager, persisted *cache.RedisStore, logger zerolog.Logger) *Aggregator {
	if cfg.LocalTTL <= 0 {
		cfg = DefaultConfig()
	}

	a := &Aggregator{
		cfg:       cfg,
		logger:    logger.With().Str("component", "marketdata").Logger(),
		streams:   streams,
		persisted: persisted,
		venues:    venues,
		synthetic: synthetic,
		breakers:  make(map[string]*venueBreaker),
		limiters:  make(map[string]*ratelimit.Limiter),
		errLog:    newThrottledErrorLog(logger, cfg.LogInterval),
		candles:   cache.NewExpiring[[]market.Candle](cfg.LocalTTL, cfg.LocalMaxEntries),
		books:     cache.NewExpiring[*market.OrderBookSnapshot](cfg.LocalTTL, cfg.LocalMaxEntries),
		trades:    cache.NewExpiring[[]market.TradeTick](cfg.LocalTTL, cfg.LocalMaxEntries),
		prices:    cache.NewExpiring[float64](cfg.LocalTTL, cfg.LocalMaxEntries),
	}
	for _, v := range venues {
		a.breakers[v.Name()] = newVenueBreaker(cfg.BackoffWindow)
		a.limiters[v.Name()] = ratelimit.NewLimiter(cfg.MaxPerSecond)
	}
	return a
}

// streamFreshness is the acceptable stream-snapshot age for a timeframe:
// one bar length, clamped to [30s, 5m].
func streamFreshness(tf market.Timeframe) time.Duration {
	d := time.Duration(tf.Minutes()) * time.Minute
	if d < 30*time.Second {
		d = 30 * time.Second
	}
	if d > 5*time.Minute {
		d = 5 * time.Minute
	}
	return d
}

type ohlcvResult struct {
	candles []market.Candle
	source  Source
}

// GetOHLCV returns up to limit ascending candles for symbol/timeframe.
// Identical concurrent calls are coalesced into a single fetch.
func (a *Aggregator) GetOHLCV(ctx context.Context, symbol string, tf market.Timeframe, limit int) ([]market.Candle, Source, error) {
	key := fmt.Sprintf("ohlcv:%s:%s:%d", symbol, tf, limit)

	if cached, ok := a.candles.Get(key); ok {
		return cached, SourceCache, nil
	}

	v, err, _ := a.flight.Do(key, func() (interface{}, error) {
		// Re-check under the flight: a just-finished sharer may have filled it
		if cached, ok := a.candles.Get(key); ok {
			return ohlcvResult{cached, SourceCache}, nil
		}

		if a.streams != nil {
			if candles, ok := a.streams.Klines(symbol, tf, limit, streamFreshness(tf)); ok && len(candles) >= limit {
				a.candles.Set(key, candles)
				return ohlcvResult{candles, SourceStream}, nil
			}
		}

		if a.persisted != nil {
			if candles, ok := a.persisted.GetCandles(ctx, key); ok && len(candles) >= limit {
				a.candles.Set(key, candles)
				return ohlcvResult{candles, SourcePersisted}, nil
			}
		}

		for i, client := range a.venues {
			candles, fetchErr := fetchFromVenue(a, ctx, client, func(ctx context.Context) ([]market.Candle, error) {
				return client.FetchOHLCV(ctx, symbol, tf, limit)
			})
			if fetchErr != nil {
				continue
			}
			if len(candles) == 0 {
				continue
			}
			a.candles.Set(key, candles)
			if a.persisted != nil {
				a.persisted.SetCandles(ctx, key, candles)
			}
			return ohlcvResult{candles, venueSource(i)}, nil
		}

		candles, synthErr := a.synthetic.FetchOHLCV(ctx, symbol, tf, limit)
		if synthErr != nil {
			return nil, synthErr
		}
		a.logger.Warn().Str("symbol", symbol).Str("timeframe", string(tf)).
			Msg("all venues unavailable, serving synthetic candles (degraded)")
		return ohlcvResult{candles, SourceSynthetic}, nil
	})
	if err != nil {
		return nil, "", err
	}
	res := v.(ohlcvResult)
	return res.candles, res.source, nil
}

type bookResult struct {
	book   *market.OrderBookSnapshot
	source Source
}

// GetOrderBook returns the current book snapshot with up to limit levels per side
func (a *Aggregator) GetOrderBook(ctx context.Context, symbol string, limit int) (*market.OrderBookSnapshot, Source, error) {
	key := fmt.Sprintf("book:%s:%d", symbol, limit)

	if cached, ok := a.books.Get(key); ok {
		return cached, SourceCache, nil
	}

	v, err, _ := a.flight.Do(key, func() (interface{}, error) {
		if cached, ok := a.books.Get(key); ok {
			return bookResult{cached, SourceCache}, nil
		}

		if a.streams != nil {
			if snap, ok := a.streams.OrderBook(symbol, 10*time.Second); ok {
				trimBook(snap, limit)
				a.books.Set(key, snap)
				return bookResult{snap, SourceStream}, nil
			}
		}

		if a.persisted != nil {
			if snap, ok := a.persisted.GetOrderBook(ctx, key); ok {
				a.books.Set(key, snap)
				return bookResult{snap, SourcePersisted}, nil
			}
		}

		for i, client := range a.venues {
			snap, fetchErr := fetchFromVenue(a, ctx, client, func(ctx context.Context) (*market.OrderBookSnapshot, error) {
				return client.FetchOrderBook(ctx, symbol, limit)
			})
			if fetchErr != nil || snap == nil || len(snap.Bids) == 0 {
				continue
			}
			a.books.Set(key, snap)
			if a.persisted != nil {
				a.persisted.SetOrderBook(ctx, key, snap)
			}
			return bookResult{snap, venueSource(i)}, nil
		}

		snap, synthErr := a.synthetic.FetchOrderBook(ctx, symbol, limit)
		if synthErr != nil {
			return nil, synthErr
		}
		a.logger.Warn().Str("symbol", symbol).Msg("all venues unavailable, serving synthetic order book (degraded)")
		return bookResult{snap, SourceSynthetic}, nil
	})
	if err != nil {
		return nil, "", err
	}
	res := v.(bookResult)
	return res.book, res.source, nil
}

type tradesResult struct {
	ticks  []market.TradeTick
	source Source
}

// GetTrades returns up to limit recent trades for tape analysis
func (a *Aggregator) GetTrades(ctx context.Context, symbol string, limit int) ([]market.TradeTick, Source, error) {
	key := fmt.Sprintf("trades:%s:%d", symbol, limit)

	if cached, ok := a.trades.Get(key); ok {
		return cached, SourceCache, nil
	}

	v, err, _ := a.flight.Do(key, func() (interface{}, error) {
		if cached, ok := a.trades.Get(key); ok {
			return tradesResult{cached, SourceCache}, nil
		}

		if a.streams != nil {
			if ticks, ok := a.streams.Trades(symbol, limit, 30*time.Second); ok {
				a.trades.Set(key, ticks)
				return tradesResult{ticks, SourceStream}, nil
			}
		}

		if a.persisted != nil {
			if ticks, ok := a.persisted.GetTrades(ctx, key); ok {
				a.trades.Set(key, ticks)
				return tradesResult{ticks, SourcePersisted}, nil
			}
		}

		for i, client := range a.venues {
			ticks, fetchErr := fetchFromVenue(a, ctx, client, func(ctx context.Context) ([]market.TradeTick, error) {
				return client.FetchTrades(ctx, symbol, limit)
			})
			if fetchErr != nil || len(ticks) == 0 {
				continue
			}
			a.trades.Set(key, ticks)
			if a.persisted != nil {
				a.persisted.SetTrades(ctx, key, ticks)
			}
			return tradesResult{ticks, venueSource(i)}, nil
		}

		ticks, synthErr := a.synthetic.FetchTrades(ctx, symbol, limit)
		if synthErr != nil {
			return nil, synthErr
		}
		a.logger.Warn().Str("symbol", symbol).Msg("all venues unavailable, serving synthetic trades (degraded)")
		return tradesResult{ticks, SourceSynthetic}, nil
	})
	if err != nil {
		return nil, "", err
	}
	res := v.(tradesResult)
	return res.ticks, res.source, nil
}

type priceResult struct {
	price  float64
	source Source
}

// GetCurrentPrice returns the freshest available price for a symbol
func (a *Aggregator) GetCurrentPrice(ctx context.Context, symbol string) (float64, Source, error) {
	key := "price:" + symbol

	if cached, ok := a.prices.Get(key); ok {
		return cached, SourceCache, nil
	}

	v, err, _ := a.flight.Do(key, func() (interface{}, error) {
		if cached, ok := a.prices.Get(key); ok {
			return priceResult{cached, SourceCache}, nil
		}

		if a.streams != nil {
			if price, ok := a.streams.LastPrice(symbol, 5*time.Second); ok {
				a.prices.Set(key, price)
				return priceResult{price, SourceStream}, nil
			}
		}

		if a.persisted != nil {
			if price, ok := a.persisted.GetPrice(ctx, symbol); ok {
				a.prices.Set(key, price)
				return priceResult{price, SourcePersisted}, nil
			}
		}

		for i, client := range a.venues {
			price, fetchErr := fetchFromVenue(a, ctx, client, func(ctx context.Context) (float64, error) {
				return client.FetchTicker(ctx, symbol)
			})
			if fetchErr != nil || price <= 0 {
				continue
			}
			a.prices.Set(key, price)
			if a.persisted != nil {
				a.persisted.SetPrice(ctx, symbol, price)
			}
			return priceResult{price, venueSource(i)}, nil
		}

		price, synthErr := a.synthetic.FetchTicker(ctx, symbol)
		if synthErr != nil {
			return nil, synthErr
		}
		a.logger.Warn().Str("symbol", symbol).Msg("all venues unavailable, serving synthetic price (degraded)")
		return priceResult{price, SourceSynthetic}, nil
	})
	if err != nil {
		return 0, "", err
	}
	res := v.(priceResult)
	return res.price, res.source, nil
}

// GetFundingRate returns the funding bias for a symbol, stream-first
func (a *Aggregator) GetFundingRate(ctx context.Context, symbol string) (*market.FundingRate, error) {
	if a.streams != nil {
		if rate, ok := a.streams.FundingRate(symbol, 5*time.Minute); ok {
			return rate, nil
		}
	}
	for _, client := range a.venues {
		rate, err := fetchFromVenue(a, ctx, client, func(ctx context.Context) (*market.FundingRate, error) {
			return client.FetchFundingRate(ctx, symbol)
		})
		if err == nil && rate != nil {
			return rate, nil
		}
	}
	return a.synthetic.FetchFundingRate(ctx, symbol)
}

// fetchFromVenue runs one venue attempt: breaker check, rate limit, the
// call itself, and one reset-and-retry on a transient failure. A
// plan/rate-limit response opens the venue's backoff window.
func fetchFromVenue[T any](a *Aggregator, ctx context.Context, client venue.Client, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	breaker := a.breakers[client.Name()]
	if breaker != nil && !breaker.Allow() {
		return zero, fmt.Errorf("%s: backoff window active", client.Name())
	}

	if limiter := a.limiters[client.Name()]; limiter != nil {
		if err := limiter.Acquire(ctx); err != nil {
			return zero, err
		}
	}

	attempt := func() (T, error) {
		callCtx, cancel := context.WithTimeout(ctx, a.cfg.FetchTimeout)
		defer cancel()
		return fn(callCtx)
	}

	result, err := attempt()
	if err != nil && venue.IsTransient(err) && ctx.Err() == nil {
		// One client reset and retry per request, then fall through the chain
		client.Reset()
		result, err = attempt()
	}

	if err != nil {
		switch {
		case venue.IsProviderLimit(err):
			if breaker != nil {
				breaker.RecordLimit()
			}
			a.logger.Warn().Str("venue", client.Name()).Err(err).
				Dur("backoff", a.cfg.BackoffWindow).Msg("venue rate limited, entering backoff window")
		default:
			if breaker != nil {
				breaker.RecordFailure()
			}
			a.errLog.Record(client.Name(), err)
		}
		return zero, err
	}

	if breaker != nil {
		breaker.RecordSuccess()
	}
	return result, nil
}

func venueSource(index int) Source {
	if index == 0 {
		return SourcePrimary
	}
	return SourceSecondary
}

func trimBook(snap *market.OrderBookSnapshot, limit int) {
	if len(snap.Bids) > limit {
		snap.Bids = snap.Bids[:limit]
	}
	if len(snap.Asks) > limit {
		snap.Asks = snap.Asks[:limit]
	}
}

// Status reports the chain's health for diagnostics
func (a *Aggregator) Status() map[string]interface{} {
	venues := make(map[string]interface{}, len(a.venues))
	for _, v := range a.venues {
		entry := map[string]interface{}{}
		if b := a.breakers[v.Name()]; b != nil {
			entry["breaker"] = string(b.State())
			entry["trips"] = b.Trips()
		}
		if l := a.limiters[v.Name()]; l != nil {
			grants, waiting := l.InFlight()
			entry["rate_grants"] = grants
			entry["rate_waiting"] = waiting
			entry["rate_max"] = l.Max()
		}
		venues[v.Name()] = entry
	}
	return map[string]interface{}{
		"venues":        venues,
		"cache_candles": a.candles.Size(),
		"cache_books":   a.books.Size(),
		"cache_trades":  a.trades.Size(),
		"cache_prices":  a.prices.Size(),
	}
}
