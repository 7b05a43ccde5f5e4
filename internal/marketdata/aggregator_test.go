package marketdata

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"crypto-trading-engine/internal/logging"
	"crypto-trading-engine/internal/market"
	"crypto-trading-engine/internal/venue"
)

// countingClient is a scripted venue: it counts outbound fetches and can be
// told to fail with a specific error
type countingClient struct {
	name     string
	fetches  int64
	resets   int64
	failWith error
	failMu   sync.Mutex
	delay    time.Duration
}

func newCountingClient(name string) *countingClient {
	return &countingClient{name: name}
}

func (c *countingClient) setError(err error) {
	c.failMu.Lock()
	c.failWith = err
	c.failMu.Unlock()
}

func (c *countingClient) currentError() error {
	c.failMu.Lock()
	defer c.failMu.Unlock()
	return c.failWith
}

func (c *countingClient) Name() string { return c.name }
func (c *countingClient) Reset()       { atomic.AddInt64(&c.resets, 1) }

func (c *countingClient) fetchCount() int64 { return atomic.LoadInt64(&c.fetches) }

func (c *countingClient) FetchOHLCV(ctx context.Context, symbol string, tf market.Timeframe, limit int) ([]market.Candle, error) {
	atomic.AddInt64(&c.fetches, 1)
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := c.currentError(); err != nil {
		return nil, err
	}
	candles := make([]market.Candle, limit)
	base := int64(1_700_000_000_000)
	for i := range candles {
		candles[i] = market.Candle{
			OpenTime: base + int64(i)*60_000,
			Open:     100, High: 101, Low: 99, Close: 100.5, Volume: 10,
		}
	}
	return candles, nil
}

func (c *countingClient) FetchOrderBook(ctx context.Context, symbol string, limit int) (*market.OrderBookSnapshot, error) {
	atomic.AddInt64(&c.fetches, 1)
	if err := c.currentError(); err != nil {
		return nil, err
	}
	return &market.OrderBookSnapshot{
		Symbol:     symbol,
		Bids:       []market.BookLevel{{Price: 99.9, Quantity: 5}},
		Asks:       []market.BookLevel{{Price: 100.1, Quantity: 5}},
		ObservedAt: time.Now(),
	}, nil
}

func (c *countingClient) FetchTrades(ctx context.Context, symbol string, limit int) ([]market.TradeTick, error) {
	atomic.AddInt64(&c.fetches, 1)
	if err := c.currentError(); err != nil {
		return nil, err
	}
	return []market.TradeTick{{Price: 100, Amount: 1, Time: time.Now().UnixMilli(), IsBuy: true}}, nil
}

func (c *countingClient) FetchTicker(ctx context.Context, symbol string) (float64, error) {
	atomic.AddInt64(&c.fetches, 1)
	if err := c.currentError(); err != nil {
		return 0, err
	}
	return 100.5, nil
}

func (c *countingClient) FetchFundingRate(ctx context.Context, symbol string) (*market.FundingRate, error) {
	atomic.AddInt64(&c.fetches, 1)
	if err := c.currentError(); err != nil {
		return nil, err
	}
	return &market.FundingRate{Symbol: symbol, FundingRate: 0.0001}, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.LocalTTL = time.Second
	cfg.FetchTimeout = 2 * time.Second
	cfg.BackoffWindow = time.Minute
	return cfg
}

func TestGetOHLCVCachesAfterFirstFetch(t *testing.T) {
	primary := newCountingClient("primary")
	a := New(testConfig(), []venue.Client{primary}, venue.NewSyntheticClient(), nil, nil, logging.Nop())
	ctx := context.Background()

	candles, source, err := a.GetOHLCV(ctx, "BTCUSDT", market.Timeframe15m, 50)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if len(candles) != 50 || source != SourcePrimary {
		t.Fatalf("got %d candles from %s, want 50 from %s", len(candles), source, SourcePrimary)
	}

	_, source, err = a.GetOHLCV(ctx, "BTCUSDT", market.Timeframe15m, 50)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if source != SourceCache {
		t.Fatalf("second call source = %s, want %s", source, SourceCache)
	}
	if got := primary.fetchCount(); got != 1 {
		t.Fatalf("outbound fetches = %d, want 1", got)
	}
}

func TestGetOHLCVDeduplicatesConcurrentRequests(t *testing.T) {
	primary := newCountingClient("primary")
	primary.delay = 100 * time.Millisecond
	a := New(testConfig(), []venue.Client{primary}, venue.NewSyntheticClient(), nil, nil, logging.Nop())

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = a.GetOHLCV(context.Background(), "BTCUSDT", market.Timeframe15m, 50)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if got := primary.fetchCount(); got != 1 {
		t.Fatalf("outbound fetches for identical concurrent requests = %d, want 1", got)
	}
}

func TestVenueFailoverToSecondary(t *testing.T) {
	primary := newCountingClient("primary")
	primary.setError(errors.New("boom"))
	secondary := newCountingClient("secondary")
	a := New(testConfig(), []venue.Client{primary, secondary}, venue.NewSyntheticClient(), nil, nil, logging.Nop())

	_, source, err := a.GetOHLCV(context.Background(), "BTCUSDT", market.Timeframe1h, 30)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if source != SourceSecondary {
		t.Fatalf("source = %s, want %s", source, SourceSecondary)
	}
}

func TestSyntheticFallbackWhenAllVenuesFail(t *testing.T) {
	primary := newCountingClient("primary")
	primary.setError(errors.New("boom"))
	a := New(testConfig(), []venue.Client{primary}, venue.NewSyntheticClient(), nil, nil, logging.Nop())

	candles, source, err := a.GetOHLCV(context.Background(), "BTCUSDT", market.Timeframe1h, 30)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if source != SourceSynthetic {
		t.Fatalf("source = %s, want %s", source, SourceSynthetic)
	}
	if !source.Synthetic() {
		t.Fatal("Synthetic() should report true for the fallback source")
	}
	if len(candles) != 30 {
		t.Fatalf("got %d synthetic candles, want 30", len(candles))
	}
}

func TestTransientErrorTriggersOneResetRetry(t *testing.T) {
	primary := newCountingClient("primary")
	primary.setError(&venue.TransientError{Venue: "primary", Err: errors.New("connection reset")})
	a := New(testConfig(), []venue.Client{primary}, venue.NewSyntheticClient(), nil, nil, logging.Nop())

	_, source, err := a.GetOHLCV(context.Background(), "BTCUSDT", market.Timeframe1h, 30)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if source != SourceSynthetic {
		t.Fatalf("source = %s, want synthetic after both attempts fail", source)
	}
	if got := primary.fetchCount(); got != 2 {
		t.Fatalf("attempts = %d, want exactly 2 (original + one retry)", got)
	}
	if got := atomic.LoadInt64(&primary.resets); got != 1 {
		t.Fatalf("resets = %d, want 1", got)
	}
}

func TestProviderLimitOpensBackoffWindow(t *testing.T) {
	primary := newCountingClient("primary")
	primary.setError(&venue.ProviderLimitError{Venue: "primary", Message: "plan exceeded"})
	a := New(testConfig(), []venue.Client{primary}, venue.NewSyntheticClient(), nil, nil, logging.Nop())
	ctx := context.Background()

	if _, source, _ := a.GetOHLCV(ctx, "BTCUSDT", market.Timeframe1h, 30); source != SourceSynthetic {
		t.Fatalf("first call source = %s, want synthetic", source)
	}
	after := primary.fetchCount()

	// The venue is healthy again, but the backoff window must keep it out
	// of the chain for the next request
	primary.setError(nil)
	if _, source, _ := a.GetOHLCV(ctx, "ETHUSDT", market.Timeframe1h, 30); source != SourceSynthetic {
		t.Fatalf("call during backoff source = %s, want synthetic", source)
	}
	if got := primary.fetchCount(); got != after {
		t.Fatalf("venue was called during its backoff window (%d -> %d)", after, got)
	}
}

func TestGetFundingRatePrefersVenue(t *testing.T) {
	primary := newCountingClient("primary")
	a := New(testConfig(), []venue.Client{primary}, venue.NewSyntheticClient(), nil, nil, logging.Nop())

	rate, err := a.GetFundingRate(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("funding rate: %v", err)
	}
	if rate == nil || rate.FundingRate != 0.0001 {
		t.Fatalf("rate = %+v, want venue's 0.0001", rate)
	}
}
