package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"crypto-trading-engine/internal/market"
)

const okxBaseURL = "https://www.okx.com"

// OKXClient is the secondary REST venue. Only public market-data endpoints
// are used, so no credentials are required.
type OKXClient struct {
	mu         sync.RWMutex
	httpClient *http.Client
	baseURL    string
}

// NewOKXClient creates the secondary venue client
func NewOKXClient() *OKXClient {
	return &OKXClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    okxBaseURL,
	}
}

// Name implements Client
func (c *OKXClient) Name() string { return "okx" }

// Reset implements Client by rebuilding the HTTP transport
func (c *OKXClient) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.httpClient.CloseIdleConnections()
	c.httpClient = &http.Client{Timeout: 10 * time.Second}
}

// SetBaseURL overrides the API base URL, for tests
func (c *OKXClient) SetBaseURL(base string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = base
}

// okxEnvelope is the common OKX v5 response wrapper
type okxEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// okxInstID converts an exchange-neutral symbol like BTCUSDT into the OKX
// perpetual-swap instrument ID BTC-USDT-SWAP.
func okxInstID(symbol string) string {
	symbol = strings.ToUpper(symbol)
	for _, quote := range []string{"USDT", "USDC", "USD"} {
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			return symbol[:len(symbol)-len(quote)] + "-" + quote + "-SWAP"
		}
	}
	return symbol
}

// okxBar converts a timeframe into the OKX bar parameter (hours are uppercase)
func okxBar(tf market.Timeframe) string {
	switch tf {
	case market.Timeframe1h:
		return "1H"
	case market.Timeframe4h:
		return "4H"
	case market.Timeframe1d:
		return "1D"
	default:
		return string(tf)
	}
}

func (c *OKXClient) get(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	c.mu.RLock()
	client := c.httpClient
	base := c.baseURL
	c.mu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{Venue: c.Name(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Venue: c.Name(), Err: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &ProviderLimitError{Venue: c.Name(), Message: "HTTP 429"}
	}
	if resp.StatusCode >= 500 {
		return nil, &TransientError{Venue: c.Name(), Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("okx: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var env okxEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("okx: decode response: %w", err)
	}
	if env.Code != "0" {
		// 50011 is the documented rate-limit code
		if env.Code == "50011" {
			return nil, &ProviderLimitError{Venue: c.Name(), Message: env.Msg}
		}
		return nil, fmt.Errorf("okx: code %s: %s", env.Code, env.Msg)
	}
	return env.Data, nil
}

// FetchOHLCV implements Client
func (c *OKXClient) FetchOHLCV(ctx context.Context, symbol string, tf market.Timeframe, limit int) ([]market.Candle, error) {
	params := url.Values{}
	params.Set("instId", okxInstID(symbol))
	params.Set("bar", okxBar(tf))
	params.Set("limit", strconv.Itoa(limit))

	data, err := c.get(ctx, "/api/v5/market/candles", params)
	if err != nil {
		return nil, err
	}

	var rows [][]string
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("okx: decode candles: %w", err)
	}

	candles := make([]market.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		ts, _ := strconv.ParseInt(row[0], 10, 64)
		candles = append(candles, market.Candle{
			OpenTime: ts,
			Open:     parseFloat(row[1]),
			High:     parseFloat(row[2]),
			Low:      parseFloat(row[3]),
			Close:    parseFloat(row[4]),
			Volume:   parseFloat(row[5]),
		})
	}
	// OKX returns newest first; callers expect ascending order
	sort.Slice(candles, func(i, j int) bool { return candles[i].OpenTime < candles[j].OpenTime })
	return candles, nil
}

// FetchOrderBook implements Client
func (c *OKXClient) FetchOrderBook(ctx context.Context, symbol string, limit int) (*market.OrderBookSnapshot, error) {
	params := url.Values{}
	params.Set("instId", okxInstID(symbol))
	params.Set("sz", strconv.Itoa(limit))

	data, err := c.get(ctx, "/api/v5/market/books", params)
	if err != nil {
		return nil, err
	}

	var books []struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
		TS   string     `json:"ts"`
	}
	if err := json.Unmarshal(data, &books); err != nil {
		return nil, fmt.Errorf("okx: decode order book: %w", err)
	}
	if len(books) == 0 {
		return nil, ErrDataInsufficient
	}

	book := books[0]
	snap := &market.OrderBookSnapshot{
		Symbol:     symbol,
		Bids:       make([]market.BookLevel, 0, len(book.Bids)),
		Asks:       make([]market.BookLevel, 0, len(book.Asks)),
		ObservedAt: time.Now(),
	}
	for _, lvl := range book.Bids {
		if len(lvl) >= 2 {
			snap.Bids = append(snap.Bids, market.BookLevel{Price: parseFloat(lvl[0]), Quantity: parseFloat(lvl[1])})
		}
	}
	for _, lvl := range book.Asks {
		if len(lvl) >= 2 {
			snap.Asks = append(snap.Asks, market.BookLevel{Price: parseFloat(lvl[0]), Quantity: parseFloat(lvl[1])})
		}
	}
	return snap, nil
}

// FetchTrades implements Client
func (c *OKXClient) FetchTrades(ctx context.Context, symbol string, limit int) ([]market.TradeTick, error) {
	params := url.Values{}
	params.Set("instId", okxInstID(symbol))
	params.Set("limit", strconv.Itoa(limit))

	data, err := c.get(ctx, "/api/v5/market/trades", params)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Px   string `json:"px"`
		Sz   string `json:"sz"`
		Side string `json:"side"`
		TS   string `json:"ts"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("okx: decode trades: %w", err)
	}

	ticks := make([]market.TradeTick, 0, len(rows))
	for _, row := range rows {
		ts, _ := strconv.ParseInt(row.TS, 10, 64)
		price := parseFloat(row.Px)
		amount := parseFloat(row.Sz)
		ticks = append(ticks, market.TradeTick{
			Price:         price,
			Amount:        amount,
			Time:          ts,
			IsBuy:         row.Side == "buy",
			QuoteQuantity: price * amount,
		})
	}
	return ticks, nil
}

// FetchTicker implements Client
func (c *OKXClient) FetchTicker(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("instId", okxInstID(symbol))

	data, err := c.get(ctx, "/api/v5/market/ticker", params)
	if err != nil {
		return 0, err
	}

	var tickers []struct {
		Last string `json:"last"`
	}
	if err := json.Unmarshal(data, &tickers); err != nil {
		return 0, fmt.Errorf("okx: decode ticker: %w", err)
	}
	if len(tickers) == 0 {
		return 0, ErrDataInsufficient
	}
	return parseFloat(tickers[0].Last), nil
}

// FetchFundingRate implements Client
func (c *OKXClient) FetchFundingRate(ctx context.Context, symbol string) (*market.FundingRate, error) {
	params := url.Values{}
	params.Set("instId", okxInstID(symbol))

	data, err := c.get(ctx, "/api/v5/public/funding-rate", params)
	if err != nil {
		return nil, err
	}

	var rates []struct {
		FundingRate     string `json:"fundingRate"`
		NextFundingTime string `json:"nextFundingTime"`
	}
	if err := json.Unmarshal(data, &rates); err != nil {
		return nil, fmt.Errorf("okx: decode funding rate: %w", err)
	}
	if len(rates) == 0 {
		return nil, ErrDataInsufficient
	}
	next, _ := strconv.ParseInt(rates[0].NextFundingTime, 10, 64)
	return &market.FundingRate{
		Symbol:          symbol,
		FundingRate:     parseFloat(rates[0].FundingRate),
		NextFundingTime: next,
	}, nil
}
