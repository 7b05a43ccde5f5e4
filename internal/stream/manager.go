// Package stream maintains the long-lived market-data websocket connections
// and exposes read-only snapshots to the aggregation layer.
package stream

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"crypto-trading-engine/internal/market"
)

// ChannelKind identifies a websocket channel type. One shared connection is
// maintained per kind.
type ChannelKind string

const (
	KindKline     ChannelKind = "kline"
	KindDepth     ChannelKind = "depth"
	KindTrade     ChannelKind = "trade"
	KindMarkPrice ChannelKind = "markPrice"
)

const (
	defaultStreamURL = "wss://fstream.binance.com/stream"

	pingInterval   = 25 * time.Second
	reconnectDelay = 5 * time.Second

	// maxChannelsPerConn caps subscriptions per connection. Requests beyond
	// the cap are dropped, not queued: only recently active symbols matter.
	maxChannelsPerConn = 48

	// klineHistory bounds the in-memory candle ring per symbol/timeframe
	klineHistory = 100

	// tradeHistory bounds the in-memory tape ring per symbol
	tradeHistory = 200
)

type pricePoint struct {
	price     float64
	updatedAt time.Time
}

type fundingPoint struct {
	rate      market.FundingRate
	updatedAt time.Time
}

type klineSeries struct {
	candles   []market.Candle
	updatedAt time.Time
}

type bookSnapshot struct {
	book      market.OrderBookSnapshot
	updatedAt time.Time
}

type tradeTape struct {
	ticks     []market.TradeTick
	updatedAt time.Time
}

// Manager owns one websocket connection per channel kind, handles
// keep-alive, reconnect and re-subscription, and serves freshness-bounded
// snapshots. Getters return (zero, false) when no data exists yet or the
// data is older than the caller's bound; callers fall through to REST.
type Manager struct {
	mu     sync.RWMutex
	url    string
	logger zerolog.Logger

	conns map[ChannelKind]*streamConn

	klines  map[string]*klineSeries // "SYMBOL:tf"
	books   map[string]*bookSnapshot
	trades  map[string]*tradeTape
	prices  map[string]pricePoint
	funding map[string]fundingPoint

	now func() time.Time
}

// NewManager creates a stream manager. An empty url selects the production
// endpoint.
func NewManager(url string, logger zerolog.Logger) *Manager {
	if url == "" {
		url = defaultStreamURL
	}
	return &Manager{
		url:     url,
		logger:  logger.With().Str("component", "stream").Logger(),
		conns:   make(map[ChannelKind]*streamConn),
		klines:  make(map[string]*klineSeries),
		books:   make(map[string]*bookSnapshot),
		trades:  make(map[string]*tradeTape),
		prices:  make(map[string]pricePoint),
		funding: make(map[string]fundingPoint),
		now:     time.Now,
	}
}

// SetClock overrides the time source, for tests
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// ==================== SUBSCRIPTIONS ====================

// streamName builds the combined-stream channel name for a subscription
func streamName(kind ChannelKind, symbol string, tf market.Timeframe) string {
	s := strings.ToLower(symbol)
	switch kind {
	case KindKline:
		return fmt.Sprintf("%s@kline_%s", s, tf)
	case KindDepth:
		return fmt.Sprintf("%s@depth20@500ms", s)
	case KindTrade:
		return fmt.Sprintf("%s@aggTrade", s)
	case KindMarkPrice:
		return fmt.Sprintf("%s@markPrice@1s", s)
	default:
		return ""
	}
}

// Subscribe ensures the channel for (kind, symbol, tf) is live. tf is
// ignored for non-kline kinds. Requests beyond the per-connection cap are
// dropped silently.
func (m *Manager) Subscribe(kind ChannelKind, symbol string, tf market.Timeframe) {
	name := streamName(kind, symbol, tf)
	if name == "" {
		return
	}

	m.mu.Lock()
	conn, ok := m.conns[kind]
	if !ok {
		conn = newStreamConn(kind, m.url, m.logger, m.handleMessage)
		m.conns[kind] = conn
		conn.start()
	}
	m.mu.Unlock()

	conn.subscribe(name)
}

// SubscribeSymbol subscribes every channel kind needed to analyze a symbol
func (m *Manager) SubscribeSymbol(symbol string, timeframes []market.Timeframe) {
	for _, tf := range timeframes {
		m.Subscribe(KindKline, symbol, tf)
	}
	m.Subscribe(KindDepth, symbol, "")
	m.Subscribe(KindTrade, symbol, "")
	m.Subscribe(KindMarkPrice, symbol, "")
}

// Close tears down every connection
func (m *Manager) Close() {
	m.mu.Lock()
	conns := make([]*streamConn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.conns = make(map[ChannelKind]*streamConn)
	m.mu.Unlock()

	for _, c := range conns {
		c.stop()
	}
}

// Stats reports the subscription count per channel kind
func (m *Manager) Stats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := make(map[string]int, len(m.conns))
	for kind, conn := range m.conns {
		stats[string(kind)] = conn.subscriptionCount()
	}
	return stats
}

// ==================== SNAPSHOT GETTERS ====================

// Klines returns up to limit cached candles if the series is fresher than
// maxAge. A false result means fall through to the next aggregation tier.
func (m *Manager) Klines(symbol string, tf market.Timeframe, limit int, maxAge time.Duration) ([]market.Candle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	series, ok := m.klines[klineKey(symbol, tf)]
	if !ok || m.now().Sub(series.updatedAt) > maxAge {
		return nil, false
	}
	candles := series.candles
	if len(candles) == 0 {
		return nil, false
	}
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	out := make([]market.Candle, len(candles))
	copy(out, candles)
	return out, true
}

// OrderBook returns the cached book snapshot if fresher than maxAge
func (m *Manager) OrderBook(symbol string, maxAge time.Duration) (*market.OrderBookSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, ok := m.books[strings.ToUpper(symbol)]
	if !ok || m.now().Sub(snap.updatedAt) > maxAge {
		return nil, false
	}
	book := snap.book
	return &book, true
}

// Trades returns up to limit cached tape entries if fresher than maxAge
func (m *Manager) Trades(symbol string, limit int, maxAge time.Duration) ([]market.TradeTick, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tape, ok := m.trades[strings.ToUpper(symbol)]
	if !ok || m.now().Sub(tape.updatedAt) > maxAge || len(tape.ticks) == 0 {
		return nil, false
	}
	ticks := tape.ticks
	if len(ticks) > limit {
		ticks = ticks[len(ticks)-limit:]
	}
	out := make([]market.TradeTick, len(ticks))
	copy(out, ticks)
	return out, true
}

// LastPrice returns the cached mark price if fresher than maxAge
func (m *Manager) LastPrice(symbol string, maxAge time.Duration) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pp, ok := m.prices[strings.ToUpper(symbol)]
	if !ok || m.now().Sub(pp.updatedAt) > maxAge {
		return 0, false
	}
	return pp.price, true
}

// FundingRate returns the cached funding rate if fresher than maxAge
func (m *Manager) FundingRate(symbol string, maxAge time.Duration) (*market.FundingRate, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fp, ok := m.funding[strings.ToUpper(symbol)]
	if !ok || m.now().Sub(fp.updatedAt) > maxAge {
		return nil, false
	}
	rate := fp.rate
	return &rate, true
}

func klineKey(symbol string, tf market.Timeframe) string {
	return strings.ToUpper(symbol) + ":" + string(tf)
}

// ==================== MESSAGE HANDLING ====================

type combinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type klineEvent struct {
	Symbol string `json:"s"`
	Kline  struct {
		OpenTime int64  `json:"t"`
		Interval string `json:"i"`
		Open     string `json:"o"`
		High     string `json:"h"`
		Low      string `json:"l"`
		Close    string `json:"c"`
		Volume   string `json:"v"`
		Final    bool   `json:"x"`
	} `json:"k"`
}

type depthEvent struct {
	Symbol string     `json:"s"`
	Bids   [][]string `json:"b"`
	Asks   [][]string `json:"a"`
}

type aggTradeEvent struct {
	Symbol       string `json:"s"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

type markPriceEvent struct {
	Symbol          string `json:"s"`
	MarkPrice       string `json:"p"`
	FundingRate     string `json:"r"`
	NextFundingTime int64  `json:"T"`
}

func (m *Manager) handleMessage(raw []byte) {
	var msg combinedMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Stream == "" {
		return
	}

	switch {
	case strings.Contains(msg.Stream, "@kline_"):
		m.handleKline(msg.Data)
	case strings.Contains(msg.Stream, "@depth"):
		m.handleDepth(msg.Data)
	case strings.Contains(msg.Stream, "@aggTrade"):
		m.handleTrade(msg.Data)
	case strings.Contains(msg.Stream, "@markPrice"):
		m.handleMarkPrice(msg.Data)
	}
}

func (m *Manager) handleKline(data []byte) {
	var ev klineEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}

	candle := market.Candle{
		OpenTime: ev.Kline.OpenTime,
		Open:     parseFloat(ev.Kline.Open),
		High:     parseFloat(ev.Kline.High),
		Low:      parseFloat(ev.Kline.Low),
		Close:    parseFloat(ev.Kline.Close),
		Volume:   parseFloat(ev.Kline.Volume),
	}

	key := klineKey(ev.Symbol, market.Timeframe(ev.Kline.Interval))

	m.mu.Lock()
	defer m.mu.Unlock()

	series, ok := m.klines[key]
	if !ok {
		series = &klineSeries{candles: make([]market.Candle, 0, klineHistory)}
		m.klines[key] = series
	}

	n := len(series.candles)
	if n > 0 && series.candles[n-1].OpenTime == candle.OpenTime {
		series.candles[n-1] = candle // in-progress bar update
	} else {
		series.candles = append(series.candles, candle)
		if len(series.candles) > klineHistory {
			series.candles = series.candles[1:]
		}
	}
	series.updatedAt = m.now()
}

func (m *Manager) handleDepth(data []byte) {
	var ev depthEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}

	book := market.OrderBookSnapshot{
		Symbol:     ev.Symbol,
		Bids:       make([]market.BookLevel, 0, len(ev.Bids)),
		Asks:       make([]market.BookLevel, 0, len(ev.Asks)),
		ObservedAt: m.now(),
	}
	for _, lvl := range ev.Bids {
		if len(lvl) >= 2 {
			book.Bids = append(book.Bids, market.BookLevel{Price: parseFloat(lvl[0]), Quantity: parseFloat(lvl[1])})
		}
	}
	for _, lvl := range ev.Asks {
		if len(lvl) >= 2 {
			book.Asks = append(book.Asks, market.BookLevel{Price: parseFloat(lvl[0]), Quantity: parseFloat(lvl[1])})
		}
	}

	m.mu.Lock()
	m.books[strings.ToUpper(ev.Symbol)] = &bookSnapshot{book: book, updatedAt: m.now()}
	m.mu.Unlock()
}

func (m *Manager) handleTrade(data []byte) {
	var ev aggTradeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}

	price := parseFloat(ev.Price)
	amount := parseFloat(ev.Quantity)
	tick := market.TradeTick{
		Price:         price,
		Amount:        amount,
		Time:          ev.TradeTime,
		IsBuy:         !ev.IsBuyerMaker,
		QuoteQuantity: price * amount,
	}

	key := strings.ToUpper(ev.Symbol)

	m.mu.Lock()
	defer m.mu.Unlock()

	tape, ok := m.trades[key]
	if !ok {
		tape = &tradeTape{ticks: make([]market.TradeTick, 0, tradeHistory)}
		m.trades[key] = tape
	}
	tape.ticks = append(tape.ticks, tick)
	if len(tape.ticks) > tradeHistory {
		tape.ticks = tape.ticks[1:]
	}
	tape.updatedAt = m.now()
}

func (m *Manager) handleMarkPrice(data []byte) {
	var ev markPriceEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}

	key := strings.ToUpper(ev.Symbol)

	m.mu.Lock()
	m.prices[key] = pricePoint{price: parseFloat(ev.MarkPrice), updatedAt: m.now()}
	m.funding[key] = fundingPoint{
		rate: market.FundingRate{
			Symbol:          ev.Symbol,
			FundingRate:     parseFloat(ev.FundingRate),
			NextFundingTime: ev.NextFundingTime,
		},
		updatedAt: m.now(),
	}
	m.mu.Unlock()
}

// ==================== CONNECTION ====================

// streamConn owns a single websocket connection for one channel kind
type streamConn struct {
	mu         sync.Mutex
	kind       ChannelKind
	url        string
	logger     zerolog.Logger
	conn       *websocket.Conn
	subscribed map[string]bool
	nextID     int
	stopChan   chan struct{}
	stopped    bool
	onMessage  func([]byte)
}

func newStreamConn(kind ChannelKind, url string, logger zerolog.Logger, onMessage func([]byte)) *streamConn {
	return &streamConn{
		kind:       kind,
		url:        url,
		logger:     logger.With().Str("channel", string(kind)).Logger(),
		subscribed: make(map[string]bool),
		stopChan:   make(chan struct{}),
		onMessage:  onMessage,
	}
}

func (c *streamConn) start() {
	go c.runLoop()
}

func (c *streamConn) stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	close(c.stopChan)
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()
}

func (c *streamConn) subscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscribed)
}

// subscribe registers a channel and sends the SUBSCRIBE frame if connected.
// Over-cap requests are dropped.
func (c *streamConn) subscribe(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.subscribed[name] {
		return
	}
	if len(c.subscribed) >= maxChannelsPerConn {
		c.logger.Debug().Str("stream", name).Int("cap", maxChannelsPerConn).Msg("subscription cap reached, dropping")
		return
	}
	c.subscribed[name] = true
	if c.conn != nil {
		c.sendSubscribeLocked([]string{name})
	}
}

func (c *streamConn) sendSubscribeLocked(streams []string) {
	c.nextID++
	msg := map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": streams,
		"id":     c.nextID,
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.Warn().Err(err).Msg("subscribe frame failed")
	}
}

// runLoop keeps the connection alive: dial, replay subscriptions, read
// until failure, then reconnect after a delay.
func (c *streamConn) runLoop() {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = reconnectDelay
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0 // retry forever

	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		if err := c.connect(); err != nil {
			wait := bo.NextBackOff()
			c.logger.Warn().Err(err).Dur("retry_in", wait).Msg("stream connect failed")
			select {
			case <-time.After(wait):
			case <-c.stopChan:
				return
			}
			continue
		}
		bo.Reset()

		c.readLoop()

		// Connection dropped: clear local bookkeeping state and reconnect
		// after the fixed delay, replaying the subscription set.
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.mu.Unlock()

		select {
		case <-time.After(reconnectDelay):
		case <-c.stopChan:
			return
		}
	}
}

func (c *streamConn) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	streams := make([]string, 0, len(c.subscribed))
	for name := range c.subscribed {
		streams = append(streams, name)
	}
	if len(streams) > 0 {
		c.sendSubscribeLocked(streams)
	}
	c.mu.Unlock()

	c.logger.Info().Int("streams", len(streams)).Msg("stream connected")
	go c.pingLoop(conn)
	return nil
}

func (c *streamConn) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			if c.conn != conn {
				c.mu.Unlock()
				return
			}
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.mu.Unlock()
			if err != nil {
				return
			}
		case <-c.stopChan:
			return
		}
	}
}

func (c *streamConn) readLoop() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.stopChan:
			default:
				c.logger.Warn().Err(err).Msg("stream read failed, reconnecting")
			}
			return
		}
		c.onMessage(raw)
	}
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
