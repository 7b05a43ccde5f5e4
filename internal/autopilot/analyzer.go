package autopilot

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"crypto-trading-engine/internal/confluence"
	"crypto-trading-engine/internal/market"
	"crypto-trading-engine/internal/marketdata"
	"crypto-trading-engine/internal/signal"
)

const (
	minCandlesForAnalysis = 30
	primaryCandleLimit    = 100
	voteCandleLimit       = 50
	bookFetchDepth        = 20
	imbalanceDepth        = 10
	tradeFetchLimit       = 200
	moveLookbackBars      = 5
	atrPeriod             = 14
	stopAtrMultiple       = 1.5
)

// Analyzer turns raw market data into an AnalysisResult for one symbol. It
// owns no state beyond its collaborators; every call is independent.
type Analyzer struct {
	data   *marketdata.Aggregator
	engine *confluence.Engine
	logger zerolog.Logger
	now    func() time.Time
}

// NewAnalyzer creates a symbol analyzer
func NewAnalyzer(data *marketdata.Aggregator, engine *confluence.Engine, logger zerolog.Logger) *Analyzer {
	return &Analyzer{
		data:   data,
		engine: engine,
		logger: logger.With().Str("component", "analyzer").Logger(),
		now:    time.Now,
	}
}

// SetClock overrides the session clock, for tests
func (a *Analyzer) SetClock(now func() time.Time) { a.now = now }

// Analyze builds the full confluence input for symbol and evaluates it.
// Thin data comes back as a neutral non-actionable result, not an error;
// errors mean the data layer itself failed.
func (a *Analyzer) Analyze(ctx context.Context, symbol string, cfg RunConfig) (*signal.AnalysisResult, error) {
	result := &signal.AnalysisResult{
		Symbol:     symbol,
		Timeframe:  string(cfg.Timeframe),
		AnalyzedAt: a.now(),
	}

	candles, candleSrc, err := a.data.GetOHLCV(ctx, symbol, cfg.Timeframe, primaryCandleLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch %s %s candles: %w", symbol, cfg.Timeframe, err)
	}
	if len(candles) < minCandlesForAnalysis {
		result.DataInsufficient = true
		result.Reason = fmt.Sprintf("only %d candles on %s", len(candles), cfg.Timeframe)
		return result, nil
	}
	synthetic := candleSrc.Synthetic()

	// One directional vote per timeframe
	votes := make([]confluence.TimeframeVote, 0, len(market.AllTimeframes))
	var htfTrend signal.Direction = signal.Neutral
	for _, tf := range market.AllTimeframes {
		var tfCandles []market.Candle
		if tf == cfg.Timeframe {
			tfCandles = candles
		} else {
			var src marketdata.Source
			tfCandles, src, err = a.data.GetOHLCV(ctx, symbol, tf, voteCandleLimit)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				continue // a missing timeframe weakens the vote, nothing more
			}
			synthetic = synthetic || src.Synthetic()
		}
		dir, strength := trendVote(tfCandles)
		votes = append(votes, confluence.TimeframeVote{
			Timeframe: tf,
			Direction: dir,
			Strength:  strength,
		})
		if tf == market.Timeframe4h {
			htfTrend = dir
		}
	}

	book, bookSrc, err := a.data.GetOrderBook(ctx, symbol, bookFetchDepth)
	if err != nil {
		return nil, fmt.Errorf("fetch %s order book: %w", symbol, err)
	}
	synthetic = synthetic || bookSrc.Synthetic()

	trades, tradeSrc, err := a.data.GetTrades(ctx, symbol, tradeFetchLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch %s trades: %w", symbol, err)
	}
	synthetic = synthetic || tradeSrc.Synthetic()

	imbalance := book.Imbalance(imbalanceDepth)
	tapeDelta := market.TapeDelta(trades)

	patternDir, patternOK := isEngulfing(candles)
	cs := closes(candles)
	rsiValue := rsi(cs, 14)

	in := confluence.Input{
		Symbol:               symbol,
		Mode:                 cfg.Mode,
		OrderBookImbalance:   imbalance,
		TapeDelta:            tapeDelta,
		Votes:                votes,
		HigherTimeframeTrend: htfTrend,
		RecentMovePct:        recentMovePct(candles, moveLookbackBars),
		LowLiquiditySession:  lowLiquiditySession(a.now().UTC()),
		FalseBreakoutRisk:    brokeAndClosedBack(candles),
	}

	verdict := a.engine.Evaluate(in)

	// Confirmation inputs depend on the provisional direction, so evaluate
	// once more with them filled in when the first pass found one
	if verdict.Direction != signal.Neutral {
		in.PatternConfirmed = patternOK && patternDir == verdict.Direction
		in.IndicatorConfirmed = (verdict.Direction == signal.Long && rsiValue > 55) ||
			(verdict.Direction == signal.Short && rsiValue < 45)
		in.ClusterDeltaAligned = alignedFlow(tapeDelta, verdict.Direction, 0.40)
		in.AbsorptionDetected = absorptionAt(book, verdict.Direction)
		in.IcebergDetected = icebergAt(book, trades, verdict.Direction)
		verdict = a.engine.Evaluate(in)
	}

	result.Confluence = verdict.Confluence
	result.HigherTrend = htfTrend
	result.Synthetic = synthetic
	result.Reason = firstReason(verdict.Breakdown.Reasoning)

	entry := candles[len(candles)-1].Close
	rangeATR := atr(candles, atrPeriod)
	if entry > 0 {
		result.VolatilityPct = rangeATR / entry * 100
	}

	if !verdict.Actionable || verdict.Direction == signal.Neutral {
		return result, nil
	}

	result.Signal = buildSignal(symbol, cfg, verdict, entry, rangeATR, a.now())
	return result, nil
}

// buildSignal derives entry, stop and targets from the current price and the
// ATR-based volatility envelope
func buildSignal(symbol string, cfg RunConfig, verdict confluence.Result, entry, rangeATR float64, now time.Time) *signal.TradingSignal {
	risk := rangeATR * stopAtrMultiple
	if risk <= 0 {
		risk = entry * 0.01
	}

	var stop float64
	var targets []float64
	if verdict.Direction == signal.Long {
		stop = entry - risk
		targets = []float64{entry + 1.5*risk, entry + 2.5*risk, entry + 4*risk}
	} else {
		stop = entry + risk
		targets = []float64{entry - 1.5*risk, entry - 2.5*risk, entry - 4*risk}
	}

	return &signal.TradingSignal{
		Symbol:      symbol,
		Direction:   verdict.Direction,
		EntryPrice:  entry,
		StopLoss:    stop,
		TakeProfits: targets,
		Confidence:  verdict.Confidence,
		RiskReward:  2.5, // middle target over the ATR stop
		Timeframe:   string(cfg.Timeframe),
		Triggers:    verdict.Breakdown.Reasoning,
		CreatedAt:   now,
	}
}

// lowLiquiditySession flags the dead zone between the US close and the Asia
// open, plus weekends
func lowLiquiditySession(now time.Time) bool {
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return true
	}
	h := now.Hour()
	return h >= 21 || h < 1
}

func alignedFlow(delta float64, dir signal.Direction, minLevel float64) bool {
	if dir == signal.Long {
		return delta >= minLevel
	}
	return delta <= -minLevel
}

// absorptionAt looks for an outsized resting level on the side a trade would
// lean on
func absorptionAt(book *market.OrderBookSnapshot, dir signal.Direction) bool {
	levels := book.Bids
	if dir == signal.Short {
		levels = book.Asks
	}
	if len(levels) < 5 {
		return false
	}
	var total, biggest float64
	for _, lvl := range levels {
		total += lvl.Quantity
		if lvl.Quantity > biggest {
			biggest = lvl.Quantity
		}
	}
	avg := total / float64(len(levels))
	return avg > 0 && biggest > avg*4
}

// icebergRefillRatio is how many times over its displayed size the best
// level must trade before it counts as hidden-size refilling
const icebergRefillRatio = 3.0

// icebergAt flags a hidden order at the best level of the side a trade would
// lean on: the tape shows far more volume executed at that price than the
// book ever displays there
func icebergAt(book *market.OrderBookSnapshot, trades []market.TradeTick, dir signal.Direction) bool {
	levels := book.Bids
	if dir == signal.Short {
		levels = book.Asks
	}
	if len(levels) == 0 || levels[0].Quantity <= 0 {
		return false
	}
	best := levels[0]

	var executed float64
	for _, t := range trades {
		if math.Abs(t.Price-best.Price) <= best.Price*1e-6 {
			executed += t.Amount
		}
	}
	return executed >= best.Quantity*icebergRefillRatio
}

func firstReason(reasons []string) string {
	if len(reasons) == 0 {
		return ""
	}
	return reasons[0]
}
