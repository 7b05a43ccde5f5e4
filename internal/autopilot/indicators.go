package autopilot

import (
	"math"

	"crypto-trading-engine/internal/market"
	"crypto-trading-engine/internal/signal"
)

func closes(candles []market.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func sma(values []float64, period int) float64 {
	if len(values) < period || period <= 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

func ema(values []float64, period int) float64 {
	if len(values) < period || period <= 0 {
		return 0
	}
	k := 2.0 / float64(period+1)
	e := sma(values[:period], period)
	for _, v := range values[period:] {
		e = v*k + e*(1-k)
	}
	return e
}

// rsi computes Wilder's RSI over the trailing period
func rsi(values []float64, period int) float64 {
	if len(values) < period+1 {
		return 50
	}
	var gains, losses float64
	start := len(values) - period - 1
	for i := start + 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	if losses == 0 {
		return 100
	}
	rs := gains / losses
	return 100 - 100/(1+rs)
}

// atr computes the average true range over the trailing period
func atr(candles []market.Candle, period int) float64 {
	if len(candles) < period+1 {
		return 0
	}
	sum := 0.0
	start := len(candles) - period
	for i := start; i < len(candles); i++ {
		prevClose := candles[i-1].Close
		tr := candles[i].High - candles[i].Low
		tr = math.Max(tr, math.Abs(candles[i].High-prevClose))
		tr = math.Max(tr, math.Abs(candles[i].Low-prevClose))
		sum += tr
	}
	return sum / float64(period)
}

// trendVote reads one timeframe: price against its 20-bar average plus the
// average's slope. Strength grows with the distance from the average.
func trendVote(candles []market.Candle) (signal.Direction, float64) {
	if len(candles) < 25 {
		return signal.Neutral, 0
	}
	cs := closes(candles)
	avg := sma(cs, 20)
	prevAvg := sma(cs[:len(cs)-3], 20)
	if avg <= 0 {
		return signal.Neutral, 0
	}

	last := cs[len(cs)-1]
	distance := (last - avg) / avg
	rising := avg > prevAvg

	strength := math.Min(math.Abs(distance)*50, 1.0)
	switch {
	case distance > 0 && rising:
		return signal.Long, strength
	case distance < 0 && !rising:
		return signal.Short, strength
	case distance > 0.004:
		return signal.Long, strength * 0.5
	case distance < -0.004:
		return signal.Short, strength * 0.5
	default:
		return signal.Neutral, 0
	}
}

// isEngulfing detects a two-bar engulfing reversal at the end of the series
func isEngulfing(candles []market.Candle) (signal.Direction, bool) {
	if len(candles) < 2 {
		return signal.Neutral, false
	}
	prev := candles[len(candles)-2]
	last := candles[len(candles)-1]

	prevBody := math.Abs(prev.Close - prev.Open)
	lastBody := math.Abs(last.Close - last.Open)
	if prevBody == 0 || lastBody < prevBody {
		return signal.Neutral, false
	}

	if last.Close > last.Open && prev.Close < prev.Open &&
		last.Close > prev.Open && last.Open < prev.Close {
		return signal.Long, true
	}
	if last.Close < last.Open && prev.Close > prev.Open &&
		last.Close < prev.Open && last.Open > prev.Close {
		return signal.Short, true
	}
	return signal.Neutral, false
}

// brokeAndClosedBack reports a failed breakout of the trailing 20-bar range:
// the last candle pierced the extreme but closed back inside
func brokeAndClosedBack(candles []market.Candle) bool {
	if len(candles) < 21 {
		return false
	}
	window := candles[len(candles)-21 : len(candles)-1]
	high, low := window[0].High, window[0].Low
	for _, c := range window[1:] {
		high = math.Max(high, c.High)
		low = math.Min(low, c.Low)
	}
	last := candles[len(candles)-1]
	if last.High > high && last.Close < high {
		return true
	}
	if last.Low < low && last.Close > low {
		return true
	}
	return false
}

// recentMovePct is the signed close-to-close percentage move over the last
// bars candles
func recentMovePct(candles []market.Candle, bars int) float64 {
	if len(candles) < bars+1 {
		return 0
	}
	from := candles[len(candles)-1-bars].Close
	to := candles[len(candles)-1].Close
	if from <= 0 {
		return 0
	}
	return (to - from) / from * 100
}
