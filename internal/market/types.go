// Package market holds the shared market-data types produced by the
// aggregation layer and consumed by the analysis and trading pipelines.
package market

import "time"

// Timeframe represents a supported candle interval
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// AllTimeframes lists every timeframe used for multi-timeframe analysis
var AllTimeframes = []Timeframe{
	Timeframe1m, Timeframe5m, Timeframe15m, Timeframe1h, Timeframe4h, Timeframe1d,
}

// Minutes returns the timeframe length in minutes (0 for unknown values)
func (tf Timeframe) Minutes() int {
	switch tf {
	case Timeframe1m:
		return 1
	case Timeframe5m:
		return 5
	case Timeframe15m:
		return 15
	case Timeframe1h:
		return 60
	case Timeframe4h:
		return 240
	case Timeframe1d:
		return 1440
	default:
		return 0
	}
}

// Candle represents a single OHLCV bar, immutable once produced.
// Candle slices are always ordered ascending by OpenTime.
type Candle struct {
	OpenTime int64   `json:"openTime"` // milliseconds
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
}

// BookLevel is a single [price, quantity] order book level
type BookLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// OrderBookSnapshot holds a point-in-time view of the book.
// Bids are sorted best (highest) first, asks best (lowest) first.
// The snapshot may be partial when a venue returns fewer levels than asked.
type OrderBookSnapshot struct {
	Symbol     string      `json:"symbol"`
	Bids       []BookLevel `json:"bids"`
	Asks       []BookLevel `json:"asks"`
	ObservedAt time.Time   `json:"observed_at"`
}

// TradeTick represents a single executed trade from the tape
type TradeTick struct {
	Price         float64 `json:"price"`
	Amount        float64 `json:"amount"`
	Time          int64   `json:"time"` // milliseconds
	IsBuy         bool    `json:"is_buy"`
	QuoteQuantity float64 `json:"quote_quantity"`
}

// FundingRate is the current funding bias for a perpetual symbol
type FundingRate struct {
	Symbol          string  `json:"symbol"`
	FundingRate     float64 `json:"funding_rate"`
	NextFundingTime int64   `json:"next_funding_time"`
}

// Imbalance returns the bid/ask volume imbalance in [-1, 1] over the top
// depth levels. Positive values mean bid-side (buying) dominance.
func (ob *OrderBookSnapshot) Imbalance(depth int) float64 {
	var bidVol, askVol float64
	for i, lvl := range ob.Bids {
		if i >= depth {
			break
		}
		bidVol += lvl.Quantity
	}
	for i, lvl := range ob.Asks {
		if i >= depth {
			break
		}
		askVol += lvl.Quantity
	}
	total := bidVol + askVol
	if total == 0 {
		return 0
	}
	return (bidVol - askVol) / total
}

// TapeDelta returns the normalized aggressor delta in [-1, 1] for a set of
// trades: (buy quote volume - sell quote volume) / total quote volume.
func TapeDelta(trades []TradeTick) float64 {
	var buy, sell float64
	for _, t := range trades {
		qty := t.QuoteQuantity
		if qty == 0 {
			qty = t.Price * t.Amount
		}
		if t.IsBuy {
			buy += qty
		} else {
			sell += qty
		}
	}
	total := buy + sell
	if total == 0 {
		return 0
	}
	return (buy - sell) / total
}
