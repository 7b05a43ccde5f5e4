// Package screener resolves the candidate symbol universe for each trading
// cycle. The dynamic screener ranks futures pairs by quote volume; when it is
// unavailable the static fallback list keeps cycles running.
package screener

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog"
)

// DefaultSymbols is the static fallback universe
var DefaultSymbols = []string{
	"BTCUSDT", "ETHUSDT", "BNBUSDT", "SOLUSDT", "XRPUSDT",
	"DOGEUSDT", "ADAUSDT", "AVAXUSDT", "LINKUSDT", "DOTUSDT",
}

// Screener resolves trading candidates. Implementations return at most
// limit symbols, best first.
type Screener interface {
	TopSymbols(ctx context.Context, limit int) ([]string, error)
}

// StaticScreener serves a fixed symbol list
type StaticScreener struct {
	symbols []string
}

// NewStaticScreener creates a screener over a fixed list. An empty list
// falls back to DefaultSymbols.
func NewStaticScreener(symbols []string) *StaticScreener {
	if len(symbols) == 0 {
		symbols = DefaultSymbols
	}
	return &StaticScreener{symbols: symbols}
}

func (s *StaticScreener) TopSymbols(ctx context.Context, limit int) ([]string, error) {
	if limit > len(s.symbols) {
		limit = len(s.symbols)
	}
	out := make([]string, limit)
	copy(out, s.symbols[:limit])
	return out, nil
}

// VolumeScreener ranks USDT perpetual pairs by 24h quote volume. Any failure
// falls back to the static universe so a cycle never starves on screener
// errors.
type VolumeScreener struct {
	client   *futures.Client
	fallback *StaticScreener
	minQuote float64
	logger   zerolog.Logger
}

// NewVolumeScreener creates a volume-ranked screener
func NewVolumeScreener(client *futures.Client, minQuoteVolume float64, logger zerolog.Logger) *VolumeScreener {
	return &VolumeScreener{
		client:   client,
		fallback: NewStaticScreener(nil),
		minQuote: minQuoteVolume,
		logger:   logger.With().Str("component", "screener").Logger(),
	}
}

func (v *VolumeScreener) TopSymbols(ctx context.Context, limit int) ([]string, error) {
	stats, err := v.client.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		v.logger.Warn().Err(err).Msg("Ticker scan failed, using static universe")
		return v.fallback.TopSymbols(ctx, limit)
	}

	type ranked struct {
		symbol string
		volume float64
	}
	candidates := make([]ranked, 0, len(stats))
	for _, s := range stats {
		if !strings.HasSuffix(s.Symbol, "USDT") {
			continue
		}
		qv, err := strconv.ParseFloat(s.QuoteVolume, 64)
		if err != nil || qv < v.minQuote {
			continue
		}
		candidates = append(candidates, ranked{symbol: s.Symbol, volume: qv})
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no pairs passed the volume filter")
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].volume > candidates[j].volume
	})
	if limit > len(candidates) {
		limit = len(candidates)
	}
	out := make([]string, 0, limit)
	for _, c := range candidates[:limit] {
		out = append(out, c.symbol)
	}
	return out, nil
}
