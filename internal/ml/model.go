// Package ml implements the online win-probability model used by the
// trade-quality gate. The model learns from realized trade outcomes at
// runtime; it ships with a neutral prior and needs no offline training.
package ml

import (
	"fmt"
	"sync"

	"crypto-trading-engine/internal/signal"
)

// ModelConfig holds win-probability model configuration
type ModelConfig struct {
	PriorProbability  float64 // starting estimate before any outcomes
	MinSamples        int     // below this the bucket is cold and the gate bypasses
	FullWeightAt      int     // sample count at which the observed rate fully replaces the prior
	MinWinProbability float64 // gate threshold
}

// DefaultModelConfig returns default config
func DefaultModelConfig() *ModelConfig {
	return &ModelConfig{
		PriorProbability:  0.50,
		MinSamples:        20,
		FullWeightAt:      60,
		MinWinProbability: 0.55,
	}
}

// bucketStats tracks outcomes for one (direction, timeframe, confidence band)
type bucketStats struct {
	Wins  int
	Total int
}

// Model is the online win-probability estimator. Outcomes are bucketed by
// direction, timeframe and confidence band so a weak 1m SHORT does not
// pollute the estimate for a strong 4h LONG.
type Model struct {
	config  *ModelConfig
	buckets map[string]*bucketStats
	global  bucketStats
	mu      sync.RWMutex
}

// NewModel creates a new win-probability model
func NewModel(config *ModelConfig) *Model {
	if config == nil {
		config = DefaultModelConfig()
	}
	return &Model{
		config:  config,
		buckets: make(map[string]*bucketStats),
	}
}

// bucketKey bands confidence into 0.05 steps
func bucketKey(sig *signal.TradingSignal) string {
	band := int(sig.Confidence / 0.05)
	return fmt.Sprintf("%s|%s|%d", sig.Direction, sig.Timeframe, band)
}

// Predict returns the effective win probability for a signal. Sparse buckets
// are discounted toward the prior so a lucky 3-for-3 streak does not read as
// a 100% edge.
func (m *Model) Predict(sig *signal.TradingSignal) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.buckets[bucketKey(sig)]
	if !ok || b.Total == 0 {
		return m.effective(&m.global)
	}
	return m.effective(b)
}

// effective blends the observed rate with the prior by sample count
func (m *Model) effective(b *bucketStats) float64 {
	if b.Total == 0 {
		return m.config.PriorProbability
	}
	observed := float64(b.Wins) / float64(b.Total)
	weight := float64(b.Total) / float64(m.config.FullWeightAt)
	if weight > 1 {
		weight = 1
	}
	return observed*weight + m.config.PriorProbability*(1-weight)
}

// Ready reports whether the signal's bucket has enough outcomes for the gate
// to trust the estimate. Cold buckets bypass the gate.
func (m *Model) Ready(sig *signal.TradingSignal) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.buckets[bucketKey(sig)]
	return ok && b.Total >= m.config.MinSamples
}

// Threshold returns the minimum acceptable win probability
func (m *Model) Threshold() float64 {
	return m.config.MinWinProbability
}

// Update records a realized trade outcome
func (m *Model) Update(sig *signal.TradingSignal, won bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := bucketKey(sig)
	b, ok := m.buckets[key]
	if !ok {
		b = &bucketStats{}
		m.buckets[key] = b
	}
	b.Total++
	m.global.Total++
	if won {
		b.Wins++
		m.global.Wins++
	}
}

// Stats returns model diagnostics
func (m *Model) Stats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	winRate := 0.0
	if m.global.Total > 0 {
		winRate = float64(m.global.Wins) / float64(m.global.Total)
	}
	return map[string]interface{}{
		"total_outcomes":  m.global.Total,
		"total_wins":      m.global.Wins,
		"global_win_rate": winRate,
		"buckets":         len(m.buckets),
		"prior":           m.config.PriorProbability,
		"min_samples":     m.config.MinSamples,
		"threshold":       m.config.MinWinProbability,
	}
}
