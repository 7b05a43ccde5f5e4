// Package autopilot runs the trading cycle: candidate resolution, bounded
// fan-out analysis, scoring, the risk-gate pipeline and execution handoff.
package autopilot

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"crypto-trading-engine/internal/confluence"
	"crypto-trading-engine/internal/market"
	"crypto-trading-engine/internal/store"
)

// RunConfig is one user's active cycle configuration. It travels as a value:
// the queued supersede slot copies it wholesale.
type RunConfig struct {
	UserID           string           `json:"user_id"`
	Symbols          []string         `json:"symbols,omitempty"` // empty = use the screener
	MaxCandidates    int              `json:"max_candidates"`
	Timeframe        market.Timeframe `json:"timeframe"`
	Mode             confluence.Mode  `json:"mode"`
	MinConfidence    float64          `json:"min_confidence"`
	MinRiskReward    float64          `json:"min_risk_reward"`
	MinVolatilityPct float64          `json:"min_volatility_pct"`
	ExecutionEnabled bool             `json:"execution_enabled"`
	AIBlockEnabled   bool             `json:"ai_block_enabled"`
	AccountBalance   float64          `json:"account_balance"`
	RiskPerTradePct  float64          `json:"risk_per_trade_pct"`
	Leverage         int              `json:"leverage"`
	MaxPositionUSD   float64          `json:"max_position_usd"`
	MaxFundingRate   float64          `json:"max_funding_rate"`
}

// DefaultRunConfig returns a conservative baseline configuration
func DefaultRunConfig(userID string) RunConfig {
	return RunConfig{
		UserID:           userID,
		MaxCandidates:    10,
		Timeframe:        market.Timeframe15m,
		Mode:             confluence.ModeTrend,
		MinConfidence:    0.65,
		MinRiskReward:    1.5,
		MinVolatilityPct: 0.2,
		ExecutionEnabled: false,
		AIBlockEnabled:   false,
		AccountBalance:   1000,
		RiskPerTradePct:  1.0,
		Leverage:         3,
		MaxPositionUSD:   5000,
		MaxFundingRate:   0.0005, // 0.05% per interval
	}
}

// normalize fills zero fields from the defaults so a sparse config from the
// API or the settings store is always runnable
func (c *RunConfig) normalize() {
	def := DefaultRunConfig(c.UserID)
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = def.MaxCandidates
	}
	if c.Timeframe == "" {
		c.Timeframe = def.Timeframe
	}
	if c.Mode == "" {
		c.Mode = def.Mode
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = def.MinConfidence
	}
	if c.MinRiskReward <= 0 {
		c.MinRiskReward = def.MinRiskReward
	}
	if c.AccountBalance <= 0 {
		c.AccountBalance = def.AccountBalance
	}
	if c.RiskPerTradePct <= 0 {
		c.RiskPerTradePct = def.RiskPerTradePct
	}
	if c.Leverage <= 0 {
		c.Leverage = def.Leverage
	}
	if c.MaxFundingRate <= 0 {
		c.MaxFundingRate = def.MaxFundingRate
	}
}

const activeRunsKey = "autopilot:active_runs"

// persistActiveRuns saves the active run configs. Best effort: failures are
// logged and trading continues.
func persistActiveRuns(ctx context.Context, settings store.SettingsStore, runs map[string]RunConfig, logger zerolog.Logger) {
	if settings == nil {
		return
	}
	data, err := json.Marshal(runs)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to marshal active runs")
		return
	}
	if err := settings.SetSetting(ctx, "system", activeRunsKey, string(data)); err != nil {
		logger.Warn().Err(err).Msg("Failed to persist active runs")
	}
}

// restoreActiveRuns loads the persisted run configs, returning an empty map
// on any failure
func restoreActiveRuns(ctx context.Context, settings store.SettingsStore, logger zerolog.Logger) map[string]RunConfig {
	runs := make(map[string]RunConfig)
	if settings == nil {
		return runs
	}
	raw, ok, err := settings.GetSetting(ctx, "system", activeRunsKey)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to restore active runs")
		return runs
	}
	if !ok {
		return runs
	}
	if err := json.Unmarshal([]byte(raw), &runs); err != nil {
		logger.Warn().Err(err).Msg("Failed to decode persisted active runs")
		return make(map[string]RunConfig)
	}
	for key, cfg := range runs {
		cfg.normalize()
		runs[key] = cfg
	}
	return runs
}
