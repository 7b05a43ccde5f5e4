package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"crypto-trading-engine/internal/signal"
)

// Provider identifies an external scoring backend
type Provider struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	APIKey string `json:"api_key"`
}

// HTTPEvaluatorConfig holds evaluator configuration
type HTTPEvaluatorConfig struct {
	Providers    []Provider    `json:"providers"`
	MinScore     float64       `json:"min_score"` // below this the trade is vetoed
	Timeout      time.Duration `json:"timeout"`
	RequireQuota int           `json:"require_quota"` // providers that must answer; 0 = any one
}

// DefaultHTTPEvaluatorConfig returns default configuration
func DefaultHTTPEvaluatorConfig() *HTTPEvaluatorConfig {
	return &HTTPEvaluatorConfig{
		MinScore: 0.60,
		Timeout:  20 * time.Second,
	}
}

// HTTPEvaluator fans a signal out to the configured providers and averages
// their scores. Provider failures are soft: if no provider answers, the
// evaluator abstains rather than blocking the trade.
type HTTPEvaluator struct {
	config     *HTTPEvaluatorConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewHTTPEvaluator creates an evaluator over the configured providers
func NewHTTPEvaluator(config *HTTPEvaluatorConfig, logger zerolog.Logger) *HTTPEvaluator {
	if config == nil {
		config = DefaultHTTPEvaluatorConfig()
	}
	return &HTTPEvaluator{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger.With().Str("component", "ai_evaluator").Logger(),
	}
}

func (e *HTTPEvaluator) Enabled() bool {
	return len(e.config.Providers) > 0
}

type providerRequest struct {
	Symbol     string   `json:"symbol"`
	Direction  string   `json:"direction"`
	EntryPrice float64  `json:"entry_price"`
	StopLoss   float64  `json:"stop_loss"`
	Confidence float64  `json:"confidence"`
	RiskReward float64  `json:"risk_reward"`
	Timeframe  string   `json:"timeframe"`
	Triggers   []string `json:"triggers"`
}

type providerResponse struct {
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
}

// Evaluate queries all providers and aggregates the answers
func (e *HTTPEvaluator) Evaluate(ctx context.Context, sig *signal.TradingSignal) (*Assessment, error) {
	if !e.Enabled() {
		return nil, nil
	}

	body, err := json.Marshal(providerRequest{
		Symbol:     sig.Symbol,
		Direction:  string(sig.Direction),
		EntryPrice: sig.EntryPrice,
		StopLoss:   sig.StopLoss,
		Confidence: sig.Confidence,
		RiskReward: sig.RiskReward,
		Timeframe:  sig.Timeframe,
		Triggers:   sig.Triggers,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal evaluation request: %w", err)
	}

	var (
		total     float64
		answered  []string
		reasoning string
	)
	for _, p := range e.config.Providers {
		score, reason, err := e.queryProvider(ctx, p, body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Warn().Err(err).Str("provider", p.Name).Msg("Provider query failed")
			continue
		}
		total += score
		answered = append(answered, p.Name)
		if reasoning == "" {
			reasoning = reason
		}
	}

	if len(answered) == 0 {
		// Abstain: external review is advisory infrastructure, not a
		// required dependency
		return nil, nil
	}
	required := e.config.RequireQuota
	if required > 0 && len(answered) < required {
		return nil, nil
	}

	avg := total / float64(len(answered))
	return &Assessment{
		Score:     avg,
		Approved:  avg >= e.config.MinScore,
		Providers: answered,
		Reasoning: reasoning,
	}, nil
}

func (e *HTTPEvaluator) queryProvider(ctx context.Context, p Provider, body []byte) (float64, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return 0, "", fmt.Errorf("provider %s returned HTTP %d", p.Name, resp.StatusCode)
	}

	var pr providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return 0, "", fmt.Errorf("decode provider %s response: %w", p.Name, err)
	}
	if pr.Score < 0 || pr.Score > 1 {
		return 0, "", fmt.Errorf("provider %s returned out-of-range score %.2f", p.Name, pr.Score)
	}
	return pr.Score, pr.Reasoning, nil
}
