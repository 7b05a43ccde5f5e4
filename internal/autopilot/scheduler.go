package autopilot

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"crypto-trading-engine/internal/ai"
	"crypto-trading-engine/internal/cache"
	"crypto-trading-engine/internal/execution"
	"crypto-trading-engine/internal/gate"
	"crypto-trading-engine/internal/marketdata"
	"crypto-trading-engine/internal/ml"
	"crypto-trading-engine/internal/screener"
	"crypto-trading-engine/internal/signal"
	"crypto-trading-engine/internal/store"
)

// SchedulerConfig holds cycle scheduling parameters
type SchedulerConfig struct {
	CycleInterval         time.Duration `json:"cycle_interval"`
	MaxConcurrentAnalyses int           `json:"max_concurrent_analyses"`
	SymbolTimeout         time.Duration `json:"symbol_timeout"`
	AnalysisCacheTTL      time.Duration `json:"analysis_cache_ttl"`
	AnalysisCacheSize     int           `json:"analysis_cache_size"`
	StaleLockTimeout      time.Duration `json:"stale_lock_timeout"`
	CycleSoftDeadline     time.Duration `json:"cycle_soft_deadline"`
}

// DefaultSchedulerConfig returns default scheduling parameters
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		CycleInterval:         60 * time.Second,
		MaxConcurrentAnalyses: 5,
		SymbolTimeout:         90 * time.Second,
		AnalysisCacheTTL:      30 * time.Second,
		AnalysisCacheSize:     256,
		StaleLockTimeout:      5 * time.Minute,
		CycleSoftDeadline:     3 * time.Minute,
	}
}

// CycleOutcome records what the most recent cycle for a key did. It is
// retrievable after the cycle ends, independent of later cycles.
type CycleOutcome struct {
	UserID            string                  `json:"user_id"`
	StartedAt         time.Time               `json:"started_at"`
	Duration          time.Duration           `json:"duration"`
	CandidatesScanned int                     `json:"candidates_scanned"`
	Selected          *signal.TradingSignal   `json:"selected,omitempty"`
	Execution         *signal.ExecutionResult `json:"execution,omitempty"`
	Skips             []signal.SkipRecord     `json:"skips,omitempty"`
	Error             string                  `json:"error,omitempty"`
}

// Scheduler drives trading cycles under per-key locks
type Scheduler struct {
	config    SchedulerConfig
	data      *marketdata.Aggregator
	analyzer  *Analyzer
	model     *ml.Model
	evaluator ai.Evaluator
	executor  execution.Executor
	screener  screener.Screener
	settings  store.SettingsStore
	logger    zerolog.Logger

	locks         *lockRegistry
	analysisGate  *gate.Semaphore
	analysisCache *cache.Expiring[*signal.AnalysisResult]

	runs     map[string]RunConfig
	outcomes map[string]*CycleOutcome
	mu       sync.RWMutex
	now      func() time.Time
}

// NewScheduler wires the scheduler and restores persisted run configs
func NewScheduler(
	cfg SchedulerConfig,
	data *marketdata.Aggregator,
	analyzer *Analyzer,
	model *ml.Model,
	evaluator ai.Evaluator,
	executor execution.Executor,
	scr screener.Screener,
	settings store.SettingsStore,
	logger zerolog.Logger,
) *Scheduler {
	s := &Scheduler{
		config:        cfg,
		data:          data,
		analyzer:      analyzer,
		model:         model,
		evaluator:     evaluator,
		executor:      executor,
		screener:      scr,
		settings:      settings,
		logger:        logger.With().Str("component", "scheduler").Logger(),
		locks:         newLockRegistry(cfg.StaleLockTimeout),
		analysisGate:  gate.NewSemaphore(cfg.MaxConcurrentAnalyses),
		analysisCache: cache.NewExpiring[*signal.AnalysisResult](cfg.AnalysisCacheTTL, cfg.AnalysisCacheSize),
		outcomes:      make(map[string]*CycleOutcome),
		now:           time.Now,
	}
	s.runs = restoreActiveRuns(context.Background(), settings, s.logger)
	if len(s.runs) > 0 {
		s.logger.Info().Int("count", len(s.runs)).Msg("Restored active run configs")
	}
	return s
}

// Start launches the periodic decision loop. Every CycleInterval each active
// run config is triggered; runs restored from the settings store resume
// cycling without an external trigger. The loop stops when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	interval := s.config.CycleInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	s.logger.Info().Dur("interval", interval).Msg("Cycle loop started")

	// Immediate pass so restored runs don't wait a full interval
	s.tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Cycle loop stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick triggers every active run. Keys cycle independently; a key whose
// previous cycle is still running just queues behind it and the goroutine
// returns immediately.
func (s *Scheduler) tick(ctx context.Context) {
	for _, cfg := range s.ActiveRuns() {
		go func(cfg RunConfig) {
			s.Trigger(ctx, cfg)
		}(cfg)
	}
}

// Trigger requests a cycle for cfg's user. If a cycle for the same key is
// already running the config is queued (superseding any earlier queued one)
// and runs exactly once after the current cycle finishes. The call blocks
// until every cycle it is responsible for has completed.
func (s *Scheduler) Trigger(ctx context.Context, cfg RunConfig) AcquireOutcome {
	cfg.normalize()
	key := cfg.UserID

	s.mu.Lock()
	s.runs[key] = cfg
	runsCopy := make(map[string]RunConfig, len(s.runs))
	for k, v := range s.runs {
		runsCopy[k] = v
	}
	s.mu.Unlock()
	persistActiveRuns(ctx, s.settings, runsCopy, s.logger)

	outcome, generation := s.locks.TryAcquire(key, cfg)
	switch outcome {
	case AcquireQueued:
		s.logger.Debug().Str("key", key).Msg("Cycle queued behind running cycle")
		return outcome
	case AcquireReclaimed:
		s.logger.Warn().Str("key", key).
			Dur("stale_after", s.config.StaleLockTimeout).
			Msg("Reclaimed stale cycle lock")
	}

	// Drain: run our cycle, then any config queued while we were running
	current := &cfg
	for current != nil {
		s.runCycle(ctx, key, *current)
		current, generation = s.locks.Release(key, generation)
	}
	return outcome
}

// Stop removes a user's active run config
func (s *Scheduler) Stop(ctx context.Context, userID string) {
	s.mu.Lock()
	delete(s.runs, userID)
	runsCopy := make(map[string]RunConfig, len(s.runs))
	for k, v := range s.runs {
		runsCopy[k] = v
	}
	s.mu.Unlock()
	persistActiveRuns(ctx, s.settings, runsCopy, s.logger)
}

// ActiveRuns returns the active run configs
func (s *Scheduler) ActiveRuns() map[string]RunConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]RunConfig, len(s.runs))
	for k, v := range s.runs {
		out[k] = v
	}
	return out
}

// LastOutcome returns the most recent cycle outcome for a key
func (s *Scheduler) LastOutcome(key string) (*CycleOutcome, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.outcomes[key]
	return o, ok
}

// ==================== Cycle body ====================

func (s *Scheduler) runCycle(ctx context.Context, key string, cfg RunConfig) {
	started := s.now()
	outcome := &CycleOutcome{UserID: cfg.UserID, StartedAt: started}
	defer func() {
		outcome.Duration = s.now().Sub(started)
		if outcome.Duration > s.config.CycleSoftDeadline {
			s.logger.Warn().Str("key", key).
				Dur("duration", outcome.Duration).
				Msg("Cycle exceeded soft deadline")
		}
		s.mu.Lock()
		s.outcomes[key] = outcome
		s.mu.Unlock()
	}()

	symbols := s.resolveCandidates(ctx, cfg)
	outcome.CandidatesScanned = len(symbols)
	if len(symbols) == 0 {
		outcome.Error = "no candidates resolved"
		return
	}

	results := s.fanOut(ctx, symbols, cfg, outcome)

	selected := s.selectCandidate(results, cfg, outcome)
	if selected == nil {
		return
	}
	// The selection may live in the shared analysis cache; gate and
	// execution state must never leak back into a cached result
	selected = cloneForGating(selected)
	outcome.Selected = selected.Signal

	if !s.runGates(ctx, selected, cfg, outcome) {
		return
	}

	s.execute(ctx, selected.Signal, cfg, outcome)
}

// resolveCandidates returns the cycle's symbol set, capped
func (s *Scheduler) resolveCandidates(ctx context.Context, cfg RunConfig) []string {
	symbols := cfg.Symbols
	if len(symbols) == 0 && s.screener != nil {
		var err error
		symbols, err = s.screener.TopSymbols(ctx, cfg.MaxCandidates)
		if err != nil || len(symbols) == 0 {
			s.logger.Warn().Err(err).Msg("Screener unavailable, using default universe")
			symbols = screener.DefaultSymbols
		}
	}
	if len(symbols) > cfg.MaxCandidates {
		symbols = symbols[:cfg.MaxCandidates]
	}
	return symbols
}

// fanOut analyzes all candidates bounded by the concurrency gate. A failed
// or timed-out symbol becomes a skip record, never a cycle abort.
func (s *Scheduler) fanOut(ctx context.Context, symbols []string, cfg RunConfig, outcome *CycleOutcome) []*signal.AnalysisResult {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []*signal.AnalysisResult
	)
	for _, symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()

			symbolCtx, cancel := context.WithTimeout(ctx, s.config.SymbolTimeout)
			defer cancel()

			err := s.analysisGate.Run(symbolCtx, func(runCtx context.Context) error {
				res, err := s.analyzeCached(runCtx, symbol, cfg)
				if err != nil {
					return err
				}
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
				return nil
			})
			if err != nil {
				code := signal.SkipNoSignal
				if symbolCtx.Err() == context.DeadlineExceeded {
					code = signal.SkipAnalysisTimeout
				}
				s.logger.Warn().Err(err).Str("symbol", symbol).Msg("Symbol analysis failed")
				mu.Lock()
				outcome.Skips = append(outcome.Skips, signal.SkipRecord{
					Symbol: symbol, Code: code, Detail: err.Error(), Timestamp: s.now(),
				})
				mu.Unlock()
			}
		}(symbol)
	}
	wg.Wait()
	return results
}

// analyzeCached serves repeated triggers from the short-TTL analysis cache
func (s *Scheduler) analyzeCached(ctx context.Context, symbol string, cfg RunConfig) (*signal.AnalysisResult, error) {
	cacheKey := fmt.Sprintf("%s|%s|%s", symbol, cfg.Timeframe, cfg.UserID)
	if cached, ok := s.analysisCache.Get(cacheKey); ok {
		return cached, nil
	}
	res, err := s.analyzer.Analyze(ctx, symbol, cfg)
	if err != nil {
		return nil, err
	}
	s.analysisCache.Set(cacheKey, res)
	return res, nil
}

// selectCandidate filters by thresholds, scores survivors and picks the top.
// When nothing passes it logs the nearest misses and records skips.
func (s *Scheduler) selectCandidate(results []*signal.AnalysisResult, cfg RunConfig, outcome *CycleOutcome) *signal.AnalysisResult {
	type scored struct {
		res   *signal.AnalysisResult
		score float64
	}
	var passing []scored
	var rejected []scored

	for _, res := range results {
		switch {
		case res.DataInsufficient:
			outcome.Skips = append(outcome.Skips, signal.SkipRecord{
				Symbol: res.Symbol, Code: signal.SkipDataInsufficient,
				Detail: res.Reason, Timestamp: s.now(),
			})
			continue
		case res.Synthetic:
			outcome.Skips = append(outcome.Skips, signal.SkipRecord{
				Symbol: res.Symbol, Code: signal.SkipSyntheticData, Timestamp: s.now(),
			})
			continue
		case res.Signal == nil:
			outcome.Skips = append(outcome.Skips, signal.SkipRecord{
				Symbol: res.Symbol, Code: signal.SkipNoSignal,
				Detail: res.Reason, Timestamp: s.now(),
			})
			continue
		}

		sc := s.scoreCandidate(res)
		sig := res.Signal
		if sig.Confidence < cfg.MinConfidence ||
			sig.RiskReward < cfg.MinRiskReward ||
			res.VolatilityPct < cfg.MinVolatilityPct {
			rejected = append(rejected, scored{res, sc})
			outcome.Skips = append(outcome.Skips, signal.SkipRecord{
				Symbol: res.Symbol, Code: signal.SkipBelowThreshold,
				Detail: fmt.Sprintf("confidence %.2f rr %.2f vol %.2f%%",
					sig.Confidence, sig.RiskReward, res.VolatilityPct),
				Timestamp: s.now(),
			})
			continue
		}
		passing = append(passing, scored{res, sc})
	}

	if len(passing) == 0 {
		sort.Slice(rejected, func(i, j int) bool { return rejected[i].score > rejected[j].score })
		for i, r := range rejected {
			if i >= 3 {
				break
			}
			s.logger.Info().
				Str("symbol", r.res.Symbol).
				Float64("score", r.score).
				Float64("confidence", r.res.Signal.Confidence).
				Msg("Closest rejected candidate")
		}
		return nil
	}

	sort.Slice(passing, func(i, j int) bool { return passing[i].score > passing[j].score })
	return passing[0].res
}

// scoreCandidate blends confidence, risk-reward, confluence strength and the
// model's win probability into one ranking score
func (s *Scheduler) scoreCandidate(res *signal.AnalysisResult) float64 {
	sig := res.Signal
	rr := sig.RiskReward / 3.0
	if rr > 1 {
		rr = 1
	}
	confluenceStrength := 0.5
	if res.Confluence {
		confluenceStrength = 1.0
	}
	return 0.40*sig.Confidence +
		0.20*rr +
		0.20*confluenceStrength +
		0.20*s.model.Predict(sig)
}

// ==================== Risk gates ====================

// Override floors for the ML gate's strong-technical path
const (
	overrideConfidence  = 0.80
	overrideRiskReward  = 2.0
	overrideMinProb     = 0.45
	trendBlockBelowConf = 0.80
)

// cloneForGating copies an analysis result and its signal so the gate
// pipeline can annotate the signal without mutating the cached original
func cloneForGating(res *signal.AnalysisResult) *signal.AnalysisResult {
	out := *res
	if res.Signal != nil {
		sig := *res.Signal
		out.Signal = &sig
	}
	return &out
}

// runGates walks the sequential pipeline. Order is fixed for
// reproducibility; any failure records a skip and stops.
func (s *Scheduler) runGates(ctx context.Context, res *signal.AnalysisResult, cfg RunConfig, outcome *CycleOutcome) bool {
	sig := res.Signal

	// a. Execution enabled
	if !cfg.ExecutionEnabled || s.executor == nil || !s.executor.Enabled() {
		s.recordSkip(outcome, sig.Symbol, signal.SkipExecutionOff, "")
		return false
	}

	// b. Against higher-timeframe trend
	if res.HigherTrend != signal.Neutral &&
		res.HigherTrend != sig.Direction &&
		sig.Confidence < trendBlockBelowConf {
		s.recordSkip(outcome, sig.Symbol, signal.SkipAgainstTrend,
			fmt.Sprintf("4h trend is %s", res.HigherTrend))
		return false
	}

	// c. Minimum risk-reward
	if sig.RiskReward < cfg.MinRiskReward {
		s.recordSkip(outcome, sig.Symbol, signal.SkipLowRiskReward,
			fmt.Sprintf("%.2f < %.2f", sig.RiskReward, cfg.MinRiskReward))
		return false
	}

	// d. ML win-probability gate, bypassed while the model is cold
	if s.model.Ready(sig) {
		prob := s.model.Predict(sig)
		sig.AIWinProbability = &prob

		strongTechnical := sig.Confidence >= overrideConfidence && sig.RiskReward >= overrideRiskReward
		floor := s.model.Threshold()
		if strongTechnical {
			floor = overrideMinProb
		}
		if prob < floor {
			s.recordSkip(outcome, sig.Symbol, signal.SkipMLRejected,
				fmt.Sprintf("win probability %.2f below %.2f", prob, floor))
			return false
		}
	}

	// e. External AI review, only for candidates that survived a-d
	if s.evaluator != nil && s.evaluator.Enabled() {
		assessment, err := s.evaluator.Evaluate(ctx, sig)
		if err != nil {
			s.logger.Warn().Err(err).Str("symbol", sig.Symbol).Msg("AI evaluation failed, continuing")
		} else if assessment != nil {
			if sig.AIWinProbability == nil {
				sig.AIWinProbability = &assessment.Score
			}
			if cfg.AIBlockEnabled && !assessment.Approved {
				s.recordSkip(outcome, sig.Symbol, signal.SkipAIRejected,
					fmt.Sprintf("score %.2f from %v", assessment.Score, assessment.Providers))
				return false
			}
		}
	}

	// f. Funding-rate direction
	if fr, err := s.data.GetFundingRate(ctx, sig.Symbol); err == nil && fr != nil {
		if sig.Direction == signal.Long && fr.FundingRate > cfg.MaxFundingRate {
			s.recordSkip(outcome, sig.Symbol, signal.SkipFundingRate,
				fmt.Sprintf("funding %.5f against LONG", fr.FundingRate))
			return false
		}
		if sig.Direction == signal.Short && fr.FundingRate < -cfg.MaxFundingRate {
			s.recordSkip(outcome, sig.Symbol, signal.SkipFundingRate,
				fmt.Sprintf("funding %.5f against SHORT", fr.FundingRate))
			return false
		}
	}

	return true
}

func (s *Scheduler) recordSkip(outcome *CycleOutcome, symbol string, code signal.SkipCode, detail string) {
	outcome.Skips = append(outcome.Skips, signal.SkipRecord{
		Symbol: symbol, Code: code, Detail: detail, Timestamp: s.now(),
	})
	s.logger.Info().Str("symbol", symbol).Str("skip", string(code)).Str("detail", detail).Msg("Candidate gated")
}

// execute hands the signal to the execution collaborator and records the
// result, best-effort persisting the audit row
func (s *Scheduler) execute(ctx context.Context, sig *signal.TradingSignal, cfg RunConfig, outcome *CycleOutcome) {
	opts := execution.Options{
		AccountBalance:  cfg.AccountBalance,
		RiskPerTradePct: cfg.RiskPerTradePct,
		Leverage:        cfg.Leverage,
		MaxPositionUSD:  cfg.MaxPositionUSD,
	}
	result := s.executor.ExecuteSignal(ctx, sig, opts)
	outcome.Execution = &result

	if result.OK {
		s.logger.Info().
			Str("symbol", sig.Symbol).
			Str("direction", string(sig.Direction)).
			Str("order_id", result.OrderID).
			Float64("size", result.PositionSize).
			Msg("Signal executed")
	} else {
		s.recordSkip(outcome, sig.Symbol, signal.SkipExecutionFailed, result.Error)
	}

	if s.settings != nil {
		if err := s.settings.RecordSignal(ctx, cfg.UserID, sig, result); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to persist executed signal")
		}
	}
}

// Status returns scheduler diagnostics
func (s *Scheduler) Status() map[string]interface{} {
	s.mu.RLock()
	outcomes := make(map[string]*CycleOutcome, len(s.outcomes))
	for k, v := range s.outcomes {
		outcomes[k] = v
	}
	activeRuns := len(s.runs)
	s.mu.RUnlock()

	return map[string]interface{}{
		"locks":            s.locks.States(),
		"active_runs":      activeRuns,
		"last_outcomes":    outcomes,
		"analyses_active":  s.analysisGate.Active(),
		"analyses_waiting": s.analysisGate.Waiting(),
		"analysis_cache":   s.analysisCache.Size(),
	}
}
