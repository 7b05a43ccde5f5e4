package autopilot

import (
	"context"
	"sync"
	"testing"
	"time"

	"crypto-trading-engine/internal/ai"
	"crypto-trading-engine/internal/confluence"
	"crypto-trading-engine/internal/execution"
	"crypto-trading-engine/internal/logging"
	"crypto-trading-engine/internal/marketdata"
	"crypto-trading-engine/internal/ml"
	"crypto-trading-engine/internal/screener"
	"crypto-trading-engine/internal/signal"
	"crypto-trading-engine/internal/store"
	"crypto-trading-engine/internal/venue"
)

// newTestScheduler builds a scheduler over the synthetic venue so cycles run
// without touching the network
func newTestScheduler(t *testing.T, model *ml.Model) *Scheduler {
	t.Helper()

	mdCfg := marketdata.DefaultConfig()
	mdCfg.MaxPerSecond = 20
	agg := marketdata.New(mdCfg,
		[]venue.Client{venue.NewSyntheticClient()},
		venue.NewSyntheticClient(),
		nil, nil, logging.Nop())

	analyzer := NewAnalyzer(agg, confluence.NewEngine(), logging.Nop())
	if model == nil {
		model = ml.NewModel(nil)
	}
	return NewScheduler(
		DefaultSchedulerConfig(),
		agg,
		analyzer,
		model,
		ai.NewDisabledEvaluator(),
		execution.NewDryRunExecutor(logging.Nop()),
		screener.NewStaticScreener(nil),
		store.NewMemoryStore(),
		logging.Nop(),
	)
}

func TestSchedulerRunsCycleAndRecordsOutcome(t *testing.T) {
	s := newTestScheduler(t, nil)

	cfg := DefaultRunConfig("u1")
	cfg.Symbols = []string{"BTCUSDT"}

	if got := s.Trigger(context.Background(), cfg); got != AcquireStarted {
		t.Fatalf("Trigger = %v, want started", got)
	}

	outcome, ok := s.LastOutcome("u1")
	if !ok {
		t.Fatal("no outcome recorded")
	}
	if outcome.CandidatesScanned != 1 {
		t.Fatalf("CandidatesScanned = %d, want 1", outcome.CandidatesScanned)
	}
	if s.locks.Held("u1") {
		t.Fatal("lock should be idle after the cycle")
	}
	if s.analysisCache.Size() == 0 {
		t.Fatal("analysis result should be cached")
	}
}

func TestSchedulerResumesRestoredRuns(t *testing.T) {
	settings := store.NewMemoryStore()
	run := DefaultRunConfig("u1")
	run.Symbols = []string{"BTCUSDT"}
	persistActiveRuns(context.Background(), settings, map[string]RunConfig{"u1": run}, logging.Nop())

	mdCfg := marketdata.DefaultConfig()
	mdCfg.MaxPerSecond = 20
	agg := marketdata.New(mdCfg,
		[]venue.Client{venue.NewSyntheticClient()},
		venue.NewSyntheticClient(),
		nil, nil, logging.Nop())

	schedCfg := DefaultSchedulerConfig()
	schedCfg.CycleInterval = 50 * time.Millisecond
	s := NewScheduler(
		schedCfg,
		agg,
		NewAnalyzer(agg, confluence.NewEngine(), logging.Nop()),
		ml.NewModel(nil),
		ai.NewDisabledEvaluator(),
		execution.NewDryRunExecutor(logging.Nop()),
		screener.NewStaticScreener(nil),
		settings,
		logging.Nop(),
	)
	if len(s.ActiveRuns()) != 1 {
		t.Fatal("persisted run config was not restored")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	// No external trigger: the loop alone must produce a cycle
	deadline := time.Now().Add(3 * time.Second)
	for {
		if outcome, ok := s.LastOutcome("u1"); ok {
			if outcome.CandidatesScanned != 1 {
				t.Fatalf("CandidatesScanned = %d, want 1", outcome.CandidatesScanned)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("restored run never produced a cycle")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSchedulerSupersede(t *testing.T) {
	s := newTestScheduler(t, nil)

	// Unknown symbols still resolve synthetically; six of them keep the
	// first cycle busy long enough to queue behind
	slow := DefaultRunConfig("u1")
	slow.Symbols = []string{"AAAUSDT", "BBBUSDT", "CCCUSDT", "DDDUSDT", "EEEUSDT", "FFFUSDT"}
	slow.MaxCandidates = 6

	var wg sync.WaitGroup
	wg.Add(1)
	started := make(chan AcquireOutcome, 1)
	go func() {
		defer wg.Done()
		started <- s.Trigger(context.Background(), slow)
	}()

	// Wait until the first cycle actually holds the lock
	deadline := time.Now().Add(2 * time.Second)
	for !s.locks.Held("u1") {
		if time.Now().After(deadline) {
			t.Fatal("first cycle never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	q1 := DefaultRunConfig("u1")
	q1.Symbols = []string{"ETHUSDT"}
	if got := s.Trigger(context.Background(), q1); got != AcquireQueued {
		t.Fatalf("second trigger = %v, want queued", got)
	}

	q2 := DefaultRunConfig("u1")
	q2.Symbols = []string{"BNBUSDT", "SOLUSDT"}
	if got := s.Trigger(context.Background(), q2); got != AcquireQueued {
		t.Fatalf("third trigger = %v, want queued", got)
	}

	wg.Wait()
	if got := <-started; got != AcquireStarted {
		t.Fatalf("first trigger = %v, want started", got)
	}

	// The queued slot ran exactly once, with the superseding parameters
	outcome, ok := s.LastOutcome("u1")
	if !ok {
		t.Fatal("no outcome recorded")
	}
	if outcome.CandidatesScanned != 2 {
		t.Fatalf("final outcome scanned %d candidates, want the superseding config's 2",
			outcome.CandidatesScanned)
	}
	if s.locks.Held("u1") {
		t.Fatal("lock should be idle after the drain")
	}
}

func TestSchedulerStaleLockReclaim(t *testing.T) {
	s := newTestScheduler(t, nil)
	base := time.Now()
	now := base
	s.locks.now = func() time.Time { return now }

	// Simulate a hung cycle by acquiring without releasing
	if got, _ := s.locks.TryAcquire("u1", DefaultRunConfig("u1")); got != AcquireStarted {
		t.Fatalf("setup acquire = %v", got)
	}

	now = base.Add(6 * time.Minute)
	cfg := DefaultRunConfig("u1")
	cfg.Symbols = []string{"BTCUSDT"}
	if got := s.Trigger(context.Background(), cfg); got != AcquireReclaimed {
		t.Fatalf("Trigger past stale window = %v, want reclaimed", got)
	}

	if _, ok := s.LastOutcome("u1"); !ok {
		t.Fatal("reclaimed trigger should have run a cycle")
	}
	if s.locks.Held("u1") {
		t.Fatal("lock should be idle after the reclaimed cycle")
	}
}

// ==================== Risk-gate pipeline ====================

func gatedResult(conf, rr float64, dir, htf signal.Direction) *signal.AnalysisResult {
	return &signal.AnalysisResult{
		Symbol:      "BTCUSDT",
		Timeframe:   "15m",
		Confluence:  true,
		HigherTrend: htf,
		Signal: &signal.TradingSignal{
			Symbol:     "BTCUSDT",
			Direction:  dir,
			EntryPrice: 100000,
			StopLoss:   99000,
			Confidence: conf,
			RiskReward: rr,
			Timeframe:  "15m",
		},
	}
}

func lastSkip(outcome *CycleOutcome) signal.SkipCode {
	if len(outcome.Skips) == 0 {
		return signal.SkipNone
	}
	return outcome.Skips[len(outcome.Skips)-1].Code
}

func TestGatesExecutionDisabled(t *testing.T) {
	s := newTestScheduler(t, nil)
	cfg := DefaultRunConfig("u1") // ExecutionEnabled false
	outcome := &CycleOutcome{}

	if s.runGates(context.Background(), gatedResult(0.75, 2.5, signal.Long, signal.Long), cfg, outcome) {
		t.Fatal("gates should fail with execution disabled")
	}
	if got := lastSkip(outcome); got != signal.SkipExecutionOff {
		t.Fatalf("skip = %s, want %s", got, signal.SkipExecutionOff)
	}
}

func TestGatesAgainstTrend(t *testing.T) {
	s := newTestScheduler(t, nil)
	cfg := DefaultRunConfig("u1")
	cfg.ExecutionEnabled = true
	outcome := &CycleOutcome{}

	// SHORT against a LONG 4h trend below the confidence floor
	if s.runGates(context.Background(), gatedResult(0.70, 2.5, signal.Short, signal.Long), cfg, outcome) {
		t.Fatal("gates should block a counter-trend trade")
	}
	if got := lastSkip(outcome); got != signal.SkipAgainstTrend {
		t.Fatalf("skip = %s, want %s", got, signal.SkipAgainstTrend)
	}

	// High enough confidence overrides the trend block
	outcome = &CycleOutcome{}
	if !s.runGates(context.Background(), gatedResult(0.85, 2.5, signal.Short, signal.Long), cfg, outcome) {
		t.Fatalf("high-confidence counter-trend trade should pass, skip = %s", lastSkip(outcome))
	}
}

func TestGatesMinRiskReward(t *testing.T) {
	s := newTestScheduler(t, nil)
	cfg := DefaultRunConfig("u1")
	cfg.ExecutionEnabled = true
	cfg.MinRiskReward = 2.0
	outcome := &CycleOutcome{}

	if s.runGates(context.Background(), gatedResult(0.75, 1.2, signal.Long, signal.Long), cfg, outcome) {
		t.Fatal("gates should block a low risk-reward trade")
	}
	if got := lastSkip(outcome); got != signal.SkipLowRiskReward {
		t.Fatalf("skip = %s, want %s", got, signal.SkipLowRiskReward)
	}
}

func TestGatesMLRejectsWarmModel(t *testing.T) {
	model := ml.NewModel(&ml.ModelConfig{
		PriorProbability:  0.50,
		MinSamples:        5,
		FullWeightAt:      10,
		MinWinProbability: 0.55,
	})
	s := newTestScheduler(t, model)
	cfg := DefaultRunConfig("u1")
	cfg.ExecutionEnabled = true
	outcome := &CycleOutcome{}

	res := gatedResult(0.70, 2.0, signal.Long, signal.Long)
	// Teach the bucket to lose
	for i := 0; i < 10; i++ {
		model.Update(res.Signal, false)
	}

	if s.runGates(context.Background(), res, cfg, outcome) {
		t.Fatal("warm losing bucket should be rejected")
	}
	if got := lastSkip(outcome); got != signal.SkipMLRejected {
		t.Fatalf("skip = %s, want %s", got, signal.SkipMLRejected)
	}
	if res.Signal.AIWinProbability == nil {
		t.Fatal("gate should record the predicted probability on the signal")
	}
}

func TestGatesAnnotateCloneNotCachedResult(t *testing.T) {
	model := ml.NewModel(&ml.ModelConfig{
		PriorProbability:  0.50,
		MinSamples:        5,
		FullWeightAt:      10,
		MinWinProbability: 0.55,
	})
	s := newTestScheduler(t, model)
	cfg := DefaultRunConfig("u1")
	cfg.ExecutionEnabled = true

	cached := gatedResult(0.70, 2.0, signal.Long, signal.Long)
	for i := 0; i < 10; i++ {
		model.Update(cached.Signal, true)
	}

	clone := cloneForGating(cached)
	if clone == cached || clone.Signal == cached.Signal {
		t.Fatal("clone must not alias the cached result")
	}

	s.runGates(context.Background(), clone, cfg, &CycleOutcome{})
	if clone.Signal.AIWinProbability == nil {
		t.Fatal("gate should annotate the clone's signal")
	}
	if cached.Signal.AIWinProbability != nil {
		t.Fatal("cached analysis result was mutated by the gate pipeline")
	}
}

func TestGatesColdModelBypassed(t *testing.T) {
	s := newTestScheduler(t, nil)
	cfg := DefaultRunConfig("u1")
	cfg.ExecutionEnabled = true
	outcome := &CycleOutcome{}

	// Cold model, everything else healthy: the pipeline should pass through
	// to the funding gate and succeed on the synthetic rate
	if !s.runGates(context.Background(), gatedResult(0.75, 2.5, signal.Long, signal.Long), cfg, outcome) {
		t.Fatalf("cold model should be bypassed, skip = %s", lastSkip(outcome))
	}
}

func TestGatesFundingRateBlocks(t *testing.T) {
	s := newTestScheduler(t, nil)
	cfg := DefaultRunConfig("u1")
	cfg.ExecutionEnabled = true
	cfg.MaxFundingRate = 0.00005 // below the synthetic venue's 0.0001
	outcome := &CycleOutcome{}

	if s.runGates(context.Background(), gatedResult(0.75, 2.5, signal.Long, signal.Long), cfg, outcome) {
		t.Fatal("positive funding above the cap should block a LONG")
	}
	if got := lastSkip(outcome); got != signal.SkipFundingRate {
		t.Fatalf("skip = %s, want %s", got, signal.SkipFundingRate)
	}

	// A SHORT leans with positive funding and passes
	outcome = &CycleOutcome{}
	if !s.runGates(context.Background(), gatedResult(0.85, 2.5, signal.Short, signal.Short), cfg, outcome) {
		t.Fatalf("SHORT with positive funding should pass, skip = %s", lastSkip(outcome))
	}
}
