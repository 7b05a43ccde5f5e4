// Package ai defines the optional external signal evaluator. The scheduler
// consults it only after every deterministic risk gate has already passed;
// the evaluator can veto a trade but never resurrect one.
package ai

import (
	"context"

	"crypto-trading-engine/internal/signal"
)

// Assessment is an external evaluator's verdict on a signal
type Assessment struct {
	Score     float64  `json:"score"` // 0..1
	Approved  bool     `json:"approved"`
	Providers []string `json:"providers"`
	Reasoning string   `json:"reasoning,omitempty"`
}

// Evaluator reviews a fully gated signal. A (nil, nil) return means the
// evaluator abstains and the trade proceeds on the deterministic verdict.
type Evaluator interface {
	Evaluate(ctx context.Context, sig *signal.TradingSignal) (*Assessment, error)
	Enabled() bool
}

// DisabledEvaluator always abstains. It is the default wiring.
type DisabledEvaluator struct{}

func NewDisabledEvaluator() *DisabledEvaluator { return &DisabledEvaluator{} }

func (d *DisabledEvaluator) Evaluate(ctx context.Context, sig *signal.TradingSignal) (*Assessment, error) {
	return nil, nil
}

func (d *DisabledEvaluator) Enabled() bool { return false }
