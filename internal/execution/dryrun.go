package execution

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"crypto-trading-engine/internal/signal"
)

// PaperOrder is one simulated fill
type PaperOrder struct {
	OrderID      string    `json:"order_id"`
	Symbol       string    `json:"symbol"`
	Direction    string    `json:"direction"`
	EntryPrice   float64   `json:"entry_price"`
	StopLoss     float64   `json:"stop_loss"`
	TakeProfits  []float64 `json:"take_profits"`
	PositionSize float64   `json:"position_size"`
	PlacedAt     time.Time `json:"placed_at"`
}

// DryRunExecutor simulates fills at the signal's entry price and keeps an
// in-memory order log. It is the default executor; live venue execution
// swaps in behind the same interface.
type DryRunExecutor struct {
	logger zerolog.Logger
	orders []PaperOrder
	mu     sync.RWMutex
}

// NewDryRunExecutor creates a paper-trading executor
func NewDryRunExecutor(logger zerolog.Logger) *DryRunExecutor {
	return &DryRunExecutor{
		logger: logger.With().Str("component", "dryrun_executor").Logger(),
	}
}

func (d *DryRunExecutor) Enabled() bool { return true }

// ExecuteSignal records a simulated fill. It never returns a Go error; a
// sizing failure comes back inside the result.
func (d *DryRunExecutor) ExecuteSignal(ctx context.Context, sig *signal.TradingSignal, opts Options) (result signal.ExecutionResult) {
	defer guard(&result)

	if err := ctx.Err(); err != nil {
		result.Error = err.Error()
		return result
	}

	size, err := PositionSize(sig, opts)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	order := PaperOrder{
		OrderID:      uuid.New().String(),
		Symbol:       sig.Symbol,
		Direction:    string(sig.Direction),
		EntryPrice:   sig.EntryPrice,
		StopLoss:     sig.StopLoss,
		TakeProfits:  sig.TakeProfits,
		PositionSize: size,
		PlacedAt:     time.Now(),
	}

	d.mu.Lock()
	d.orders = append(d.orders, order)
	d.mu.Unlock()

	d.logger.Info().
		Str("symbol", sig.Symbol).
		Str("direction", string(sig.Direction)).
		Float64("entry", sig.EntryPrice).
		Float64("size", size).
		Str("order_id", order.OrderID).
		Msg("Paper order placed")

	result.OK = true
	result.OrderID = order.OrderID
	result.PositionSize = size
	return result
}

// Orders returns a copy of the simulated order log
func (d *DryRunExecutor) Orders() []PaperOrder {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]PaperOrder, len(d.orders))
	copy(out, d.orders)
	return out
}
