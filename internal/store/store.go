// Package store persists per-user autopilot settings and the executed-signal
// audit log in PostgreSQL. Persistence is best effort everywhere: trading
// never stops because the database is down, callers fall back to in-memory
// state.
package store

import (
	"context"
	"time"

	"crypto-trading-engine/internal/signal"
)

// SettingsStore persists per-user key/value settings and executed signals
type SettingsStore interface {
	GetSetting(ctx context.Context, userID, key string) (string, bool, error)
	SetSetting(ctx context.Context, userID, key, value string) error
	AllSettings(ctx context.Context, userID string) (map[string]string, error)
	RecordSignal(ctx context.Context, userID string, sig *signal.TradingSignal, result signal.ExecutionResult) error
	Close()
}

// ExecutedSignal is one row of the audit log
type ExecutedSignal struct {
	UserID       string
	Symbol       string
	Direction    string
	EntryPrice   float64
	StopLoss     float64
	Confidence   float64
	RiskReward   float64
	Timeframe    string
	OrderID      string
	OK           bool
	Error        string
	PositionSize float64
	ExecutedAt   time.Time
}
