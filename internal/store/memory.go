package store

import (
	"context"
	"sync"
	"time"

	"crypto-trading-engine/internal/signal"
)

// MemoryStore is the in-process fallback when PostgreSQL is not configured
type MemoryStore struct {
	settings map[string]map[string]string // userID -> key -> value
	signals  []ExecutedSignal
	mu       sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{settings: make(map[string]map[string]string)}
}

func (m *MemoryStore) GetSetting(ctx context.Context, userID, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.settings[userID][key]
	return v, ok, nil
}

func (m *MemoryStore) SetSetting(ctx context.Context, userID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settings[userID] == nil {
		m.settings[userID] = make(map[string]string)
	}
	m.settings[userID][key] = value
	return nil
}

func (m *MemoryStore) AllSettings(ctx context.Context, userID string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.settings[userID]))
	for k, v := range m.settings[userID] {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) RecordSignal(ctx context.Context, userID string, sig *signal.TradingSignal, result signal.ExecutionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals = append(m.signals, ExecutedSignal{
		UserID:       userID,
		Symbol:       sig.Symbol,
		Direction:    string(sig.Direction),
		EntryPrice:   sig.EntryPrice,
		StopLoss:     sig.StopLoss,
		Confidence:   sig.Confidence,
		RiskReward:   sig.RiskReward,
		Timeframe:    sig.Timeframe,
		OrderID:      result.OrderID,
		OK:           result.OK,
		Error:        result.Error,
		PositionSize: result.PositionSize,
		ExecutedAt:   time.Now(),
	})
	return nil
}

// Signals returns a copy of the recorded audit log
func (m *MemoryStore) Signals() []ExecutedSignal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ExecutedSignal, len(m.signals))
	copy(out, m.signals)
	return out
}

func (m *MemoryStore) Close() {}
