package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"crypto-trading-engine/internal/market"
)

// Key prefixes for the persisted market-data tier
const (
	prefixCandles   = "md:candles:%s"
	prefixOrderBook = "md:book:%s"
	prefixTrades    = "md:trades:%s"
	prefixPrice     = "md:price:%s"
)

// RedisStore is the longer-TTL persisted cache tier that sits between the
// stream snapshots and the REST venues in the aggregation chain. All
// operations are best-effort: a Redis outage degrades to a miss, never to a
// hard failure.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// RedisConfig holds connection settings for the persisted tier
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	TTLSec   int    `json:"ttl_seconds"`
}

// NewRedisStore connects to Redis and verifies connectivity. Returns an
// error when the store is enabled but unreachable; callers may run without
// the persisted tier entirely.
func NewRedisStore(cfg RedisConfig, logger zerolog.Logger) (*RedisStore, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis persisted cache is not enabled")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	ttl := time.Duration(cfg.TTLSec) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &RedisStore{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "redis_store").Logger(),
	}, nil
}

// Close releases the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) get(ctx context.Context, key string, out interface{}) bool {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Debug().Err(err).Str("key", key).Msg("persisted cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("persisted cache entry corrupt, dropping")
		s.client.Del(ctx, key)
		return false
	}
	return true
}

func (s *RedisStore) set(ctx context.Context, key string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		s.logger.Debug().Err(err).Str("key", key).Msg("persisted cache write failed")
	}
}

// GetCandles returns the persisted candle series for a cache key
func (s *RedisStore) GetCandles(ctx context.Context, key string) ([]market.Candle, bool) {
	var candles []market.Candle
	if !s.get(ctx, fmt.Sprintf(prefixCandles, key), &candles) || len(candles) == 0 {
		return nil, false
	}
	return candles, true
}

// SetCandles persists a candle series under a cache key
func (s *RedisStore) SetCandles(ctx context.Context, key string, candles []market.Candle) {
	s.set(ctx, fmt.Sprintf(prefixCandles, key), candles)
}

// GetOrderBook returns the persisted order book snapshot for a cache key
func (s *RedisStore) GetOrderBook(ctx context.Context, key string) (*market.OrderBookSnapshot, bool) {
	var snap market.OrderBookSnapshot
	if !s.get(ctx, fmt.Sprintf(prefixOrderBook, key), &snap) || len(snap.Bids) == 0 {
		return nil, false
	}
	return &snap, true
}

// SetOrderBook persists an order book snapshot under a cache key
func (s *RedisStore) SetOrderBook(ctx context.Context, key string, snap *market.OrderBookSnapshot) {
	s.set(ctx, fmt.Sprintf(prefixOrderBook, key), snap)
}

// GetTrades returns the persisted trade tape for a cache key
func (s *RedisStore) GetTrades(ctx context.Context, key string) ([]market.TradeTick, bool) {
	var ticks []market.TradeTick
	if !s.get(ctx, fmt.Sprintf(prefixTrades, key), &ticks) || len(ticks) == 0 {
		return nil, false
	}
	return ticks, true
}

// SetTrades persists a trade tape under a cache key
func (s *RedisStore) SetTrades(ctx context.Context, key string, ticks []market.TradeTick) {
	s.set(ctx, fmt.Sprintf(prefixTrades, key), ticks)
}

// GetPrice returns the persisted last price for a symbol
func (s *RedisStore) GetPrice(ctx context.Context, symbol string) (float64, bool) {
	var price float64
	if !s.get(ctx, fmt.Sprintf(prefixPrice, symbol), &price) || price <= 0 {
		return 0, false
	}
	return price, true
}

// SetPrice persists the last price for a symbol
func (s *RedisStore) SetPrice(ctx context.Context, symbol string, price float64) {
	s.set(ctx, fmt.Sprintf(prefixPrice, symbol), price)
}
