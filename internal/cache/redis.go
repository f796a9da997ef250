package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/screener-back/pkg/config"
	"github.com/screener-back/pkg/models"
)

// RedisClient handles Redis caching operations
type RedisClient struct {
	client    *redis.Client
	logger    *logrus.Entry
	cfg       *config.RedisConfig
	candleTTL time.Duration
}

// NewRedisClient creates a new Redis client
func NewRedisClient(cfg *config.RedisConfig, logger *logrus.Logger) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolTimeout:  4 * time.Second,
		IdleTimeout:  5 * time.Minute,
		MaxRetries:   2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	candleTTL := cfg.CandleTTL
	if candleTTL <= 0 {
		candleTTL = 30 * time.Second
	}

	return &RedisClient{
		client:    client,
		logger:    logger.WithField("component", "redis"),
		cfg:       cfg,
		candleTTL: candleTTL,
	}, nil
}

// Close closes the Redis connection
func (rc *RedisClient) Close() error {
	return rc.client.Close()
}

// Health checks Redis health
func (rc *RedisClient) Health(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// Candle operations

// GetCandles returns cached candles for a symbol/interval. A miss or a
// Redis error reads as a miss; the caller falls through to the exchange.
func (rc *RedisClient) GetCandles(ctx context.Context, symbol, interval string) ([]*models.Candle, bool) {
	key := fmt.Sprintf("candles:%s:%s", symbol, interval)

	data, err := rc.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		rc.logger.WithError(err).WithField("symbol", symbol).Debug("Candle cache read failed")
		return nil, false
	}

	var candles []*models.Candle
	if err := json.Unmarshal([]byte(data), &candles); err != nil {
		rc.logger.WithError(err).WithField("symbol", symbol).Debug("Candle cache decode failed")
		return nil, false
	}

	return candles, true
}

// SetCandles caches candles with the configured TTL. Failures are logged
// and ignored.
func (rc *RedisClient) SetCandles(ctx context.Context, symbol, interval string, candles []*models.Candle) {
	key := fmt.Sprintf("candles:%s:%s", symbol, interval)

	data, err := json.Marshal(candles)
	if err != nil {
		rc.logger.WithError(err).WithField("symbol", symbol).Debug("Candle cache encode failed")
		return
	}

	if err := rc.client.Set(ctx, key, data, rc.candleTTL).Err(); err != nil {
		rc.logger.WithError(err).WithField("symbol", symbol).Debug("Candle cache write failed")
	}
}

// Metric snapshot operations

// SetMetricsBatch caches metric rows in a pipeline keyed by symbol
func (rc *RedisClient) SetMetricsBatch(ctx context.Context, rows []*models.SymbolMetrics) error {
	if len(rows) == 0 {
		return nil
	}

	pipe := rc.client.Pipeline()
	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("failed to marshal metrics for %s: %w", row.Symbol, err)
		}
		pipe.Set(ctx, fmt.Sprintf("metrics:%s", row.Symbol), data, 5*time.Minute)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// GetMetrics returns the cached row for one symbol, nil when absent
func (rc *RedisClient) GetMetrics(ctx context.Context, symbol string) (*models.SymbolMetrics, error) {
	data, err := rc.client.Get(ctx, fmt.Sprintf("metrics:%s", symbol)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics: %w", err)
	}

	var row models.SymbolMetrics
	if err := json.Unmarshal([]byte(data), &row); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metrics: %w", err)
	}

	return &row, nil
}

// Generic operations

// SetJSON stores a JSON-encoded value
func (rc *RedisClient) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	return rc.client.Set(ctx, key, data, expiration).Err()
}

// GetJSON retrieves and decodes a JSON value
func (rc *RedisClient) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := rc.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal value: %w", err)
	}

	return true, nil
}

// Delete removes keys
func (rc *RedisClient) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return rc.client.Del(ctx, keys...).Err()
}
