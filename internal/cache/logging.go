package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"iss-tracker-gateway/internal/fetch"
	"iss-tracker-gateway/internal/metrics"
	"iss-tracker-gateway/pkg/logging/logging"
)

// LoggingStorage wraps a Storage so every store it opens logs and records
// metrics.
type LoggingStorage struct {
	Storage
}

// NewLoggingStorage returns a storage whose stores log and record metrics.
func NewLoggingStorage(inner Storage) Storage {
	return &LoggingStorage{Storage: inner}
}

func (s *LoggingStorage) Open(ctx context.Context, name string) (Store, error) {
	st, err := s.Storage.Open(ctx, name)
	if err != nil {
		logging.L(ctx).Error("cache_open", zap.String("cache", name), zap.Error(err))
		return nil, err
	}
	return &LoggingStore{inner: st}, nil
}

// LoggingStore wraps a Store with logging + metrics.
type LoggingStore struct {
	inner Store
}

func (c *LoggingStore) Name() string { return c.inner.Name() }

func (c *LoggingStore) Match(ctx context.Context, key string) (*fetch.Response, error) {
	start := time.Now()
	resp, err := c.inner.Match(ctx, key)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	result := "miss"
	if err != nil {
		result = "error"
	} else if resp != nil {
		result = "hit"
	}
	metrics.CacheLookupsTotal.WithLabelValues(c.inner.Name(), result).Inc()

	fields := []zap.Field{
		zap.String("cache", c.inner.Name()),
		zap.String("key", key),
		zap.String("cache_result", result), // hit | miss | error
		zap.Float64("latency_ms", latencyMs),
	}

	logger := logging.L(ctx)
	if err != nil {
		logger.Error("cache_match", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("cache_match", fields...)
	}

	return resp, err
}

func (c *LoggingStore) Put(ctx context.Context, key string, resp *fetch.Response) error {
	start := time.Now()
	err := c.inner.Put(ctx, key, resp)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	fields := []zap.Field{
		zap.String("cache", c.inner.Name()),
		zap.String("key", key),
		zap.Int("status", resp.Status),
		zap.Int("bytes", len(resp.Body)),
		zap.Float64("latency_ms", latencyMs),
	}

	logger := logging.L(ctx)
	if err != nil {
		logger.Error("cache_put", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("cache_put", fields...)
	}

	return err
}

func (c *LoggingStore) Delete(ctx context.Context, key string) (bool, error) {
	ok, err := c.inner.Delete(ctx, key)
	if err != nil {
		logging.L(ctx).Error("cache_delete",
			zap.String("cache", c.inner.Name()),
			zap.String("key", key),
			zap.Error(err),
		)
	}
	return ok, err
}

func (c *LoggingStore) Keys(ctx context.Context) ([]string, error) {
	return c.inner.Keys(ctx)
}
