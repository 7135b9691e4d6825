package expiration

import (
	"context"
	"time"

	"go.uber.org/zap"

	"iss-tracker-gateway/internal/cache"
	"iss-tracker-gateway/internal/metrics"
	"iss-tracker-gateway/pkg/logging/logging"
)

// Limits bounds a runtime cache. Zero disables a limit.
type Limits struct {
	MaxEntries int
	MaxAge     time.Duration
}

func (l Limits) Enabled() bool {
	return l.MaxEntries > 0 || l.MaxAge > 0
}

// Expirer performs LRU/TTL bookkeeping off the response path: for every
// cache write it refreshes the URL's record and trims the cache, one cache
// name at a time.
type Expirer struct {
	index  Index
	queue  *Queue
	now    func() time.Time
	logger *zap.Logger
}

type Option func(*Expirer)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Expirer) { e.now = now }
}

func NewExpirer(index Index, logger *zap.Logger, opts ...Option) *Expirer {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("expiration")
	e := &Expirer{
		index:  index,
		queue:  NewQueue(logger),
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Schedule queues maintenance for url just written to store. Errors are
// logged and dropped: the response has already been served.
func (e *Expirer) Schedule(ctx context.Context, store cache.Store, url string, limits Limits) {
	ctx = context.WithoutCancel(ctx)
	name := store.Name()

	e.queue.Enqueue(name, func() {
		now := e.now()
		logger := e.logger.With(
			zap.String("cache", name),
			zap.String("url", url),
			zap.Int("max_entries", limits.MaxEntries),
			zap.Duration("max_age", limits.MaxAge),
		)
		logger.Debug("updating lru order")

		if err := e.index.SetTimestamp(ctx, name, url, now); err != nil {
			logger.Warn("eviction index write failed", zap.Error(err))
			return
		}

		victims, err := e.index.Expire(ctx, name, limits.MaxEntries, limits.MaxAge, now)
		if err != nil {
			logger.Warn("eviction index expire failed", zap.Error(err))
			return
		}

		for _, v := range victims {
			if _, err := store.Delete(logging.WithLogger(ctx, logger), v); err != nil {
				logger.Warn("evicted entry delete failed", zap.String("victim", v), zap.Error(err))
				continue
			}
			metrics.EvictionsTotal.WithLabelValues(name).Inc()
		}
		if len(victims) > 0 {
			logger.Debug("cache cleanup done", zap.Strings("evicted", victims))
		}
	})
}

// Forget removes url's record, keeping the index a subset of the cache
// after an explicit delete.
func (e *Expirer) Forget(ctx context.Context, cacheName, url string) {
	ctx = context.WithoutCancel(ctx)
	e.queue.Enqueue(cacheName, func() {
		if err := e.index.Delete(ctx, cacheName, url); err != nil {
			e.logger.Warn("eviction index delete failed",
				zap.String("cache", cacheName),
				zap.String("url", url),
				zap.Error(err),
			)
		}
	})
}

// ForgetCache drops every record of cacheName, for when the store behind it
// is replaced wholesale.
func (e *Expirer) ForgetCache(ctx context.Context, cacheName string) {
	ctx = context.WithoutCancel(ctx)
	e.queue.Enqueue(cacheName, func() {
		records, err := e.index.Records(ctx, cacheName)
		if err != nil {
			e.logger.Warn("eviction index list failed", zap.String("cache", cacheName), zap.Error(err))
			return
		}
		for _, r := range records {
			if err := e.index.Delete(ctx, cacheName, r.URL); err != nil {
				e.logger.Warn("eviction index delete failed",
					zap.String("cache", cacheName),
					zap.String("url", r.URL),
					zap.Error(err),
				)
			}
		}
	})
}

// Index exposes the underlying index.
func (e *Expirer) Index() Index { return e.index }

// Wait blocks until all scheduled maintenance has finished.
func (e *Expirer) Wait() {
	e.queue.Wait()
}
