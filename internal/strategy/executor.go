package strategy

import (
	"context"
	"net/http"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
	"go.uber.org/zap"

	"iss-tracker-gateway/internal/cache"
	"iss-tracker-gateway/internal/expiration"
	"iss-tracker-gateway/internal/fetch"
	"iss-tracker-gateway/pkg/logging/logging"
)

// Handler resolves one request with already route-specific options.
type Handler func(ctx context.Context, req *fetch.Request, opts Options) (*fetch.Response, error)

// Executor runs strategies against shared cache storage, the network and
// the eviction bookkeeping. It is safe for concurrent use.
type Executor struct {
	storage  cache.Storage
	fetcher  fetch.Fetcher
	expirer  *expiration.Expirer
	defaults Options
	now      func() time.Time
	logger   *zap.Logger
}

type ExecutorOption func(*Executor)

// WithClock overrides time.Now for freshness checks.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

func NewExecutor(
	storage cache.Storage,
	fetcher fetch.Fetcher,
	expirer *expiration.Expirer,
	defaults Options,
	logger *zap.Logger,
	opts ...ExecutorOption,
) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaults.SuccessResponses == nil {
		defaults.SuccessResponses = DefaultSuccessResponses
	}
	e := &Executor{
		storage:  storage,
		fetcher:  fetcher,
		expirer:  expirer,
		defaults: defaults,
		now:      time.Now,
		logger:   logger.Named("strategy"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Defaults returns the options every route is resolved against.
func (e *Executor) Defaults() Options { return e.defaults }

// Handler returns the strategy registered under name.
func (e *Executor) Handler(name string) (Handler, error) {
	switch name {
	case "networkOnly":
		return e.NetworkOnly, nil
	case "networkFirst":
		return e.NetworkFirst, nil
	case "cacheOnly":
		return e.CacheOnly, nil
	case "cacheFirst":
		return e.CacheFirst, nil
	case "fastest":
		return e.Fastest, nil
	default:
		return nil, platformerrors.Newf(platformerrors.CodeInvalidConfig, "unknown strategy %q", name)
	}
}

func (e *Executor) debug(ctx context.Context, opts Options, msg string, fields ...zap.Field) {
	logger := e.log(ctx)
	if opts.Debug {
		logger.Info(msg, fields...)
		return
	}
	logger.Debug(msg, fields...)
}

func (e *Executor) open(ctx context.Context, opts Options) (cache.Store, error) {
	if opts.Cache.Name == "" {
		return nil, platformerrors.New(platformerrors.CodeInvalidConfig, "runtime cache has no name")
	}
	store, err := e.storage.Open(ctx, opts.Cache.Name)
	if err != nil {
		return nil, platformerrors.Wrapf(err, platformerrors.CodeDatabase, "open cache %s", opts.Cache.Name)
	}
	return store, nil
}

// isFresh reports whether resp is usable under maxAge. Responses without a
// Date header never go stale.
func (e *Executor) isFresh(resp *fetch.Response, maxAge time.Duration) bool {
	if resp == nil {
		return false
	}
	if maxAge <= 0 {
		return true
	}
	date, ok := resp.Date()
	if !ok {
		return true
	}
	return !date.Add(maxAge).Before(e.now())
}

// fetchAndCache fetches req and, for GET requests with an accepted status,
// stores a copy and schedules eviction bookkeeping. Cache failures are
// logged; the network response is returned regardless.
func (e *Executor) fetchAndCache(ctx context.Context, req *fetch.Request, opts Options) (*fetch.Response, error) {
	resp, err := e.fetcher.Fetch(ctx, req.Clone())
	if err != nil {
		return nil, err
	}
	if req.Method != http.MethodGet || !opts.accepts(resp.Status) {
		return resp, nil
	}

	logger := e.log(ctx)
	store, err := e.open(ctx, opts)
	if err != nil {
		logger.Warn("runtime cache unavailable", zap.String("url", req.String()), zap.Error(err))
		return resp, nil
	}
	if err := store.Put(ctx, req.String(), resp.Clone()); err != nil {
		logger.Warn("runtime cache write failed", zap.String("url", req.String()), zap.Error(err))
		return resp, nil
	}

	limits := expiration.Limits{MaxEntries: opts.Cache.MaxEntries, MaxAge: opts.Cache.MaxAge}
	if e.expirer != nil && limits.Enabled() {
		e.expirer.Schedule(ctx, store, req.String(), limits)
	}
	return resp, nil
}

// match reads req from the resolved cache without a freshness check.
func (e *Executor) match(ctx context.Context, req *fetch.Request, opts Options) (*fetch.Response, error) {
	store, err := e.open(ctx, opts)
	if err != nil {
		return nil, err
	}
	return store.Match(ctx, req.String())
}

// Add fetches every url and stores it in cacheName. Any failed fetch or
// non-OK response fails the call; nothing is evicted.
func (e *Executor) Add(ctx context.Context, cacheName string, urls ...string) error {
	opts := Resolve(Options{Cache: Cache{Name: cacheName}}, e.defaults)
	store, err := e.open(ctx, opts)
	if err != nil {
		return err
	}
	for _, u := range urls {
		req, err := fetch.NewRequest(http.MethodGet, u)
		if err != nil {
			return platformerrors.Wrap(err, platformerrors.CodeInvalidInput, "build cache request")
		}
		resp, err := e.fetcher.Fetch(ctx, req)
		if err != nil {
			return platformerrors.Wrapf(err, platformerrors.CodeExecutionFailed, "request for %s failed", u)
		}
		if !resp.OK() {
			return platformerrors.Newf(platformerrors.CodeExecutionFailed, "request for %s returned a response with status %d", u, resp.Status)
		}
		if err := store.Put(ctx, u, resp); err != nil {
			return platformerrors.Wrapf(err, platformerrors.CodeDatabase, "store %s", u)
		}
	}
	return nil
}

// Remove deletes url from cacheName together with its eviction record.
func (e *Executor) Remove(ctx context.Context, cacheName, url string) (bool, error) {
	opts := Resolve(Options{Cache: Cache{Name: cacheName}}, e.defaults)
	store, err := e.open(ctx, opts)
	if err != nil {
		return false, err
	}
	found, err := store.Delete(ctx, url)
	if err != nil {
		return false, platformerrors.Wrapf(err, platformerrors.CodeDatabase, "delete %s", url)
	}
	if e.expirer != nil {
		e.expirer.Forget(ctx, store.Name(), url)
	}
	return found, nil
}

func (e *Executor) log(ctx context.Context) *zap.Logger {
	return logging.FromContextOr(ctx, e.logger)
}
