package strategy

import (
	"context"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
	"go.uber.org/zap"

	"iss-tracker-gateway/internal/fetch"
	"iss-tracker-gateway/internal/metrics"
)

type outcome struct {
	resp   *fetch.Response
	err    error
	source string
}

func observe(strategy, source string) {
	metrics.StrategyResponsesTotal.WithLabelValues(strategy, source).Inc()
}

// NetworkOnly always goes to the network and never touches a cache.
func (e *Executor) NetworkOnly(ctx context.Context, req *fetch.Request, opts Options) (*fetch.Response, error) {
	opts = Resolve(opts, e.defaults)
	e.debug(ctx, opts, "strategy: network only", zap.String("url", req.String()))

	resp, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		observe("networkOnly", "error")
		return nil, err
	}
	observe("networkOnly", "network")
	return resp, nil
}

// CacheOnly returns a fresh cached response, or (nil, nil) when there is
// none. The caller decides what a miss means.
func (e *Executor) CacheOnly(ctx context.Context, req *fetch.Request, opts Options) (*fetch.Response, error) {
	opts = Resolve(opts, e.defaults)
	e.debug(ctx, opts, "strategy: cache only", zap.String("url", req.String()))

	resp, err := e.cacheOnly(ctx, req, opts)
	switch {
	case err != nil:
		observe("cacheOnly", "error")
	case resp == nil:
		observe("cacheOnly", "none")
	default:
		observe("cacheOnly", "cache")
	}
	return resp, err
}

func (e *Executor) cacheOnly(ctx context.Context, req *fetch.Request, opts Options) (*fetch.Response, error) {
	resp, err := e.match(ctx, req, opts)
	if err != nil {
		return nil, err
	}
	if !e.isFresh(resp, opts.Cache.MaxAge) {
		return nil, nil
	}
	return resp, nil
}

// CacheFirst serves a fresh cached response, otherwise fetches, caches and
// returns the network response.
func (e *Executor) CacheFirst(ctx context.Context, req *fetch.Request, opts Options) (*fetch.Response, error) {
	opts = Resolve(opts, e.defaults)
	e.debug(ctx, opts, "strategy: cache first", zap.String("url", req.String()))

	cached, err := e.cacheOnly(ctx, req, opts)
	if err != nil {
		e.log(ctx).Warn("cache lookup failed, using network", zap.String("url", req.String()), zap.Error(err))
	}
	if cached != nil {
		observe("cacheFirst", "cache")
		return cached, nil
	}

	resp, err := e.fetchAndCache(ctx, req, opts)
	if err != nil {
		observe("cacheFirst", "error")
		return nil, err
	}
	observe("cacheFirst", "network")
	return resp, nil
}

// NetworkFirst prefers the network. With a NetworkTimeout, a fresh cached
// response wins once the timeout elapses; the fetch keeps running and still
// updates the cache. A network error or a status outside SuccessResponses
// falls back to any cached response, then to the bad response itself.
func (e *Executor) NetworkFirst(ctx context.Context, req *fetch.Request, opts Options) (*fetch.Response, error) {
	opts = Resolve(opts, e.defaults)
	e.debug(ctx, opts, "strategy: network first", zap.String("url", req.String()))

	store, err := e.open(ctx, opts)
	if err != nil {
		observe("networkFirst", "error")
		return nil, err
	}

	bg := context.WithoutCancel(ctx)
	network := make(chan outcome, 1)
	go func() {
		resp, err := e.fetchAndCache(bg, req, opts)
		var bad *fetch.Response
		if err == nil && !opts.accepts(resp.Status) {
			e.debug(bg, opts, "response was an http error", zap.Int("status", resp.Status))
			bad, resp, err = resp, nil, errBadResponse
		}
		if err == nil {
			network <- outcome{resp: resp, source: "network"}
			return
		}

		e.debug(bg, opts, "network or response error, fallback to cache", zap.String("url", req.String()), zap.Error(err))
		cached, merr := store.Match(bg, req.String())
		switch {
		case merr == nil && cached != nil:
			network <- outcome{resp: cached, source: "cache"}
		case bad != nil:
			network <- outcome{resp: bad, source: "network"}
		default:
			network <- outcome{err: err}
		}
	}()

	var timeout <-chan time.Time
	if opts.NetworkTimeout > 0 {
		timer := time.NewTimer(opts.NetworkTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		select {
		case o := <-network:
			if o.err != nil {
				observe("networkFirst", "error")
				return nil, o.err
			}
			observe("networkFirst", o.source)
			return o.resp, nil

		case <-timeout:
			timeout = nil
			cached, err := store.Match(ctx, req.String())
			if err == nil && e.isFresh(cached, opts.Cache.MaxAge) {
				e.debug(ctx, opts, "network timed out, serving cache", zap.String("url", req.String()))
				observe("networkFirst", "cache")
				return cached, nil
			}

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Fastest races fetch-and-cache against a cache lookup and returns the
// first response. The slower branch is never cancelled. Fails only when
// both branches fail.
func (e *Executor) Fastest(ctx context.Context, req *fetch.Request, opts Options) (*fetch.Response, error) {
	opts = Resolve(opts, e.defaults)
	e.debug(ctx, opts, "strategy: fastest", zap.String("url", req.String()))

	bg := context.WithoutCancel(ctx)
	results := make(chan outcome, 2)
	go func() {
		resp, err := e.fetchAndCache(bg, req, opts)
		results <- outcome{resp: resp, err: err, source: "network"}
	}()
	go func() {
		resp, err := e.cacheOnly(bg, req, opts)
		results <- outcome{resp: resp, err: err, source: "cache"}
	}()

	var failures []error
	for range 2 {
		select {
		case o := <-results:
			if o.err == nil && o.resp != nil {
				observe("fastest", o.source)
				return o.resp, nil
			}
			if o.err == nil {
				o.err = ErrNoResult
			}
			failures = append(failures, o.err)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	observe("fastest", "error")
	agg := &AggregateError{Errors: failures}
	// Surfaces as a network failure whichever branch settled first.
	return nil, platformerrors.Wrap(agg, platformerrors.CodeNetwork, agg.Error())
}
