package strategy

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"iss-tracker-gateway/internal/cache"
	"iss-tracker-gateway/internal/expiration"
	"iss-tracker-gateway/internal/fetch"
)

const scope = "https://iss.test/iss-tracker/"

type network struct {
	mu    sync.Mutex
	calls int
	fn    func(req *fetch.Request) (*fetch.Response, error)
}

func (n *network) Fetch(_ context.Context, req *fetch.Request) (*fetch.Response, error) {
	n.mu.Lock()
	n.calls++
	n.mu.Unlock()
	return n.fn(req)
}

func (n *network) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

func respond(status int, body string) func(*fetch.Request) (*fetch.Response, error) {
	return func(req *fetch.Request) (*fetch.Response, error) {
		return &fetch.Response{
			URL:    req.String(),
			Status: status,
			Header: http.Header{"Content-Type": []string{"application/json"}},
			Body:   []byte(body),
		}, nil
	}
}

var errUnreachable = platformerrors.New(platformerrors.CodeNetwork, "network unreachable")

func unreachable(*fetch.Request) (*fetch.Response, error) {
	return nil, errUnreachable
}

type fixture struct {
	storage  *cache.MemoryStorage
	net      *network
	expirer  *expiration.Expirer
	executor *Executor
	now      time.Time
}

func newFixture(t *testing.T, fn func(*fetch.Request) (*fetch.Response, error)) *fixture {
	t.Helper()
	f := &fixture{
		storage: cache.NewMemoryStorage(),
		net:     &network{fn: fn},
		now:     time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC),
	}
	logger := zaptest.NewLogger(t)
	f.expirer = expiration.NewExpirer(expiration.NewMemoryIndex(), logger)
	f.executor = NewExecutor(f.storage, f.net, f.expirer, DefaultOptions(scope), logger,
		WithClock(func() time.Time { return f.now }))
	t.Cleanup(f.expirer.Wait)
	return f
}

func (f *fixture) seed(t *testing.T, cacheName, url string, resp *fetch.Response) {
	t.Helper()
	store, err := f.storage.Open(context.Background(), cacheName)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), url, resp))
}

func (f *fixture) stored(t *testing.T, cacheName, url string) *fetch.Response {
	t.Helper()
	store, err := f.storage.Open(context.Background(), cacheName)
	require.NoError(t, err)
	resp, err := store.Match(context.Background(), url)
	require.NoError(t, err)
	return resp
}

func get(t *testing.T, url string) *fetch.Request {
	t.Helper()
	req, err := fetch.NewRequest(http.MethodGet, url)
	require.NoError(t, err)
	return req
}

func TestResolve(t *testing.T) {
	defaults := Options{
		Cache:          Cache{Name: "default", MaxEntries: 10},
		NetworkTimeout: 3 * time.Second,
	}

	got := Resolve(Options{}, defaults)
	assert.Equal(t, defaults.Cache, got.Cache)
	assert.Equal(t, 3*time.Second, got.NetworkTimeout)
	assert.Same(t, DefaultSuccessResponses, got.SuccessResponses)

	got = Resolve(Options{Cache: Cache{MaxAge: time.Minute}, NetworkTimeout: time.Second, Debug: true}, defaults)
	assert.Equal(t, Cache{Name: "default", MaxAge: time.Minute}, got.Cache)
	assert.Equal(t, time.Second, got.NetworkTimeout)
	assert.True(t, got.Debug)

	// Resolve never mutates its inputs.
	assert.Equal(t, "default", defaults.Cache.Name)
	assert.Equal(t, 10, defaults.Cache.MaxEntries)
}

func TestDefaultSuccessResponses(t *testing.T) {
	opts := Resolve(Options{}, Options{})
	for _, status := range []int{0, 200, 204, 301, 304, 401, 404, 405, 406, 407, 410} {
		assert.True(t, opts.accepts(status), "status %d", status)
	}
	for _, status := range []int{403, 500, 502, 503} {
		assert.False(t, opts.accepts(status), "status %d", status)
	}
}

func TestHandlerByName(t *testing.T) {
	f := newFixture(t, respond(http.StatusOK, "ok"))
	for _, name := range []string{"networkOnly", "networkFirst", "cacheOnly", "cacheFirst", "fastest"} {
		h, err := f.executor.Handler(name)
		require.NoError(t, err, name)
		assert.NotNil(t, h)
	}
	_, err := f.executor.Handler("staleWhileRevalidate")
	require.Error(t, err)
	assert.Equal(t, platformerrors.CodeInvalidConfig, platformerrors.GetCode(err))
}

func TestCacheFirstRoundTrip(t *testing.T) {
	f := newFixture(t, respond(http.StatusOK, `{"latitude":51.6}`))
	ctx := context.Background()
	opts := Options{Cache: Cache{Name: "iss-position"}}
	url := "https://api.wheretheiss.at/v1/satellites/25544"

	first, err := f.executor.CacheFirst(ctx, get(t, url), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, f.net.count())
	require.NotNil(t, f.stored(t, "iss-position", url))

	second, err := f.executor.CacheFirst(ctx, get(t, url), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, f.net.count(), "fresh entry must not hit the network")
	assert.Equal(t, first.Body, second.Body)
}

func TestCacheFirstRefetchesStaleEntry(t *testing.T) {
	f := newFixture(t, respond(http.StatusOK, "new"))
	url := "https://tiles.test/1/2/3.png"
	f.seed(t, "tiles", url, &fetch.Response{
		Status: http.StatusOK,
		Header: http.Header{"Date": []string{f.now.Add(-2 * time.Minute).Format(http.TimeFormat)}},
		Body:   []byte("old"),
	})

	resp, err := f.executor.CacheFirst(context.Background(), get(t, url), Options{Cache: Cache{Name: "tiles", MaxAge: time.Minute}})
	require.NoError(t, err)
	assert.Equal(t, "new", string(resp.Body))
	assert.Equal(t, 1, f.net.count())
}

func TestCacheOnly(t *testing.T) {
	f := newFixture(t, respond(http.StatusOK, "unused"))
	url := "https://iss.test/iss-tracker/data.json"
	opts := Options{Cache: Cache{Name: "data"}}

	resp, err := f.executor.CacheOnly(context.Background(), get(t, url), opts)
	require.NoError(t, err)
	assert.Nil(t, resp, "a miss resolves with no value")

	f.seed(t, "data", url, &fetch.Response{Status: http.StatusOK, Body: []byte("cached")})
	resp, err = f.executor.CacheOnly(context.Background(), get(t, url), opts)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "cached", string(resp.Body))
	assert.Zero(t, f.net.count())
}

func TestNetworkOnlyNeverCaches(t *testing.T) {
	f := newFixture(t, respond(http.StatusOK, "fresh"))
	url := "https://iss.test/iss-tracker/live.json"

	resp, err := f.executor.NetworkOnly(context.Background(), get(t, url), Options{Cache: Cache{Name: "live"}})
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(resp.Body))
	assert.Nil(t, f.stored(t, "live", url))
}

func TestFetchAndCacheSkipsRejectedStatus(t *testing.T) {
	f := newFixture(t, respond(http.StatusInternalServerError, "boom"))
	url := "https://iss.test/iss-tracker/api"

	resp, err := f.executor.CacheFirst(context.Background(), get(t, url), Options{Cache: Cache{Name: "api"}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.Status)
	assert.Nil(t, f.stored(t, "api", url))
}

func TestNetworkFirstTimeoutServesCache(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	f := newFixture(t, func(req *fetch.Request) (*fetch.Response, error) {
		select {
		case <-release:
		case <-time.After(5 * time.Second):
		}
		return respond(http.StatusOK, "late")(req)
	})
	url := "https://api.wheretheiss.at/v1/satellites/25544"
	f.seed(t, "iss-position", url, &fetch.Response{Status: http.StatusOK, Body: []byte("cached")})

	start := time.Now()
	resp, err := f.executor.NetworkFirst(context.Background(), get(t, url), Options{
		Cache:          Cache{Name: "iss-position"},
		NetworkTimeout: time.Second,
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "cached", string(resp.Body))
	assert.GreaterOrEqual(t, elapsed, time.Second)
	assert.Less(t, elapsed, 3*time.Second)
}

func TestNetworkFirstTimeoutWaitsWithoutFreshCache(t *testing.T) {
	f := newFixture(t, func(req *fetch.Request) (*fetch.Response, error) {
		time.Sleep(100 * time.Millisecond)
		return respond(http.StatusOK, "network")(req)
	})
	url := "https://api.wheretheiss.at/v1/satellites/25544"

	resp, err := f.executor.NetworkFirst(context.Background(), get(t, url), Options{
		Cache:          Cache{Name: "iss-position"},
		NetworkTimeout: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, "network", string(resp.Body))
}

func TestNetworkFirstFallbacks(t *testing.T) {
	url := "https://api.wheretheiss.at/v1/satellites/25544"

	t.Run("bad status uses cache", func(t *testing.T) {
		f := newFixture(t, respond(http.StatusServiceUnavailable, "down"))
		f.seed(t, "iss", url, &fetch.Response{Status: http.StatusOK, Body: []byte("cached")})

		resp, err := f.executor.NetworkFirst(context.Background(), get(t, url), Options{Cache: Cache{Name: "iss"}})
		require.NoError(t, err)
		assert.Equal(t, "cached", string(resp.Body))
	})

	t.Run("bad status without cache returns the bad response", func(t *testing.T) {
		f := newFixture(t, respond(http.StatusServiceUnavailable, "down"))

		resp, err := f.executor.NetworkFirst(context.Background(), get(t, url), Options{Cache: Cache{Name: "iss"}})
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
	})

	t.Run("network error uses stale cache", func(t *testing.T) {
		f := newFixture(t, unreachable)
		f.seed(t, "iss", url, &fetch.Response{
			Status: http.StatusOK,
			Header: http.Header{"Date": []string{f.now.Add(-time.Hour).Format(http.TimeFormat)}},
			Body:   []byte("stale"),
		})

		resp, err := f.executor.NetworkFirst(context.Background(), get(t, url), Options{Cache: Cache{Name: "iss", MaxAge: time.Minute}})
		require.NoError(t, err)
		assert.Equal(t, "stale", string(resp.Body))
	})

	t.Run("network error without cache propagates", func(t *testing.T) {
		f := newFixture(t, unreachable)

		_, err := f.executor.NetworkFirst(context.Background(), get(t, url), Options{Cache: Cache{Name: "iss"}})
		require.ErrorIs(t, err, errUnreachable)
	})
}

func TestFastest(t *testing.T) {
	url := "https://iss.test/iss-tracker/bower_components/webcomponentsjs/webcomponents-loader.js"

	t.Run("cache answers when the network is down", func(t *testing.T) {
		f := newFixture(t, unreachable)
		f.seed(t, "polyfills", url, &fetch.Response{Status: http.StatusOK, Body: []byte("cached")})

		resp, err := f.executor.Fastest(context.Background(), get(t, url), Options{Cache: Cache{Name: "polyfills"}})
		require.NoError(t, err)
		assert.Equal(t, "cached", string(resp.Body))
	})

	t.Run("network answers and fills the cache", func(t *testing.T) {
		f := newFixture(t, respond(http.StatusOK, "network"))

		resp, err := f.executor.Fastest(context.Background(), get(t, url), Options{Cache: Cache{Name: "polyfills"}})
		require.NoError(t, err)
		assert.Equal(t, "network", string(resp.Body))
		assert.Eventually(t, func() bool {
			return f.stored(t, "polyfills", url) != nil
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("both fail", func(t *testing.T) {
		f := newFixture(t, unreachable)

		_, err := f.executor.Fastest(context.Background(), get(t, url), Options{Cache: Cache{Name: "polyfills"}})
		require.Error(t, err)

		var agg *AggregateError
		require.True(t, errors.As(err, &agg))
		assert.Len(t, agg.Errors, 2)
		assert.Contains(t, err.Error(), "both cache and network failed")
		assert.Contains(t, err.Error(), "network unreachable")
		assert.Contains(t, err.Error(), "no result returned")
		assert.ErrorIs(t, err, errUnreachable)
		assert.ErrorIs(t, err, ErrNoResult)
		assert.Equal(t, platformerrors.CodeNetwork, platformerrors.GetCode(err))
	})
}

func TestRuntimeCacheKeepsMostRecentEntries(t *testing.T) {
	f := newFixture(t, respond(http.StatusOK, "tile"))
	opts := Options{Cache: Cache{Name: "tiles", MaxEntries: 2}}
	urls := []string{"https://tiles.test/a.png", "https://tiles.test/b.png", "https://tiles.test/c.png"}

	for _, u := range urls {
		_, err := f.executor.CacheFirst(context.Background(), get(t, u), opts)
		require.NoError(t, err)
		f.expirer.Wait()
	}

	store, err := f.storage.Open(context.Background(), "tiles")
	require.NoError(t, err)
	keys, err := store.Keys(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, urls[1:], keys)

	records, err := f.expirer.Index().Records(context.Background(), "tiles")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, urls[1], records[0].URL)
	assert.Equal(t, urls[2], records[1].URL)
}

func TestAddAndRemove(t *testing.T) {
	f := newFixture(t, respond(http.StatusOK, "asset"))
	ctx := context.Background()
	url := "https://iss.test/iss-tracker/manifest.json"

	require.NoError(t, f.executor.Add(ctx, "", url))
	assert.NotNil(t, f.stored(t, DefaultCacheName(scope), url))

	found, err := f.executor.Remove(ctx, "", url)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Nil(t, f.stored(t, DefaultCacheName(scope), url))

	f.net.fn = respond(http.StatusNotFound, "")
	err = f.executor.Add(ctx, "", url)
	require.Error(t, err)
	assert.Equal(t, platformerrors.CodeExecutionFailed, platformerrors.GetCode(err))
}
