package precache

import (
	"context"
	"net/http"
	"net/url"

	platformerrors "github.com/jmgilman/go/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"iss-tracker-gateway/internal/cache"
	"iss-tracker-gateway/internal/fetch"
	"iss-tracker-gateway/internal/metrics"
	"iss-tracker-gateway/pkg/logging/logging"
)

const installConcurrency = 8

// Manager owns the precache of one worker version. Its index is built once
// in NewManager and never changes afterwards.
type Manager struct {
	opts     Options
	location *url.URL

	// index maps absolute URLs (without the hash param) to cache keys.
	index map[string]string
	// keys lists cache keys in manifest order.
	keys []string

	storage cache.Storage
	fetcher fetch.Fetcher
	logger  *zap.Logger
}

func NewManager(
	entries []Entry,
	opts Options,
	storage cache.Storage,
	fetcher fetch.Fetcher,
	logger *zap.Logger,
) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	location, err := url.Parse(opts.Location)
	if err != nil || !location.IsAbs() {
		return nil, platformerrors.Newf(platformerrors.CodeInvalidConfig, "worker location %q must be an absolute url", opts.Location)
	}
	if opts.HashParam == "" {
		opts.HashParam = DefaultHashParam
	}
	if opts.CacheName == "" {
		scope, err := Scope(opts.Location)
		if err != nil {
			return nil, platformerrors.Wrap(err, platformerrors.CodeInvalidConfig, "resolve worker scope")
		}
		opts.CacheName = CacheName("", scope)
	}

	m := &Manager{
		opts:     opts,
		location: location,
		index:    make(map[string]string, len(entries)),
		storage:  storage,
		fetcher:  fetcher,
		logger:   logger.Named("precache"),
	}

	for _, e := range entries {
		abs, err := location.Parse(e.URL)
		if err != nil {
			return nil, platformerrors.Wrapf(err, platformerrors.CodeInvalidConfig, "manifest url %q", e.URL)
		}
		key, err := CacheKey(abs.String(), opts.HashParam, e.Hash, opts.DontCacheBust)
		if err != nil {
			return nil, platformerrors.Wrapf(err, platformerrors.CodeInvalidConfig, "manifest url %q", e.URL)
		}
		if _, dup := m.index[abs.String()]; !dup {
			m.keys = append(m.keys, key)
		}
		m.index[abs.String()] = key
	}

	return m, nil
}

// CacheName is the name of the precache store.
func (m *Manager) CacheName() string { return m.opts.CacheName }

// Keys returns the expected cache keys in manifest order.
func (m *Manager) Keys() []string {
	return append([]string(nil), m.keys...)
}

// Install fetches every cache key missing from the precache store. One
// failed fetch or non-OK response fails the whole install and cancels the
// fetches still in flight; entries already stored stay for the next try.
func (m *Manager) Install(ctx context.Context) error {
	logger := m.logger.With(zap.String("cache", m.opts.CacheName))
	ctx = logging.WithLogger(ctx, logger)

	store, err := m.storage.Open(ctx, m.opts.CacheName)
	if err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeDatabase, "open precache store")
	}

	stored, err := store.Keys(ctx)
	if err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeDatabase, "list precache store")
	}
	have := make(map[string]struct{}, len(stored))
	for _, k := range stored {
		have[k] = struct{}{}
	}

	var missing []string
	for _, k := range m.keys {
		if _, ok := have[k]; !ok {
			missing = append(missing, k)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(installConcurrency)
	for _, key := range missing {
		g.Go(func() error {
			return m.installOne(gctx, store, key)
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("precache install failed", zap.Error(err))
		return err
	}

	logger.Info("precache installed",
		zap.Int("entries", len(m.keys)),
		zap.Int("fetched", len(missing)),
	)
	return nil
}

func (m *Manager) installOne(ctx context.Context, store cache.Store, key string) error {
	req, err := fetch.NewRequest(http.MethodGet, key)
	if err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeInvalidConfig, "build precache request")
	}
	req.Credentials = fetch.CredentialsSameOrigin

	resp, err := m.fetcher.Fetch(ctx, req)
	if err != nil {
		metrics.PrecacheFetchesTotal.WithLabelValues("error").Inc()
		return platformerrors.Wrapf(err, platformerrors.CodeExecutionFailed, "request for %s failed", key)
	}
	if !resp.OK() {
		metrics.PrecacheFetchesTotal.WithLabelValues("error").Inc()
		return platformerrors.Newf(platformerrors.CodeExecutionFailed,
			"request for %s returned a response with status %d", key, resp.Status)
	}
	metrics.PrecacheFetchesTotal.WithLabelValues("ok").Inc()

	if err := store.Put(ctx, key, resp.Unredirected()); err != nil {
		return platformerrors.Wrapf(err, platformerrors.CodeDatabase, "store %s", key)
	}
	return nil
}

// Activate deletes every stored key the manifest no longer expects. Deletes
// run concurrently and settle independently; the first failure is returned
// once all of them are done.
func (m *Manager) Activate(ctx context.Context) error {
	logger := m.logger.With(zap.String("cache", m.opts.CacheName))
	ctx = logging.WithLogger(ctx, logger)

	store, err := m.storage.Open(ctx, m.opts.CacheName)
	if err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeDatabase, "open precache store")
	}
	stored, err := store.Keys(ctx)
	if err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeDatabase, "list precache store")
	}

	expected := make(map[string]struct{}, len(m.keys))
	for _, k := range m.keys {
		expected[k] = struct{}{}
	}

	var g errgroup.Group
	pruned := 0
	for _, key := range stored {
		if _, ok := expected[key]; ok {
			continue
		}
		pruned++
		g.Go(func() error {
			if _, err := store.Delete(ctx, key); err != nil {
				logger.Warn("precache prune failed", zap.String("key", key), zap.Error(err))
				return platformerrors.Wrapf(err, platformerrors.CodeDatabase, "delete %s", key)
			}
			return nil
		})
	}
	err = g.Wait()

	logger.Info("precache activated", zap.Int("pruned", pruned))
	return err
}

// Lookup normalizes req and finds the cache key that answers it: an exact
// match, then the directory index, then the navigate fallback for page
// navigations. Only GET requests are ever answered from the precache.
func (m *Manager) Lookup(req *fetch.Request) (string, bool) {
	if req.Method != http.MethodGet {
		return "", false
	}

	u, err := StripIgnoredParams(req.String(), m.opts.IgnoreURLParams)
	if err != nil {
		return "", false
	}
	if key, ok := m.index[u]; ok {
		return key, true
	}

	if m.opts.DirectoryIndex != "" {
		if withIndex, err := AddDirectoryIndex(u, m.opts.DirectoryIndex); err == nil {
			if key, ok := m.index[withIndex]; ok {
				return key, true
			}
		}
	}

	if m.opts.NavigateFallback != "" &&
		req.Mode == fetch.ModeNavigate &&
		IsPathWhitelisted(m.opts.NavigateFallbackWhitelist, req.String()) {
		fallback, err := m.location.Parse(m.opts.NavigateFallback)
		if err == nil {
			if key, ok := m.index[fallback.String()]; ok {
				return key, true
			}
		}
	}

	return "", false
}

// Serve answers req from the precache entry stored under key. A missing
// entry or a store failure is not fatal: the request goes to the network.
func (m *Manager) Serve(ctx context.Context, req *fetch.Request, key string) (*fetch.Response, error) {
	resp, err := m.match(ctx, key)
	if err == nil {
		return resp, nil
	}

	logging.FromContextOr(ctx, m.logger).Warn("couldn't serve response from precache",
		zap.String("url", req.String()),
		zap.String("key", key),
		zap.Error(err),
	)
	return m.fetcher.Fetch(ctx, req)
}

func (m *Manager) match(ctx context.Context, key string) (*fetch.Response, error) {
	store, err := m.storage.Open(ctx, m.opts.CacheName)
	if err != nil {
		return nil, err
	}
	resp, err := store.Match(ctx, key)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, platformerrors.New(platformerrors.CodeNotFound, "the cached response that was expected is missing")
	}
	return resp, nil
}
