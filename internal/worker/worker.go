// Package worker runs the precache and the runtime router of one worker
// version through its lifecycle, and keeps the registration that decides
// which version answers requests.
package worker

import (
	"context"
	"regexp"
	"sync"

	platformerrors "github.com/jmgilman/go/errors"
	"go.uber.org/zap"

	"iss-tracker-gateway/internal/cache"
	"iss-tracker-gateway/internal/expiration"
	"iss-tracker-gateway/internal/fetch"
	"iss-tracker-gateway/internal/metrics"
	"iss-tracker-gateway/internal/precache"
	"iss-tracker-gateway/internal/router"
	"iss-tracker-gateway/internal/strategy"
	"iss-tracker-gateway/pkg/logging/logging"
)

// InactiveSuffix names the cache the runtime precache list is installed
// into before activation moves it under the default runtime cache name.
const InactiveSuffix = "$$$inactive$$$"

// RouteSpec declares one runtime route. Exactly one of Path and URLPattern
// is set.
type RouteSpec struct {
	Method     string
	Path       string
	URLPattern *regexp.Regexp
	Origin     router.Origin
	Strategy   string
	Options    strategy.Options
}

// Config describes one worker version.
type Config struct {
	Version  string
	Manifest []precache.Entry
	Precache precache.Options

	Defaults        strategy.Options
	Routes          []RouteSpec
	RuntimePrecache []string
	DefaultStrategy string

	SkipWaiting  bool
	ClientsClaim bool
}

// Deps are the long-lived collaborators shared by all worker versions.
type Deps struct {
	Storage cache.Storage
	Fetcher fetch.Fetcher
	Expirer *expiration.Expirer
	Logger  *zap.Logger
}

// Worker is one version. Its precache index and route table are built in
// New and never change afterwards.
type Worker struct {
	cfg   Config
	scope string

	mu    sync.RWMutex
	state State

	precache *precache.Manager
	router   *router.Router
	executor *strategy.Executor
	storage  cache.Storage
	expirer  *expiration.Expirer
	logger   *zap.Logger
}

func New(cfg Config, deps Deps) (*Worker, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("worker").With(zap.String("version", cfg.Version))

	scope, err := precache.Scope(cfg.Precache.Location)
	if err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeInvalidConfig, "worker scope")
	}

	pm, err := precache.NewManager(cfg.Manifest, cfg.Precache, deps.Storage, deps.Fetcher, logger)
	if err != nil {
		return nil, err
	}

	defaults := strategy.Resolve(cfg.Defaults, strategy.DefaultOptions(scope))
	executor := strategy.NewExecutor(deps.Storage, deps.Fetcher, deps.Expirer, defaults, logger)

	rt, err := router.New(scope, logger)
	if err != nil {
		return nil, err
	}
	for i, spec := range cfg.Routes {
		h, err := executor.Handler(spec.Strategy)
		if err != nil {
			return nil, platformerrors.Wrapf(err, platformerrors.CodeInvalidConfig, "route %d", i)
		}
		handler := bind(h, spec.Options)
		switch {
		case spec.URLPattern != nil:
			rt.AddRegexp(spec.Method, spec.URLPattern, handler)
		case spec.Path != "":
			if err := rt.Add(spec.Method, spec.Path, handler, spec.Origin); err != nil {
				return nil, err
			}
		default:
			return nil, platformerrors.Newf(platformerrors.CodeInvalidConfig, "route %d needs a path or a url pattern", i)
		}
	}
	if cfg.DefaultStrategy != "" {
		h, err := executor.Handler(cfg.DefaultStrategy)
		if err != nil {
			return nil, platformerrors.Wrap(err, platformerrors.CodeInvalidConfig, "default handler")
		}
		rt.SetDefault(bind(h, strategy.Options{}))
	}

	metrics.WorkerState.WithLabelValues(StateParsed.String()).Inc()
	return &Worker{
		cfg:      cfg,
		scope:    scope,
		state:    StateParsed,
		precache: pm,
		router:   rt,
		executor: executor,
		storage:  deps.Storage,
		expirer:  deps.Expirer,
		logger:   logger,
	}, nil
}

// bind fixes route options onto a strategy.
func bind(h strategy.Handler, opts strategy.Options) router.Handler {
	return func(ctx context.Context, req *fetch.Request, _ router.Params) (*fetch.Response, error) {
		return h(ctx, req, opts)
	}
}

func (w *Worker) Version() string { return w.cfg.Version }

func (w *Worker) Scope() string { return w.scope }

func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	from := w.state
	w.state = s
	w.mu.Unlock()

	if from != s {
		transition(from, s)
		w.logger.Info("worker state changed", zap.Stringer("from", from), zap.Stringer("to", s))
	}
}

func (w *Worker) inactiveCacheName() string {
	return w.executor.Defaults().Cache.Name + InactiveSuffix
}

// Install runs the precache install and fills the inactive runtime cache.
// On failure the worker becomes redundant.
func (w *Worker) Install(ctx context.Context) error {
	w.setState(StateInstalling)
	ctx = logging.WithLogger(ctx, w.logger)

	if err := w.precache.Install(ctx); err != nil {
		w.setState(StateRedundant)
		return err
	}
	if len(w.cfg.RuntimePrecache) > 0 {
		w.logger.Debug("runtime precache list", zap.Strings("urls", w.cfg.RuntimePrecache))
		if err := w.executor.Add(ctx, w.inactiveCacheName(), w.cfg.RuntimePrecache...); err != nil {
			w.setState(StateRedundant)
			return err
		}
	}

	w.setState(StateInstalled)
	return nil
}

// Activate prunes the precache and moves the inactive runtime cache into
// place. Pruning is best effort; a failed rename fails the activation.
func (w *Worker) Activate(ctx context.Context) error {
	w.setState(StateActivating)
	ctx = logging.WithLogger(ctx, w.logger)

	if err := w.precache.Activate(ctx); err != nil {
		w.logger.Warn("precache cleanup incomplete", zap.Error(err))
	}
	if len(w.cfg.RuntimePrecache) > 0 {
		dst := w.executor.Defaults().Cache.Name
		if err := cache.Rename(ctx, w.storage, w.inactiveCacheName(), dst); err != nil {
			w.setState(StateRedundant)
			return platformerrors.Wrap(err, platformerrors.CodeDatabase, "activate runtime precache")
		}
		// The old entries of dst are gone, and so must be their records.
		if w.expirer != nil {
			w.expirer.ForgetCache(ctx, dst)
		}
	}

	w.setState(StateActivated)
	return nil
}

// HandleFetch answers req from the precache or a runtime route. handled is
// false when neither claims the request, or when a route declines it.
func (w *Worker) HandleFetch(ctx context.Context, req *fetch.Request) (resp *fetch.Response, handled bool, err error) {
	if key, ok := w.precache.Lookup(req); ok {
		resp, err := w.precache.Serve(ctx, req, key)
		return resp, true, err
	}

	h, params, ok := w.router.Match(req)
	if !ok {
		return nil, false, nil
	}
	resp, err = h(ctx, req, params)
	if err != nil {
		return nil, true, err
	}
	return resp, resp != nil, nil
}

// Cache fetches url into cacheName (the default runtime cache when empty).
func (w *Worker) Cache(ctx context.Context, cacheName, url string) error {
	return w.executor.Add(ctx, cacheName, url)
}

// Uncache removes url from cacheName (the default runtime cache when empty).
func (w *Worker) Uncache(ctx context.Context, cacheName, url string) (bool, error) {
	return w.executor.Remove(ctx, cacheName, url)
}

// Info is a snapshot for status output.
type Info struct {
	Version       string   `json:"version"`
	State         State    `json:"state"`
	Scope         string   `json:"scope"`
	PrecacheName  string   `json:"precacheName"`
	PrecacheCount int      `json:"precacheEntries"`
	RuntimeCache  string   `json:"runtimeCache"`
	Routes        []string `json:"routes"`
}

func (w *Worker) Info() Info {
	return Info{
		Version:       w.cfg.Version,
		State:         w.State(),
		Scope:         w.scope,
		PrecacheName:  w.precache.CacheName(),
		PrecacheCount: len(w.precache.Keys()),
		RuntimeCache:  w.executor.Defaults().Cache.Name,
		Routes:        w.router.Routes(),
	}
}
