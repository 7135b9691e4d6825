// Package router maps intercepted requests to runtime handlers by origin,
// method and path pattern, or by a regular expression over the full URL.
package router

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	platformerrors "github.com/jmgilman/go/errors"
	"go.uber.org/zap"

	"iss-tracker-gateway/internal/fetch"
)

// MethodAny registers a route for every method. Routes for the request's
// own method are always tried first.
const MethodAny = "any"

// Params holds values captured by a path pattern.
type Params map[string]string

// Handler answers a routed request. A nil response with a nil error means
// the handler declined; the request then goes to the network.
type Handler func(ctx context.Context, req *fetch.Request, params Params) (*fetch.Response, error)

// Route is one registered entry.
type Route struct {
	Method  string
	Pattern string         // chi path pattern, set for path routes
	Regexp  *regexp.Regexp // full URL expression, set for URL routes
	Handler Handler

	mux *chi.Mux
}

// key identifies routes that would match the same requests.
func (r *Route) key() string {
	if r.Regexp != nil {
		return r.Regexp.String()
	}
	return r.Pattern
}

func (r *Route) match(target string) (Params, bool) {
	if r.Regexp != nil {
		return nil, r.Regexp.MatchString(target)
	}
	rctx := chi.NewRouteContext()
	if !r.mux.Match(rctx, http.MethodGet, target) {
		return nil, false
	}
	params := make(Params, len(rctx.URLParams.Keys))
	for i, k := range rctx.URLParams.Keys {
		params[k] = rctx.URLParams.Values[i]
	}
	return params, true
}

// table is an ordered set of routes per method.
type table struct {
	methods map[string][]*Route
}

func newTable() *table {
	return &table{methods: make(map[string][]*Route)}
}

// put adds route, replacing in place a route with the same key.
func (t *table) put(route *Route) (replaced bool) {
	routes := t.methods[route.Method]
	for i, existing := range routes {
		if existing.key() == route.key() {
			routes[i] = route
			return true
		}
	}
	t.methods[route.Method] = append(routes, route)
	return false
}

func (t *table) match(method, target string) (*Route, Params, bool) {
	for _, route := range t.methods[method] {
		if params, ok := route.match(target); ok {
			return route, params, true
		}
	}
	return nil, nil, false
}

type originTable struct {
	source  string
	pattern *regexp.Regexp
	routes  *table
}

// Router is built once per worker and then only read. Registration is not
// safe for concurrent use with Match.
type Router struct {
	scopePath     string
	defaultOrigin string

	origins []*originTable
	fullURL *table

	defaultHandler Handler
	logger         *zap.Logger
}

// New returns a router for a worker whose scope is the absolute URL scope.
func New(scope string, logger *zap.Logger) (*Router, error) {
	req, err := fetch.NewRequest(http.MethodGet, scope)
	if err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeInvalidConfig, "router scope")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		scopePath:     req.URL.Path,
		defaultOrigin: req.Origin(),
		fullURL:       newTable(),
		logger:        logger.Named("router"),
	}, nil
}

// Origin restricts a path route to request origins. Use Exact for a
// literal origin and Matching for an expression.
type Origin struct {
	source  string
	pattern *regexp.Regexp
}

// Exact matches exactly one origin such as "https://api.wheretheiss.at".
func Exact(origin string) Origin {
	origin = strings.TrimSuffix(origin, "/")
	return Origin{source: origin, pattern: regexp.MustCompile("^" + regexp.QuoteMeta(origin) + "$")}
}

// Matching matches every origin re matches.
func Matching(re *regexp.Regexp) Origin {
	return Origin{source: re.String(), pattern: re}
}

// Add registers a path route. Patterns use chi syntax ("/api/{id}",
// "/static/*"); a pattern not starting with "/" is relative to the scope.
// The zero Origin means the worker's own origin.
func (r *Router) Add(method, pattern string, handler Handler, origin Origin) (err error) {
	if !strings.HasPrefix(pattern, "/") {
		pattern = r.scopePath + pattern
	}

	mux := chi.NewMux()
	defer func() {
		if p := recover(); p != nil {
			err = platformerrors.Newf(platformerrors.CodeInvalidConfig, "route pattern %q: %v", pattern, p)
		}
	}()
	mux.Handle(pattern, http.NotFoundHandler())

	if origin.pattern == nil {
		origin = Exact(r.defaultOrigin)
	}
	t := r.originTable(origin)

	route := &Route{Method: normalizeMethod(method), Pattern: pattern, Handler: handler, mux: mux}
	if t.put(route) {
		r.logger.Debug("route resolves to the same pattern as an existing route", zap.String("pattern", pattern))
	}
	return nil
}

// AddRegexp registers a route matched against the full request URL.
func (r *Router) AddRegexp(method string, re *regexp.Regexp, handler Handler) {
	route := &Route{Method: normalizeMethod(method), Regexp: re, Handler: handler}
	if r.fullURL.put(route) {
		r.logger.Debug("route resolves to the same expression as an existing route", zap.String("regexp", re.String()))
	}
}

// SetDefault installs the handler for GET requests nothing else matches.
func (r *Router) SetDefault(handler Handler) {
	r.defaultHandler = handler
}

func (r *Router) originTable(origin Origin) *table {
	for _, t := range r.origins {
		if t.source == origin.source {
			return t.routes
		}
	}
	t := &originTable{source: origin.source, pattern: origin.pattern, routes: newTable()}
	r.origins = append(r.origins, t)
	return t.routes
}

// Match finds the handler for req: origin routes, then full URL routes,
// first for req's method and then for MethodAny. Unmatched GET requests
// to http(s) URLs go to the default handler when one is set.
func (r *Router) Match(req *fetch.Request) (Handler, Params, bool) {
	for _, method := range []string{normalizeMethod(req.Method), MethodAny} {
		if route, params, ok := r.matchMethod(method, req); ok {
			return route.Handler, params, true
		}
	}

	if r.defaultHandler != nil && req.Method == http.MethodGet &&
		(req.URL.Scheme == "http" || req.URL.Scheme == "https") {
		return r.defaultHandler, nil, true
	}
	return nil, nil, false
}

func (r *Router) matchMethod(method string, req *fetch.Request) (*Route, Params, bool) {
	origin := req.Origin()
	for _, t := range r.origins {
		if !t.pattern.MatchString(origin) {
			continue
		}
		if route, params, ok := t.routes.match(method, req.URL.EscapedPath()); ok {
			return route, params, true
		}
	}
	return r.fullURL.match(method, req.String())
}

// Routes lists every registered route, sorted, for status output.
func (r *Router) Routes() []string {
	var out []string
	for _, t := range r.origins {
		for method, routes := range t.routes.methods {
			for _, route := range routes {
				out = append(out, fmt.Sprintf("%s %s%s", method, t.source, route.Pattern))
			}
		}
	}
	for method, routes := range r.fullURL.methods {
		for _, route := range routes {
			out = append(out, fmt.Sprintf("%s %s", method, route.Regexp))
		}
	}
	sort.Strings(out)
	return out
}

func normalizeMethod(method string) string {
	if method == "" {
		return "get"
	}
	return strings.ToLower(method)
}
