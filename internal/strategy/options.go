// Package strategy resolves runtime requests between a named cache and the
// network: cache-only, cache-first, network-only, network-first and
// fastest.
package strategy

import (
	"regexp"
	"strconv"
	"time"
)

// DefaultSuccessResponses matches the statuses worth caching: opaque (0),
// 1xx-3xx and a few client errors that are stable for a URL.
var DefaultSuccessResponses = regexp.MustCompile(`^0|([123]\d\d)|(40[14567])|410$`)

// Cache names a runtime cache and its eviction limits. Zero limits are
// unbounded.
type Cache struct {
	Name       string
	MaxAge     time.Duration
	MaxEntries int
}

func (c Cache) isZero() bool {
	return c == Cache{}
}

// Options is an immutable set of strategy options. Build one per route and
// merge it with the executor defaults through Resolve.
type Options struct {
	Cache            Cache
	NetworkTimeout   time.Duration
	SuccessResponses *regexp.Regexp
	Debug            bool
}

// DefaultCacheName is the runtime cache used when a route names none.
func DefaultCacheName(scope string) string {
	return "$$$runtime-cache$$$" + scope + "$$$"
}

// DefaultOptions returns the defaults for a worker controlling scope.
func DefaultOptions(scope string) Options {
	return Options{
		Cache:            Cache{Name: DefaultCacheName(scope)},
		SuccessResponses: DefaultSuccessResponses,
	}
}

// Resolve fills every unset field of opts from defaults. A route that sets
// no cache at all inherits the default cache with its limits; a route cache
// without a name is stored in the default cache but keeps its own limits.
func Resolve(opts, defaults Options) Options {
	out := opts
	switch {
	case opts.Cache.isZero():
		out.Cache = defaults.Cache
	case opts.Cache.Name == "":
		out.Cache.Name = defaults.Cache.Name
	}
	if out.NetworkTimeout == 0 {
		out.NetworkTimeout = defaults.NetworkTimeout
	}
	if out.SuccessResponses == nil {
		out.SuccessResponses = defaults.SuccessResponses
	}
	if out.SuccessResponses == nil {
		out.SuccessResponses = DefaultSuccessResponses
	}
	out.Debug = opts.Debug || defaults.Debug
	return out
}

func (o Options) accepts(status int) bool {
	return o.SuccessResponses.MatchString(strconv.Itoa(status))
}
