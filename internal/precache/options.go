package precache

import (
	"regexp"
)

const (
	DefaultHashParam        = "_cache-version"
	DefaultNavigateFallback = "index.html"
)

var (
	DefaultIgnoreURLParams           = []*regexp.Regexp{regexp.MustCompile(`^utm_`)}
	DefaultNavigateFallbackWhitelist = []*regexp.Regexp{regexp.MustCompile(`\/[^\/\.]*(\?|$)`)}
)

// Options configure a Manager. The zero value of a field disables the
// feature it controls, except CacheName and HashParam which fall back to
// their defaults.
type Options struct {
	// Location is the absolute URL of the worker. Manifest URLs and the
	// navigate fallback resolve against it.
	Location string

	CacheName     string
	HashParam     string
	DontCacheBust *regexp.Regexp

	IgnoreURLParams []*regexp.Regexp
	DirectoryIndex  string

	NavigateFallback          string
	NavigateFallbackWhitelist []*regexp.Regexp
}

// DefaultOptions returns the options a generated worker starts from.
func DefaultOptions(location string) Options {
	return Options{
		Location:                  location,
		HashParam:                 DefaultHashParam,
		IgnoreURLParams:           DefaultIgnoreURLParams,
		NavigateFallback:          DefaultNavigateFallback,
		NavigateFallbackWhitelist: DefaultNavigateFallbackWhitelist,
	}
}

// CacheName builds the precache store name for a cache id and a scope.
func CacheName(cacheID, scope string) string {
	return "sw-precache-v3-" + cacheID + "-" + scope
}
