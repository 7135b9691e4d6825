package config

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/url"
	"os"
	"regexp"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
	"gopkg.in/yaml.v3"

	"iss-tracker-gateway/internal/precache"
	"iss-tracker-gateway/internal/router"
	"iss-tracker-gateway/internal/strategy"
	"iss-tracker-gateway/internal/worker"
)

// RuntimeConfig is the YAML worker definition. Field names follow the
// sw-precache configuration the site was built with.
type RuntimeConfig struct {
	CacheID                     string   `yaml:"cacheId"`
	IgnoreURLParametersMatching []string `yaml:"ignoreUrlParametersMatching"`
	DirectoryIndex              string   `yaml:"directoryIndex"`
	NavigateFallback            *string  `yaml:"navigateFallback"`
	NavigateFallbackWhitelist   []string `yaml:"navigateFallbackWhitelist"`
	DontCacheBustURLsMatching   string   `yaml:"dontCacheBustUrlsMatching"`
	SkipWaiting                 bool     `yaml:"skipWaiting"`
	ClientsClaim                bool     `yaml:"clientsClaim"`

	Precache       []string       `yaml:"precache"`
	Defaults       RuntimeOptions `yaml:"defaults"`
	DefaultHandler string         `yaml:"defaultHandler"`
	RuntimeCaching []RuntimeRoute `yaml:"runtimeCaching"`
}

type CacheOptions struct {
	Name          string `yaml:"name"`
	MaxAgeSeconds int    `yaml:"maxAgeSeconds"`
	MaxEntries    int    `yaml:"maxEntries"`
}

type RuntimeOptions struct {
	Cache                 *CacheOptions `yaml:"cache"`
	NetworkTimeoutSeconds float64       `yaml:"networkTimeoutSeconds"`
	SuccessResponses      string        `yaml:"successResponses"`
	Debug                 bool          `yaml:"debug"`

	// Origin restricts path routes to one origin; OriginPattern to every
	// origin the expression matches.
	Origin        string `yaml:"origin"`
	OriginPattern string `yaml:"originPattern"`
}

// RuntimeRoute is one runtimeCaching entry. Set either URLPattern (a
// regular expression over the full URL) or Path (a chi route pattern).
type RuntimeRoute struct {
	URLPattern string         `yaml:"urlPattern"`
	Path       string         `yaml:"path"`
	Method     string         `yaml:"method"`
	Handler    string         `yaml:"handler"`
	Options    RuntimeOptions `yaml:"options"`
}

// ParseRuntimeConfig decodes YAML, rejecting unknown fields.
func ParseRuntimeConfig(data []byte) (RuntimeConfig, error) {
	var rc RuntimeConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&rc); err != nil && !errors.Is(err, io.EOF) {
		return RuntimeConfig{}, platformerrors.Wrap(err, platformerrors.CodeInvalidConfig, "decode runtime config")
	}
	return rc, nil
}

// LoadRuntimeConfig reads the YAML file at path. A missing file yields the
// zero config: precache only, no runtime routes.
func LoadRuntimeConfig(path string) (RuntimeConfig, []byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return RuntimeConfig{}, nil, nil
	}
	if err != nil {
		return RuntimeConfig{}, nil, platformerrors.Wrapf(err, platformerrors.CodeInvalidConfig, "read runtime config %s", path)
	}
	rc, err := ParseRuntimeConfig(data)
	return rc, data, err
}

// LoadWorker reads the manifest and the runtime config named by c and
// builds the worker definition. The version is a digest of both files, so
// unchanged files produce the same version.
func LoadWorker(c Config) (worker.Config, error) {
	manifestBytes, err := os.ReadFile(c.ManifestPath)
	if err != nil {
		return worker.Config{}, platformerrors.Wrapf(err, platformerrors.CodeInvalidConfig, "read precache manifest %s", c.ManifestPath)
	}
	entries, err := precache.ParseManifest(bytes.NewReader(manifestBytes))
	if err != nil {
		return worker.Config{}, err
	}

	rc, rcBytes, err := LoadRuntimeConfig(c.RuntimeConfigPath)
	if err != nil {
		return worker.Config{}, err
	}

	sum := sha256.New()
	sum.Write(manifestBytes)
	sum.Write(rcBytes)
	version := hex.EncodeToString(sum.Sum(nil))[:12]

	return rc.Worker(version, c.Location(), entries)
}

// Worker builds a worker definition from rc.
func (rc RuntimeConfig) Worker(version, location string, manifest []precache.Entry) (worker.Config, error) {
	scope, err := precache.Scope(location)
	if err != nil {
		return worker.Config{}, platformerrors.Wrap(err, platformerrors.CodeInvalidConfig, "worker location")
	}

	popts := precache.DefaultOptions(location)
	popts.CacheName = precache.CacheName(rc.CacheID, scope)
	popts.DirectoryIndex = rc.DirectoryIndex
	if rc.NavigateFallback != nil {
		popts.NavigateFallback = *rc.NavigateFallback
	}
	if rc.IgnoreURLParametersMatching != nil {
		if popts.IgnoreURLParams, err = compileAll(rc.IgnoreURLParametersMatching); err != nil {
			return worker.Config{}, err
		}
	}
	if rc.NavigateFallbackWhitelist != nil {
		if popts.NavigateFallbackWhitelist, err = compileAll(rc.NavigateFallbackWhitelist); err != nil {
			return worker.Config{}, err
		}
	}
	if popts.DontCacheBust, err = compileOptional(rc.DontCacheBustURLsMatching); err != nil {
		return worker.Config{}, err
	}

	defaults, err := rc.Defaults.strategy()
	if err != nil {
		return worker.Config{}, err
	}

	routes := make([]worker.RouteSpec, 0, len(rc.RuntimeCaching))
	for i, r := range rc.RuntimeCaching {
		spec, err := r.spec()
		if err != nil {
			return worker.Config{}, platformerrors.Wrapf(err, platformerrors.CodeInvalidConfig, "runtimeCaching[%d]", i)
		}
		routes = append(routes, spec)
	}

	base, err := url.Parse(location)
	if err != nil {
		return worker.Config{}, platformerrors.Wrap(err, platformerrors.CodeInvalidConfig, "worker location")
	}
	precacheURLs := make([]string, 0, len(rc.Precache))
	for _, p := range rc.Precache {
		u, err := base.Parse(p)
		if err != nil {
			return worker.Config{}, platformerrors.Wrapf(err, platformerrors.CodeInvalidConfig, "precache url %q", p)
		}
		precacheURLs = append(precacheURLs, u.String())
	}

	return worker.Config{
		Version:         version,
		Manifest:        manifest,
		Precache:        popts,
		Defaults:        defaults,
		Routes:          routes,
		RuntimePrecache: precacheURLs,
		DefaultStrategy: rc.DefaultHandler,
		SkipWaiting:     rc.SkipWaiting,
		ClientsClaim:    rc.ClientsClaim,
	}, nil
}

func (o RuntimeOptions) strategy() (strategy.Options, error) {
	var opts strategy.Options
	if o.Cache != nil {
		opts.Cache = strategy.Cache{
			Name:       o.Cache.Name,
			MaxAge:     time.Duration(o.Cache.MaxAgeSeconds) * time.Second,
			MaxEntries: o.Cache.MaxEntries,
		}
	}
	opts.NetworkTimeout = time.Duration(o.NetworkTimeoutSeconds * float64(time.Second))
	opts.Debug = o.Debug

	var err error
	if opts.SuccessResponses, err = compileOptional(o.SuccessResponses); err != nil {
		return strategy.Options{}, err
	}
	return opts, nil
}

func (r RuntimeRoute) spec() (worker.RouteSpec, error) {
	opts, err := r.Options.strategy()
	if err != nil {
		return worker.RouteSpec{}, err
	}
	spec := worker.RouteSpec{
		Method:   r.Method,
		Path:     r.Path,
		Strategy: r.Handler,
		Options:  opts,
	}
	if spec.Method == "" {
		spec.Method = "get"
	}

	switch {
	case r.URLPattern != "" && r.Path != "":
		return worker.RouteSpec{}, platformerrors.New(platformerrors.CodeInvalidConfig, "set either urlPattern or path, not both")
	case r.URLPattern != "":
		if spec.URLPattern, err = regexp.Compile(r.URLPattern); err != nil {
			return worker.RouteSpec{}, platformerrors.Wrap(err, platformerrors.CodeInvalidConfig, "urlPattern")
		}
	case r.Path == "":
		return worker.RouteSpec{}, platformerrors.New(platformerrors.CodeInvalidConfig, "urlPattern or path is required")
	}

	switch {
	case r.Options.Origin != "" && r.Options.OriginPattern != "":
		return worker.RouteSpec{}, platformerrors.New(platformerrors.CodeInvalidConfig, "set either origin or originPattern, not both")
	case r.Options.Origin != "":
		spec.Origin = router.Exact(r.Options.Origin)
	case r.Options.OriginPattern != "":
		re, err := regexp.Compile(r.Options.OriginPattern)
		if err != nil {
			return worker.RouteSpec{}, platformerrors.Wrap(err, platformerrors.CodeInvalidConfig, "originPattern")
		}
		spec.Origin = router.Matching(re)
	}
	return spec, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, platformerrors.Wrapf(err, platformerrors.CodeInvalidConfig, "pattern %q", p)
		}
		out = append(out, re)
	}
	return out, nil
}

func compileOptional(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, platformerrors.Wrapf(err, platformerrors.CodeInvalidConfig, "pattern %q", pattern)
	}
	return re, nil
}
