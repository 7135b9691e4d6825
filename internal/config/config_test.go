package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "PUBLIC_ORIGIN", "UPSTREAM_URL", "CACHE_BACKEND", "FETCH_TIMEOUT", "FETCH_MAX_RETRIES"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "memory", cfg.CacheBackend)
	assert.Equal(t, 10*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 2, cfg.FetchMaxRetries)
	assert.Equal(t, "http://localhost:8080/iss-tracker/service-worker.js", cfg.Location())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PUBLIC_ORIGIN", "https://iss.example.com/")
	t.Setenv("CACHE_BACKEND", "disk")
	t.Setenv("FETCH_TIMEOUT", "2s")
	t.Setenv("FETCH_MAX_RETRIES", "5")
	t.Setenv("UPGRADE_HOSTS", " api.wheretheiss.at, tile.example ,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://iss.example.com", cfg.PublicOrigin)
	assert.Equal(t, "disk", cfg.CacheBackend)
	assert.Equal(t, 2*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 5, cfg.FetchMaxRetries)
	assert.Equal(t, []string{"api.wheretheiss.at", "tile.example"}, cfg.UpgradeHosts)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := map[string][2]string{
		"bad duration": {"FETCH_TIMEOUT", "soon"},
		"bad int":      {"FETCH_MAX_RETRIES", "many"},
		"bad backend":  {"CACHE_BACKEND", "tape"},
		"bad origin":   {"PUBLIC_ORIGIN", "localhost"},
	}
	for name, kv := range tests {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := Load()
			require.Error(t, err)
			assert.Equal(t, platformerrors.CodeInvalidConfig, platformerrors.GetCode(err))
		})
	}
}

const runtimeYAML = `
cacheId: iss-tracker
directoryIndex: index.html
ignoreUrlParametersMatching: []
skipWaiting: true
precache: ["manifest.json"]
defaults:
  networkTimeoutSeconds: 1.5
runtimeCaching:
  - urlPattern: '\/bower_components\/webcomponentsjs\/.*.js'
    handler: fastest
    options:
      cache: {name: webcomponentsjs-polyfills-cache}
  - path: /v1/satellites/{id}
    handler: networkFirst
    options:
      origin: https://api.wheretheiss.at
      cache: {name: iss-position, maxEntries: 20, maxAgeSeconds: 60}
`

func TestRuntimeConfigWorker(t *testing.T) {
	rc, err := ParseRuntimeConfig([]byte(runtimeYAML))
	require.NoError(t, err)

	wc, err := rc.Worker("abc", "https://iss.test/iss-tracker/service-worker.js", nil)
	require.NoError(t, err)

	assert.Equal(t, "abc", wc.Version)
	assert.True(t, wc.SkipWaiting)
	assert.False(t, wc.ClientsClaim)
	assert.Equal(t, "sw-precache-v3-iss-tracker-https://iss.test/iss-tracker/", wc.Precache.CacheName)
	assert.Equal(t, "index.html", wc.Precache.DirectoryIndex)
	assert.Empty(t, wc.Precache.IgnoreURLParams, "explicit empty list disables stripping")
	assert.Equal(t, "index.html", wc.Precache.NavigateFallback)
	assert.Equal(t, []string{"https://iss.test/iss-tracker/manifest.json"}, wc.RuntimePrecache)
	assert.Equal(t, 1500*time.Millisecond, wc.Defaults.NetworkTimeout)

	require.Len(t, wc.Routes, 2)
	assert.NotNil(t, wc.Routes[0].URLPattern)
	assert.Equal(t, "fastest", wc.Routes[0].Strategy)
	assert.Equal(t, "get", wc.Routes[0].Method)

	api := wc.Routes[1]
	assert.Equal(t, "/v1/satellites/{id}", api.Path)
	assert.Equal(t, "networkFirst", api.Strategy)
	assert.Equal(t, 20, api.Options.Cache.MaxEntries)
	assert.Equal(t, time.Minute, api.Options.Cache.MaxAge)
}

func TestRuntimeConfigErrors(t *testing.T) {
	tests := map[string]string{
		"unknown field":  "cacheID: x\n",
		"bad regexp":     "runtimeCaching: [{urlPattern: '(', handler: fastest}]\n",
		"no matcher":     "runtimeCaching: [{handler: fastest}]\n",
		"both matchers":  "runtimeCaching: [{urlPattern: 'a', path: /a, handler: fastest}]\n",
		"both origins":   "runtimeCaching: [{path: /a, handler: fastest, options: {origin: 'https://a.test', originPattern: 'a'}}]\n",
		"bad success re": "defaults: {successResponses: '['}\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			rc, err := ParseRuntimeConfig([]byte(doc))
			if err == nil {
				_, err = rc.Worker("v", "https://iss.test/sw.js", nil)
			}
			require.Error(t, err)
			assert.Equal(t, platformerrors.CodeInvalidConfig, platformerrors.GetCode(err))
		})
	}
}

func TestLoadWorkerVersionFollowsFiles(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "manifest.json")
	runtime := filepath.Join(dir, "sw.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(`[["/iss-tracker/index.html","aaa"]]`), 0o644))
	require.NoError(t, os.WriteFile(runtime, []byte("skipWaiting: true\n"), 0o644))

	cfg := Config{
		PublicOrigin:      "https://iss.test",
		WorkerPath:        "/iss-tracker/service-worker.js",
		ManifestPath:      manifest,
		RuntimeConfigPath: runtime,
	}

	first, err := LoadWorker(cfg)
	require.NoError(t, err)
	again, err := LoadWorker(cfg)
	require.NoError(t, err)
	assert.Equal(t, first.Version, again.Version)
	require.Len(t, first.Manifest, 1)

	require.NoError(t, os.WriteFile(manifest, []byte(`[["/iss-tracker/index.html","bbb"]]`), 0o644))
	changed, err := LoadWorker(cfg)
	require.NoError(t, err)
	assert.NotEqual(t, first.Version, changed.Version)

	// The runtime config is optional.
	cfg.RuntimeConfigPath = filepath.Join(dir, "missing.yaml")
	_, err = LoadWorker(cfg)
	require.NoError(t, err)
}
