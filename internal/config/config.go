// Package config reads the gateway settings from the environment and the
// worker definition (precache manifest plus runtime caching rules) from
// disk.
package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
)

type Config struct {
	Port string

	// PublicOrigin is the origin browsers use to reach the gateway;
	// UpstreamURL is where requests for it are actually sent.
	PublicOrigin string
	UpstreamURL  string
	WorkerPath   string

	CacheBackend string // memory | redis | disk
	RedisAddr    string
	CachePrefix  string
	DataDir      string

	ManifestPath      string
	RuntimeConfigPath string

	FetchTimeout    time.Duration
	FetchMaxRetries int
	RequestTimeout  time.Duration
	MaxBodyBytes    int

	// UpgradeHosts are forward-proxied over http by clients but fetched
	// and cached as https origins.
	UpgradeHosts []string

	AdminToken string
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	cfg := Config{
		Port:              getenv("PORT", "8080"),
		PublicOrigin:      strings.TrimRight(getenv("PUBLIC_ORIGIN", "http://localhost:8080"), "/"),
		UpstreamURL:       strings.TrimRight(getenv("UPSTREAM_URL", "https://bmcgeeney.github.io"), "/"),
		WorkerPath:        getenv("WORKER_PATH", "/iss-tracker/service-worker.js"),
		CacheBackend:      getenv("CACHE_BACKEND", "memory"),
		RedisAddr:         getenv("REDIS_ADDR", "127.0.0.1:6379"),
		CachePrefix:       getenv("CACHE_PREFIX", "iss-tracker"),
		DataDir:           getenv("DATA_DIR", "./data"),
		ManifestPath:      getenv("MANIFEST_PATH", "precache-manifest.json"),
		RuntimeConfigPath: getenv("RUNTIME_CONFIG_PATH", "sw-config.yaml"),
		UpgradeHosts:      splitList(getenv("UPGRADE_HOSTS", "api.wheretheiss.at,a.tile.openstreetmap.org,b.tile.openstreetmap.org,c.tile.openstreetmap.org")),
		AdminToken:        os.Getenv("ADMIN_TOKEN"),
	}

	var err error
	if cfg.FetchTimeout, err = getDuration("FETCH_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.RequestTimeout, err = getDuration("REQUEST_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.FetchMaxRetries, err = getInt("FETCH_MAX_RETRIES", 2); err != nil {
		return Config{}, err
	}
	if cfg.MaxBodyBytes, err = getInt("MAX_BODY_BYTES", 1<<20); err != nil {
		return Config{}, err
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	for key, raw := range map[string]string{"PUBLIC_ORIGIN": c.PublicOrigin, "UPSTREAM_URL": c.UpstreamURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return platformerrors.Newf(platformerrors.CodeInvalidConfig, "%s must be scheme://host, got %q", key, raw)
		}
	}
	if !strings.HasPrefix(c.WorkerPath, "/") {
		return platformerrors.Newf(platformerrors.CodeInvalidConfig, "WORKER_PATH must start with /, got %q", c.WorkerPath)
	}
	switch c.CacheBackend {
	case "memory", "redis", "disk":
	default:
		return platformerrors.Newf(platformerrors.CodeInvalidConfig, "CACHE_BACKEND must be memory, redis or disk, got %q", c.CacheBackend)
	}
	return nil
}

// Location is the absolute URL of the worker.
func (c Config) Location() string {
	return c.PublicOrigin + c.WorkerPath
}

// getenv returns the value of the environment variable key or def if not set.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, platformerrors.Wrapf(err, platformerrors.CodeInvalidConfig, "%s", key)
	}
	return d, nil
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, platformerrors.Wrapf(err, platformerrors.CodeInvalidConfig, "%s", key)
	}
	return n, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
