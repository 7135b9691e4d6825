package fetch

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
	"go.uber.org/zap"
)

type Config struct {
	// Rewrites maps a public origin to the origin actually dialed, e.g.
	// "http://localhost:8080" -> "https://bmcgeeney.github.io".
	Rewrites map[string]string

	Timeout     time.Duration // per-attempt timeout (default: 30s)
	MaxRetries  int           // retries after the first attempt (default: 0)
	BaseBackoff time.Duration // initial backoff (default: 100ms)
	MaxBodySize int64         // larger response bodies are rejected (default: 32MB)

	MaxIdleConns        int // default: 100
	MaxIdleConnsPerHost int // default: 100

	// Custom HTTP client (for testing or special configs)
	HTTPClient *http.Client
}

// Validate checks the rewrite table.
func (c *Config) Validate() error {
	for from, to := range c.Rewrites {
		for _, raw := range []string{from, to} {
			u, err := url.Parse(raw)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return platformerrors.Newf(platformerrors.CodeInvalidConfig,
					"rewrite origin %q must be scheme://host", raw)
			}
		}
	}
	return nil
}

// WithDefaults returns a copy of Config with sane defaults applied.
func (c *Config) WithDefaults() Config {
	cfg := *c

	rewrites := make(map[string]string, len(c.Rewrites))
	for from, to := range c.Rewrites {
		rewrites[strings.TrimRight(from, "/")] = strings.TrimRight(to, "/")
	}
	cfg.Rewrites = rewrites

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 32 << 20
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 100
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = 100
	}

	return cfg
}

// Client is the network side of the gateway: it dials upstream origins the
// way a browser's fetch would, with pooled connections and bounded retries.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

var _ Fetcher = (*Client)(nil)

// NewClient creates a network client with the given configuration.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	cfg = cfg.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: defaultTransport(cfg),
		}
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.Named("fetch"),
	}, nil
}

// defaultTransport creates a pooled HTTP transport with reasonable timeouts.
// Proxy settings from the environment are ignored: the gateway is the proxy.
func defaultTransport(cfg Config) *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// Close releases pooled connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
