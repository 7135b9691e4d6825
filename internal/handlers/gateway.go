package handlers

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
	"go.uber.org/zap"

	"iss-tracker-gateway/internal/fetch"
	"iss-tracker-gateway/pkg/logging/logging"
)

// Dispatcher lets the controlling worker answer a request.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *fetch.Request) (*fetch.Response, bool, error)
}

// GatewayHandler is the fetch event source: every proxied request is
// offered to the worker and goes to the network when no worker takes it.
type GatewayHandler struct {
	Workers      Dispatcher
	Network      fetch.Fetcher
	PublicOrigin *url.URL

	// UpgradeHosts are forward-proxied over plain http by clients but
	// treated as https origins.
	UpgradeHosts map[string]bool
}

func NewGatewayHandler(workers Dispatcher, network fetch.Fetcher, publicOrigin string, upgradeHosts []string) (*GatewayHandler, error) {
	u, err := url.Parse(publicOrigin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, platformerrors.Newf(platformerrors.CodeInvalidConfig, "public origin %q must be scheme://host", publicOrigin)
	}
	upgrade := make(map[string]bool, len(upgradeHosts))
	for _, h := range upgradeHosts {
		if h = strings.TrimSpace(h); h != "" {
			upgrade[strings.ToLower(h)] = true
		}
	}
	return &GatewayHandler{
		Workers:      workers,
		Network:      network,
		PublicOrigin: u,
		UpgradeHosts: upgrade,
	}, nil
}

func (h *GatewayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)
	start := time.Now()

	req, err := h.buildRequest(r)
	if err != nil {
		logger.Warn("invalid proxied request", zap.Error(err))
		writeError(w, err)
		return
	}

	resp, handled, err := h.Workers.Dispatch(ctx, req)
	servedBy := "worker"
	if err == nil && (!handled || resp == nil) {
		servedBy = "network"
		resp, err = h.Network.Fetch(ctx, req)
	}

	if err != nil {
		logger.Warn("request failed",
			zap.String("url", req.String()),
			zap.String("served_by", servedBy),
			zap.Error(err),
		)
		writeError(w, err)
		return
	}

	logger.Info("fetch_decision",
		zap.String("url", req.String()),
		zap.String("mode", string(req.Mode)),
		zap.String("served_by", servedBy),
		zap.Int("status", resp.Status),
		zap.Duration("total_latency_ms", time.Since(start)),
	)

	w.Header().Set("X-Served-By", servedBy)
	if err := resp.Serve(w); err != nil {
		logger.Debug("write response failed", zap.Error(err))
	}
}

// buildRequest reconstructs the request the page made. Reverse-proxied
// requests take the public origin; forward-proxied ones carry an absolute
// URI.
func (h *GatewayHandler) buildRequest(r *http.Request) (*fetch.Request, error) {
	var target *url.URL
	if r.URL.IsAbs() {
		u := *r.URL
		target = &u
		if target.Scheme == "http" && h.UpgradeHosts[strings.ToLower(target.Hostname())] {
			target.Scheme = "https"
		}
	} else {
		target = h.PublicOrigin.ResolveReference(&url.URL{
			Path:     r.URL.Path,
			RawPath:  r.URL.RawPath,
			RawQuery: r.URL.RawQuery,
		})
	}

	req, err := fetch.NewRequest(r.Method, target.String())
	if err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeInvalidInput, "proxied request url")
	}

	req.Header = r.Header.Clone()
	for _, hop := range []string{"Connection", "Proxy-Connection", "Proxy-Authorization", "Keep-Alive", "Te", "Trailer", "Transfer-Encoding", "Upgrade"} {
		req.Header.Del(hop)
	}
	// The browser already chose which credentials to send.
	req.Credentials = fetch.CredentialsInclude
	req.Mode = requestMode(r)

	if r.Body != nil && r.Method != http.MethodGet && r.Method != http.MethodHead {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, platformerrors.Wrap(err, platformerrors.CodeInvalidInput, "read request body")
		}
		req.Body = body
	}
	return req, nil
}

// requestMode trusts Sec-Fetch-Mode and otherwise treats HTML GETs as page
// navigations.
func requestMode(r *http.Request) fetch.Mode {
	switch m := fetch.Mode(r.Header.Get("Sec-Fetch-Mode")); m {
	case fetch.ModeNavigate, fetch.ModeSameOrigin, fetch.ModeNoCORS, fetch.ModeCORS:
		return m
	}
	if r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html") {
		return fetch.ModeNavigate
	}
	return fetch.ModeNoCORS
}
