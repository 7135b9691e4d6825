package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
	"go.uber.org/zap"
)

// Fetch performs req against the network. Origins listed in Config.Rewrites
// are dialed at their upstream address; the returned Response still carries
// the public URL so it can be used as a cache key.
func (c *Client) Fetch(ctx context.Context, req *Request) (*Response, error) {
	if req == nil || req.URL == nil {
		return nil, fmt.Errorf("fetch: request is nil")
	}
	start := time.Now()

	public := req.URL.String()
	target := c.rewrite(req)

	doOnce := func(parent context.Context) (*http.Response, error) {
		ctx, cancel := context.WithTimeout(parent, c.cfg.Timeout)
		var body io.Reader
		if len(req.Body) > 0 {
			body = bytes.NewReader(req.Body)
		}
		httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("fetch: build HTTP request: %w", err)
		}
		copyHeaders(httpReq.Header, req.Header)
		if req.Credentials == CredentialsOmit ||
			(req.Credentials == CredentialsSameOrigin && !c.sameOrigin(req)) {
			httpReq.Header.Del("Cookie")
			httpReq.Header.Del("Authorization")
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			cancel()
			return nil, err
		}
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}

	resp, err := c.doWithRetry(ctx, req.Method, doOnce)
	if err != nil {
		c.logger.Warn("upstream request failed",
			zap.String("url", public),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return nil, err
	}

	out, err := readResponse(resp, target, c.cfg.MaxBodySize)
	if err != nil {
		var perr platformerrors.PlatformError
		if errors.As(err, &perr) {
			c.logger.Warn("upstream response rejected", zap.String("url", public), zap.Error(err))
			return nil, err
		}
		return nil, classifyNetError(err)
	}
	if out.Redirected {
		out.URL = c.unrewrite(out.URL)
	} else {
		out.URL = public
	}

	c.logger.Debug("upstream request completed",
		zap.String("url", public),
		zap.Int("status", out.Status),
		zap.Int("bytes", len(out.Body)),
		zap.Bool("redirected", out.Redirected),
		zap.Duration("duration", time.Since(start)),
	)

	return out, nil
}

func (c *Client) rewrite(req *Request) string {
	u := *req.URL
	u.Fragment = ""
	if to, ok := c.cfg.Rewrites[Origin(&u)]; ok {
		return to + u.RequestURI()
	}
	return u.String()
}

func (c *Client) unrewrite(raw string) string {
	for from, to := range c.cfg.Rewrites {
		if len(raw) >= len(to) && raw[:len(to)] == to {
			return from + raw[len(to):]
		}
	}
	return raw
}

// sameOrigin reports whether req targets an origin the gateway fronts.
func (c *Client) sameOrigin(req *Request) bool {
	_, ok := c.cfg.Rewrites[req.Origin()]
	return ok
}

// hop-by-hop headers never leave the gateway.
var hopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Proxy-Connection":    true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if hopHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
