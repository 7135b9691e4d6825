package fetch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
	"go.uber.org/zap"
)

// doWithRetry runs do up to MaxRetries+1 times.
//   - Only idempotent methods are retried, and only on transient network errors.
//     An HTTP status, good or bad, is an answer: strategies decide what it means.
//   - Backoff is exponential with full jitter.
//   - ctx cancellation and deadlines are never retried.
func (c *Client) doWithRetry(
	ctx context.Context,
	method string,
	do func(ctx context.Context) (*http.Response, error),
) (*http.Response, error) {
	maxAttempts := 1
	if method == http.MethodGet || method == http.MethodHead {
		maxAttempts = c.cfg.MaxRetries + 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		resp, err := do(ctx)
		duration := time.Since(start)

		status := 0
		if resp != nil {
			status = resp.StatusCode
		}

		c.logger.Debug("upstream request",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxAttempts),
			zap.Int("status", status),
			zap.Duration("duration", duration),
			zap.Error(err),
		)

		if err == nil {
			return resp, nil
		}

		// The caller gave up; never retry.
		if ctx.Err() != nil {
			return nil, err
		}

		lastErr = classifyNetError(err)
		if !platformerrors.IsRetryable(lastErr) {
			c.logger.Debug("non-retryable network error", zap.Error(err))
			return nil, lastErr
		}

		if attempt == maxAttempts-1 {
			break
		}

		backoff := computeBackoff(c.cfg.BaseBackoff, attempt)
		c.logger.Debug("backing off before retry",
			zap.Duration("backoff", backoff),
			zap.Int("next_attempt", attempt+2),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	if maxAttempts > 1 {
		c.logger.Warn("upstream request exhausted all retries",
			zap.Int("attempts", maxAttempts),
			zap.Error(lastErr),
		)
		return nil, fmt.Errorf("fetch: max retries (%d) exceeded: %w", maxAttempts, lastErr)
	}
	return nil, lastErr
}

// classifyNetError tags a transport error with a platform error code so
// callers can ask platformerrors.IsRetryable instead of sniffing strings.
func classifyNetError(err error) error {
	if err == nil {
		return nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return platformerrors.Wrap(err, platformerrors.CodeTimeout, "upstream timed out")
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout || dnsErr.IsTemporary {
			return platformerrors.Wrap(err, platformerrors.CodeNetwork, "dns lookup failed")
		}
		return platformerrors.Wrap(err, platformerrors.CodeNotFound, "host not found")
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" || opErr.Op == "read" || opErr.Op == "write" {
			return platformerrors.Wrap(err, platformerrors.CodeNetwork, "connection failed")
		}
	}

	// Wrapped transport errors sometimes only survive as text.
	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"temporary failure",
		"eof",
	} {
		if strings.Contains(errStr, pattern) {
			return platformerrors.Wrap(err, platformerrors.CodeNetwork, "connection failed")
		}
	}

	return platformerrors.Wrap(err, platformerrors.CodeExecutionFailed, "request failed")
}

// computeBackoff returns a random delay in [0, base*2^attempt), capped at 60s.
func computeBackoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	const maxExponent = 10
	if attempt > maxExponent {
		attempt = maxExponent
	}

	maxBackoff := time.Duration(float64(base) * math.Pow(2, float64(attempt)))

	const maxAllowed = 60 * time.Second
	if maxBackoff > maxAllowed {
		maxBackoff = maxAllowed
	}

	return time.Duration(rand.Float64() * float64(maxBackoff))
}
