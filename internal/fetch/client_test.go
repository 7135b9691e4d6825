package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
	"go.uber.org/zap/zaptest"
)

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{Rewrites: map[string]string{"localhost": "nope"}}, zaptest.NewLogger(t))
	if err == nil {
		t.Fatalf("expected validation error, got nil")
	}
	if platformerrors.GetCode(err) != platformerrors.CodeInvalidConfig {
		t.Fatalf("expected invalid config code, got %s", platformerrors.GetCode(err))
	}
}

func TestFetchRewritesPublicOrigin(t *testing.T) {
	t.Parallel()

	var gotPath, gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		gotCookie = r.Header.Get("Cookie")
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>iss</html>"))
	}))
	defer srv.Close()

	client, err := NewClient(Config{
		Rewrites: map[string]string{"http://gateway.test": srv.URL},
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	req, err := NewRequest(http.MethodGet, "http://gateway.test/iss-tracker/index.html?_cache-version=abc#top")
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Cookie", "session=1")

	resp, err := client.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if gotPath != "/iss-tracker/index.html?_cache-version=abc" {
		t.Fatalf("unexpected upstream path: %s", gotPath)
	}
	if gotCookie != "session=1" {
		t.Fatalf("same-origin credentials should be forwarded, got %q", gotCookie)
	}
	if resp.Status != http.StatusOK || string(resp.Body) != "<html>iss</html>" {
		t.Fatalf("unexpected response: %d %q", resp.Status, resp.Body)
	}
	if resp.Redirected {
		t.Fatalf("response should not be marked redirected")
	}
	if !strings.HasPrefix(resp.URL, "http://gateway.test/") {
		t.Fatalf("response URL should stay public, got %s", resp.URL)
	}
}

func TestFetchMarksRedirects(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new", http.StatusFound)
			return
		}
		_, _ = w.Write([]byte("moved"))
	}))
	defer srv.Close()

	client, err := NewClient(Config{}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	req, _ := NewRequest(http.MethodGet, srv.URL+"/old")
	resp, err := client.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !resp.Redirected {
		t.Fatalf("expected redirected response")
	}
	if clean := resp.Unredirected(); clean.Redirected || string(clean.Body) != "moved" {
		t.Fatalf("unexpected cleaned response: %+v", clean)
	}
}

func TestFetchDoesNotRetryStatuses(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := NewClient(Config{MaxRetries: 3, BaseBackoff: time.Millisecond}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	req, _ := NewRequest(http.MethodGet, srv.URL)
	resp, err := client.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if resp.Status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Status)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly one upstream call, got %d", got)
	}
}

func TestFetchRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close() // connection refused from now on

	client, err := NewClient(Config{MaxRetries: 2, BaseBackoff: time.Millisecond}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	req, _ := NewRequest(http.MethodGet, addr)
	_, err = client.Fetch(context.Background(), req)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "max retries (3) exceeded") {
		t.Fatalf("expected retries to be exhausted, got %v", err)
	}
	if !platformerrors.IsRetryable(err) {
		t.Fatalf("connection refused should classify as retryable: %v", err)
	}
}

func TestComputeBackoffBounds(t *testing.T) {
	t.Parallel()

	for attempt := 0; attempt < 15; attempt++ {
		got := computeBackoff(100*time.Millisecond, attempt)
		if got < 0 || got > 60*time.Second {
			t.Fatalf("attempt %d: backoff %s out of range", attempt, got)
		}
	}
}

func TestFetchRejectsOversizedBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	client, err := NewClient(Config{MaxBodySize: 16}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	req, err := NewRequest(http.MethodGet, srv.URL+"/tiles/1.png")
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}

	resp, err := client.Fetch(context.Background(), req)
	if err == nil {
		t.Fatalf("expected error for oversized body, got %d bytes", len(resp.Body))
	}
	if platformerrors.GetCode(err) != platformerrors.CodeExecutionFailed {
		t.Fatalf("expected execution failed code, got %s", platformerrors.GetCode(err))
	}

	// A body exactly at the limit is accepted.
	atLimit, err := NewClient(Config{MaxBodySize: 64}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer atLimit.Close()
	resp, err = atLimit.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("Fetch at limit: %v", err)
	}
	if len(resp.Body) != 64 {
		t.Fatalf("expected 64 bytes, got %d", len(resp.Body))
	}
}
