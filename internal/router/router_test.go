package router

import (
	"context"
	"net/http"
	"regexp"
	"testing"

	platformerrors "github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"iss-tracker-gateway/internal/fetch"
)

const scope = "https://iss.test/iss-tracker/"

// named returns a handler that answers with its name in the body.
func named(name string) Handler {
	return func(_ context.Context, req *fetch.Request, _ Params) (*fetch.Response, error) {
		return &fetch.Response{URL: req.String(), Status: http.StatusOK, Body: []byte(name)}, nil
	}
}

func newRouter(t *testing.T) *Router {
	t.Helper()
	r, err := New(scope, zaptest.NewLogger(t))
	require.NoError(t, err)
	return r
}

// dispatch matches and runs the handler, returning its name.
func dispatch(t *testing.T, r *Router, method, url string) (string, Params) {
	t.Helper()
	req, err := fetch.NewRequest(method, url)
	require.NoError(t, err)
	h, params, ok := r.Match(req)
	if !ok {
		return "", nil
	}
	resp, err := h(context.Background(), req, params)
	require.NoError(t, err)
	return string(resp.Body), params
}

func TestMatchFirstRegisteredWins(t *testing.T) {
	r := newRouter(t)
	require.NoError(t, r.Add("get", "/iss-tracker/static/*", named("static"), Origin{}))
	require.NoError(t, r.Add("get", "/iss-tracker/*", named("catch-all"), Origin{}))

	got, _ := dispatch(t, r, "GET", "https://iss.test/iss-tracker/static/app.js")
	assert.Equal(t, "static", got)
	got, _ = dispatch(t, r, "GET", "https://iss.test/iss-tracker/index.html")
	assert.Equal(t, "catch-all", got)
}

func TestRelativePatternsUseScope(t *testing.T) {
	r := newRouter(t)
	require.NoError(t, r.Add("get", "src/{file}", named("src"), Origin{}))

	got, params := dispatch(t, r, "GET", "https://iss.test/iss-tracker/src/iss-tracker.html")
	assert.Equal(t, "src", got)
	assert.Equal(t, Params{"file": "iss-tracker.html"}, params)

	got, _ = dispatch(t, r, "GET", "https://iss.test/src/iss-tracker.html")
	assert.Empty(t, got)
}

func TestOrigins(t *testing.T) {
	r := newRouter(t)
	require.NoError(t, r.Add("get", "/v1/satellites/{id}", named("iss-api"), Exact("https://api.wheretheiss.at")))
	require.NoError(t, r.Add("get", "/*", named("tiles"), Matching(regexp.MustCompile(`^https://[a-c]\.tile\.openstreetmap\.org$`))))

	got, params := dispatch(t, r, "GET", "https://api.wheretheiss.at/v1/satellites/25544")
	assert.Equal(t, "iss-api", got)
	assert.Equal(t, "25544", params["id"])

	got, _ = dispatch(t, r, "GET", "https://b.tile.openstreetmap.org/3/4/2.png")
	assert.Equal(t, "tiles", got)

	// Same path on the page origin is not an API route.
	got, _ = dispatch(t, r, "GET", "https://iss.test/v1/satellites/25544")
	assert.Empty(t, got)
}

func TestOriginRoutesBeforeFullURLRoutes(t *testing.T) {
	r := newRouter(t)
	r.AddRegexp("get", regexp.MustCompile(`\.js$`), named("regexp"))
	require.NoError(t, r.Add("get", "/iss-tracker/app.js", named("path"), Origin{}))

	got, _ := dispatch(t, r, "GET", "https://iss.test/iss-tracker/app.js")
	assert.Equal(t, "path", got)

	got, _ = dispatch(t, r, "GET", "https://cdn.test/lib.js")
	assert.Equal(t, "regexp", got)
}

func TestMethodBeforeAny(t *testing.T) {
	r := newRouter(t)
	require.NoError(t, r.Add(MethodAny, "/iss-tracker/api/*", named("any"), Origin{}))
	require.NoError(t, r.Add("post", "/iss-tracker/api/*", named("post"), Origin{}))

	got, _ := dispatch(t, r, "POST", "https://iss.test/iss-tracker/api/x")
	assert.Equal(t, "post", got)
	got, _ = dispatch(t, r, "DELETE", "https://iss.test/iss-tracker/api/x")
	assert.Equal(t, "any", got)
}

func TestSamePatternReplacesInPlace(t *testing.T) {
	r := newRouter(t)
	require.NoError(t, r.Add("get", "/iss-tracker/a", named("first"), Origin{}))
	require.NoError(t, r.Add("get", "/iss-tracker/*", named("wildcard"), Origin{}))
	require.NoError(t, r.Add("get", "/iss-tracker/a", named("second"), Origin{}))

	got, _ := dispatch(t, r, "GET", "https://iss.test/iss-tracker/a")
	assert.Equal(t, "second", got)
	assert.Len(t, r.Routes(), 2)
}

func TestDefaultHandler(t *testing.T) {
	r := newRouter(t)
	r.SetDefault(named("default"))

	got, _ := dispatch(t, r, "GET", "https://elsewhere.test/x")
	assert.Equal(t, "default", got)

	got, _ = dispatch(t, r, "POST", "https://elsewhere.test/x")
	assert.Empty(t, got, "default handler only serves GET")
}

func TestInvalidPattern(t *testing.T) {
	r := newRouter(t)
	err := r.Add("get", "/a/*/b", named("bad"), Origin{})
	require.Error(t, err)
	assert.Equal(t, platformerrors.CodeInvalidConfig, platformerrors.GetCode(err))
}
