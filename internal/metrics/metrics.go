package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Counter: cache store lookups by cache name and result (hit|miss|error).
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_lookups_total",
			Help: "Total number of cache store lookups.",
		},
		[]string{"cache", "result"},
	)

	// Counter: which source answered a runtime strategy (cache|network|none).
	StrategyResponsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strategy_responses_total",
			Help: "Total number of runtime strategy resolutions by source.",
		},
		[]string{"strategy", "source"},
	)

	// Counter: precache install fetches by result (ok|error).
	PrecacheFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "precache_fetches_total",
			Help: "Total number of precache install fetches.",
		},
		[]string{"result"},
	)

	// Counter: entries removed by LRU/TTL eviction.
	EvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_evictions_total",
			Help: "Total number of runtime cache entries evicted.",
		},
		[]string{"cache"},
	)

	// Gauge: lifecycle state of the worker versions, one series per state.
	WorkerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_state",
			Help: "Number of worker versions currently in each lifecycle state.",
		},
		[]string{"state"},
	)

	// Histogram: gateway HTTP latency in seconds.
	GatewayLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_latency_seconds",
			Help:    "HTTP request latency for the gateway in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method", "status_code"},
	)
)

// Register is called once in main() to register metrics.
func Register() {
	prometheus.MustRegister(
		CacheLookupsTotal,
		StrategyResponsesTotal,
		PrecacheFetchesTotal,
		EvictionsTotal,
		WorkerState,
		GatewayLatencySeconds,
	)
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware measures gateway latency for each HTTP request. Proxied
// requests are labelled by chi route pattern rather than raw path so
// arbitrary URLs cannot blow up label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if r.URL.IsAbs() {
			route = "forward-proxy"
		} else if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}

		GatewayLatencySeconds.
			WithLabelValues(route, r.Method, strconv.Itoa(rec.statusCode)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
