package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"iss-tracker-gateway/internal/handlers"
	"iss-tracker-gateway/internal/metrics"
	"iss-tracker-gateway/internal/middleware"
)

// Options are the per-request limits applied to every route.
type Options struct {
	RequestTimeout time.Duration
	MaxBodyBytes   int64
}

func SetupRouter(r *chi.Mux, baseLogger *zap.Logger, opts Options, gateway *handlers.GatewayHandler, admin *handlers.AdminHandler) {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}

	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer())                   // panic recovery
	r.Use(middleware.Timeout(opts.RequestTimeout)) // request timeout
	r.Use(middleware.MaxBodySize(opts.MaxBodyBytes))

	// Absolute-URI requests belong to other origins and skip local routes.
	r.Use(forwardProxy(gateway))

	r.Route("/_sw", func(r chi.Router) {
		r.Use(admin.Authorize)
		r.Post("/update", admin.Update)
		r.Post("/message", admin.Message)
		r.Get("/status", admin.Status)
		r.Post("/cache", admin.Cache)
		r.Delete("/cache", admin.Uncache)
	})

	// health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", metrics.Handler())

	// everything else is the proxied site
	r.Handle("/*", gateway)
}

func forwardProxy(gateway http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.IsAbs() {
				gateway.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
