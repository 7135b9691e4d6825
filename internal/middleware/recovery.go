package middleware

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	platformerrors "github.com/jmgilman/go/errors"
	"go.uber.org/zap"

	"iss-tracker-gateway/pkg/logging/logging"
)

// Recoverer turns a panic into a logged 500.
func Recoverer() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logging.L(r.Context()).Error("panic recovered",
					zap.Any("error", rec),
					zap.ByteString("stack", debug.Stack()),
				)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(platformerrors.ToJSON(
					platformerrors.Newf(platformerrors.CodeInternal, "panic: %v", rec),
				))
			}()

			next.ServeHTTP(w, r)
		})
	}
}
