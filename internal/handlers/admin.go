package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	platformerrors "github.com/jmgilman/go/errors"
	"go.uber.org/zap"

	"iss-tracker-gateway/internal/worker"
	"iss-tracker-gateway/pkg/logging/logging"
)

// WorkerLoader builds the worker configuration currently on disk.
type WorkerLoader func() (worker.Config, error)

// AdminHandler exposes the registration lifecycle: updates, messages,
// status and explicit cache writes.
type AdminHandler struct {
	Registration *worker.Registration
	Load         WorkerLoader
	Deps         worker.Deps
	Token        string
}

func NewAdminHandler(reg *worker.Registration, load WorkerLoader, deps worker.Deps, token string) *AdminHandler {
	return &AdminHandler{
		Registration: reg,
		Load:         load,
		Deps:         deps,
		Token:        token,
	}
}

// Authorize requires "Authorization: Bearer <token>" when a token is set.
func (h *AdminHandler) Authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(h.Token)) != 1 {
				writeError(w, platformerrors.New(platformerrors.CodeUnauthorized, "missing or invalid admin token"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type updateResponse struct {
	Version string       `json:"version"`
	Changed bool         `json:"changed"`
	State   worker.State `json:"state"`
}

// Update reloads the manifest and runtime config and registers the result.
func (h *AdminHandler) Update(w http.ResponseWriter, r *http.Request) {
	logger := logging.L(r.Context())

	cfg, err := h.Load()
	if err != nil {
		logger.Warn("load worker config failed", zap.Error(err))
		writeError(w, err)
		return
	}
	wk, err := worker.New(cfg, h.Deps)
	if err != nil {
		writeError(w, err)
		return
	}

	// Installation outlives a disconnecting caller.
	changed, err := h.Registration.Register(context.WithoutCancel(r.Context()), wk)
	if err != nil {
		logger.Warn("worker update failed", zap.String("version", cfg.Version), zap.Error(err))
		writeError(w, err)
		return
	}

	logger.Info("worker_update",
		zap.String("version", cfg.Version),
		zap.Bool("changed", changed),
		zap.Stringer("state", wk.State()),
	)
	writeJSON(w, http.StatusOK, updateResponse{Version: cfg.Version, Changed: changed, State: wk.State()})
}

type messageRequest struct {
	Type string `json:"type"`
}

// Message delivers a lifecycle message such as skip-waiting.
func (h *AdminHandler) Message(w http.ResponseWriter, r *http.Request) {
	var msg messageRequest
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, platformerrors.Wrap(err, platformerrors.CodeInvalidInput, "invalid message body"))
		return
	}
	if err := h.Registration.Message(r.Context(), msg.Type); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Registration.Status())
}

func (h *AdminHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Registration.Status())
}

type cacheRequest struct {
	URL   string `json:"url"`
	Cache string `json:"cache,omitempty"`
}

func (h *AdminHandler) decodeCacheRequest(r *http.Request) (cacheRequest, *worker.Worker, error) {
	var req cacheRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, nil, platformerrors.Wrap(err, platformerrors.CodeInvalidInput, "invalid cache body")
	}
	if req.URL == "" {
		return req, nil, platformerrors.New(platformerrors.CodeInvalidInput, "url is required")
	}
	active := h.Registration.Active()
	if active == nil {
		return req, nil, platformerrors.New(platformerrors.CodeConflict, "no active worker")
	}
	return req, active, nil
}

// Cache fetches a URL into a runtime cache of the active worker.
func (h *AdminHandler) Cache(w http.ResponseWriter, r *http.Request) {
	req, active, err := h.decodeCacheRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := active.Cache(r.Context(), req.Cache, req.URL); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cached": true, "url": req.URL})
}

// Uncache removes a URL from a runtime cache of the active worker.
func (h *AdminHandler) Uncache(w http.ResponseWriter, r *http.Request) {
	req, active, err := h.decodeCacheRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	deleted, err := active.Uncache(r.Context(), req.Cache, req.URL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": deleted, "url": req.URL})
}
