package pipeline

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// maxEventBodyBytes bounds push-notification bodies. Upload events are
// tiny; anything bigger is not one.
const maxEventBodyBytes = 1 << 20

// HTTPHandler exposes the push-event endpoint and the operational API.
type HTTPHandler struct {
	runner *Runner
	runs   *RunStore
	logger *zap.Logger
	router chi.Router
}

// NewHTTPHandler constructs the HTTP handler and wires routes.
func NewHTTPHandler(runner *Runner, runs *RunStore, logger *zap.Logger) *HTTPHandler {
	h := &HTTPHandler{
		runner: runner,
		runs:   runs,
		logger: logger,
	}
	h.buildRouter()
	return h
}

func (h *HTTPHandler) buildRouter() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", h.handleHealth)
	r.Post("/api/v1/events", h.handleEvent)
	r.Get("/api/v1/runs", h.handleListRuns)
	r.Get("/api/v1/runs/{runID}", h.handleGetRun)

	h.router = r
}

// Router exposes the configured chi router.
func (h *HTTPHandler) Router() http.Handler {
	return h.router
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleEvent accepts a storage push notification and queues a
// pipeline run for it. The response is immediate: build results arrive
// via webhook, not on this connection.
func (h *HTTPHandler) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}

	evt, err := ParseUploadEvent(body)
	if err != nil {
		h.logger.Warn("malformed upload event", zap.Error(err))
		writeError(w, http.StatusBadRequest, "malformed upload event")
		return
	}

	runID := h.runner.Dispatch(r.Context(), evt)
	h.logger.Info("upload event accepted",
		zap.String("run_id", runID),
		zap.String("bucket", evt.BucketID),
		zap.String("object", evt.ObjectID))

	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": runID,
	})
}

func (h *HTTPHandler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"runs": h.runs.List(),
	})
}

func (h *HTTPHandler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	rec, ok := h.runs.Get(runID)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"error": msg,
	})
}
