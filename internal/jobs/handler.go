// internal/jobs/handler.go
package jobs

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"membercycle/internal/auth"
)

type Handler struct {
	service Service
	auth    *auth.Chain
	logger  *slog.Logger
}

func NewHandler(service Service, chain *auth.Chain, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, auth: chain, logger: logger}
}

// Routes mounts the manual triggers, the health check and the metrics
// endpoint.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.HandleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/jobs/{kind}", h.HandleTrigger)
	return r
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleTrigger runs a manual job for an authenticated admin.
func (h *Handler) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	kind, err := ParseKind(chi.URLParam(r, "kind"))
	if err != nil || !kind.Manual() {
		writeError(w, http.StatusNotFound, "not-found", "unknown job")
		return
	}

	caller, err := h.auth.AuthenticateRequest(r)
	if err != nil {
		h.writeServiceError(w, kind, err)
		return
	}

	result, err := h.service.RunManual(r.Context(), kind, caller.MemberID)
	if err != nil {
		h.writeServiceError(w, kind, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, kind Kind, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthenticated", "Must be authenticated")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, http.StatusForbidden, "permission-denied", "Must be admin")
	case errors.Is(err, ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "resource-exhausted", err.Error())
	case errors.Is(err, ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "already-exists", err.Error())
	case errors.Is(err, ErrUnknownJob):
		writeError(w, http.StatusNotFound, "not-found", err.Error())
	default:
		h.logger.Error("manual job failed", "job", kind, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "Manual "+descriptions[kind]+" failed")
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": code, "message": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
