// Package handlers exposes the video task API over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/engine"
	"server/internal/middleware"
	"server/internal/resilience"
	"server/internal/service"
)

// JobAPI is the slice of the job service the handlers need, kept as an
// interface so handler tests can stub it.
type JobAPI interface {
	Create(ctx context.Context, p service.CreateParams) (*service.CreateResult, error)
	Get(ctx context.Context, ownerID, jobID string) (*domain.Job, error)
	List(ctx context.Context, ownerID string, opts domain.ListOptions) ([]domain.Job, string, error)
	UpdateStatus(ctx context.Context, ownerID, jobID string, upd domain.StatusUpdate) (*domain.Job, error)
	Cancel(ctx context.Context, ownerID, jobID string) (*domain.Job, error)
	Delete(ctx context.Context, ownerID, jobID string) error
}

type App struct {
	Jobs     JobAPI
	Breakers map[string]*resilience.CircuitBreaker
	Logger   zerolog.Logger
}

func NewApp(jobs JobAPI, breakers map[string]*resilience.CircuitBreaker, logger zerolog.Logger) *App {
	return &App{Jobs: jobs, Breakers: breakers, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, slug, message string) {
	a.json(w, code, map[string]string{"error": slug, "message": message})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

// serviceError maps domain errors onto HTTP responses.
func (a *App) serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, domain.ErrIllegalTransition):
		a.error(w, http.StatusConflict, "illegal_transition", err.Error())
	case errors.Is(err, domain.ErrIdempotencyConflict):
		a.error(w, http.StatusConflict, "idempotency_conflict", "idempotency key reused with a different payload")
	case errors.Is(err, domain.ErrCursorFilterMismatch):
		a.error(w, http.StatusBadRequest, "bad_cursor", "cursor does not match the request filters")
	case errors.Is(err, domain.ErrQuotaExceeded):
		a.error(w, http.StatusTooManyRequests, "quota_exceeded", err.Error())
	case errors.Is(err, domain.ErrEngineUnsupported):
		a.error(w, http.StatusUnprocessableEntity, "unsupported_engine", err.Error())
	case errors.Is(err, domain.ErrValidation):
		a.error(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
	case engine.IsCircuitOpen(err):
		a.error(w, http.StatusServiceUnavailable, "engine_unavailable", engine.UserMessage(err))
	default:
		a.Logger.Error().Err(err).Msg("request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}
