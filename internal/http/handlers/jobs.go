package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
	"server/internal/service"
)

type createJobRequest struct {
	Title          string `json:"title"`
	Prompt         string `json:"prompt"`
	SourceImageURL string `json:"sourceImageUrl"`
	Engine         string `json:"engine"`
}

type updateStatusRequest struct {
	Status       string  `json:"status"`
	Progress     *int    `json:"progress"`
	VideoURL     *string `json:"videoUrl"`
	ErrorMessage *string `json:"errorMessage"`
}

type jobJSON struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Prompt         string     `json:"prompt"`
	SourceImageURL string     `json:"sourceImageUrl,omitempty"`
	Engine         string     `json:"engine"`
	Status         string     `json:"status"`
	Progress       int        `json:"progress"`
	VideoURL       string     `json:"videoUrl,omitempty"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	ProcessingAt   *time.Time `json:"processingAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	FailedAt       *time.Time `json:"failedAt,omitempty"`
	CancelledAt    *time.Time `json:"cancelledAt,omitempty"`
}

func toJobJSON(j *domain.Job) jobJSON {
	return jobJSON{
		ID:             j.ID,
		Title:          j.Title,
		Prompt:         j.Prompt,
		SourceImageURL: j.SourceImageURL,
		Engine:         string(j.Engine),
		Status:         string(j.Status),
		Progress:       j.Progress,
		VideoURL:       j.VideoURL,
		ErrorMessage:   j.ErrorMessage,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
		ProcessingAt:   j.ProcessingAt,
		CompletedAt:    j.CompletedAt,
		FailedAt:       j.FailedAt,
		CancelledAt:    j.CancelledAt,
	}
}

func (a *App) JobsCreate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	res, err := a.Jobs.Create(r.Context(), service.CreateParams{
		OwnerID:        userID,
		Title:          req.Title,
		Prompt:         req.Prompt,
		SourceImageURL: req.SourceImageURL,
		Engine:         req.Engine,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		a.serviceError(w, err)
		return
	}

	code := http.StatusCreated
	if res.Existing {
		code = http.StatusOK
	}
	a.json(w, code, toJobJSON(res.Job))
}

func (a *App) JobsList(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}

	q := r.URL.Query()
	opts := domain.ListOptions{
		Filter: domain.ListFilter{
			Status: domain.JobStatus(q.Get("status")),
			Query:  q.Get("q"),
		},
		Sort:   q.Get("sort"),
		Cursor: q.Get("cursor"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			a.error(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		opts.Limit = limit
	}

	jobs, next, err := a.Jobs.List(r.Context(), userID, opts)
	if err != nil {
		a.serviceError(w, err)
		return
	}

	items := make([]jobJSON, 0, len(jobs))
	for i := range jobs {
		items = append(items, toJobJSON(&jobs[i]))
	}
	a.json(w, http.StatusOK, map[string]any{
		"items":      items,
		"nextCursor": next,
	})
}

func (a *App) JobsGet(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	job, err := a.Jobs.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		a.serviceError(w, err)
		return
	}
	a.json(w, http.StatusOK, toJobJSON(job))
}

func (a *App) JobsUpdateStatus(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.Status == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "status is required")
		return
	}

	job, err := a.Jobs.UpdateStatus(r.Context(), userID, chi.URLParam(r, "id"), domain.StatusUpdate{
		Status:       domain.JobStatus(req.Status),
		Progress:     req.Progress,
		VideoURL:     req.VideoURL,
		ErrorMessage: req.ErrorMessage,
	})
	if err != nil {
		a.serviceError(w, err)
		return
	}
	a.json(w, http.StatusOK, toJobJSON(job))
}

func (a *App) JobsCancel(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	job, err := a.Jobs.Cancel(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		a.serviceError(w, err)
		return
	}
	a.json(w, http.StatusOK, toJobJSON(job))
}

func (a *App) JobsDelete(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	if err := a.Jobs.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		a.serviceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
