// Package service implements the application operations behind the HTTP
// handlers: idempotent job creation, owner-scoped reads, state-machine
// validated updates and cancellation.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/engine"
	"server/internal/idempotency"
	"server/internal/obs"
	"server/internal/orchestrator"
)

const maxPromptLength = 2000

// CreateParams carries a job creation request after authentication.
type CreateParams struct {
	OwnerID        string
	Title          string
	Prompt         string
	SourceImageURL string
	Engine         string
	IdempotencyKey string
}

// CreateResult reports the created or deduplicated job. Existing is true when
// an idempotency key matched a prior request and no new job was created.
type CreateResult struct {
	Job      *domain.Job
	Existing bool
}

// JobService coordinates the repositories, the idempotency guard and the
// orchestrator for the video task lifecycle.
type JobService struct {
	jobs      domain.JobRepository
	guard     *idempotency.Guard
	engines   map[domain.Engine]engine.Adapter
	orc       *orchestrator.Orchestrator
	sup       *orchestrator.Supervisor
	maxActive int
	metrics   *obs.Metrics
	logger    zerolog.Logger
	newID     func() string
}

// NewJobService builds the service. maxActive <= 0 disables the per-owner
// active-job quota; metrics may be nil.
func NewJobService(
	jobs domain.JobRepository,
	guard *idempotency.Guard,
	engines map[domain.Engine]engine.Adapter,
	orc *orchestrator.Orchestrator,
	sup *orchestrator.Supervisor,
	maxActive int,
	metrics *obs.Metrics,
	logger zerolog.Logger,
) *JobService {
	return &JobService{
		jobs:      jobs,
		guard:     guard,
		engines:   engines,
		orc:       orc,
		sup:       sup,
		maxActive: maxActive,
		metrics:   metrics,
		logger:    logger.With().Str("component", "jobs").Logger(),
		newID:     newJobID,
	}
}

// Create validates the request, applies the idempotency guard and the
// active-job quota, persists the job in queued state and launches its
// orchestrator run.
func (s *JobService) Create(ctx context.Context, p CreateParams) (*CreateResult, error) {
	p.Title = strings.TrimSpace(p.Title)
	p.Prompt = strings.TrimSpace(p.Prompt)
	if p.Prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", domain.ErrValidation)
	}
	if len(p.Prompt) > maxPromptLength {
		return nil, fmt.Errorf("%w: prompt exceeds %d characters", domain.ErrValidation, maxPromptLength)
	}
	if p.Title == "" {
		p.Title = "Untitled video"
	}

	eng := domain.EngineMock
	if p.Engine != "" {
		eng = domain.Engine(p.Engine)
	}
	adapter, ok := s.engines[eng]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrEngineUnsupported, p.Engine)
	}

	// The guard runs before the quota so a retried create replays the bound
	// job even when the owner is at the cap: a replay starts no new work.
	acquired := false
	if p.IdempotencyKey != "" {
		hash := idempotency.HashPayload(map[string]string{
			"title":          p.Title,
			"prompt":         p.Prompt,
			"sourceImageUrl": p.SourceImageURL,
			"engine":         string(eng),
		})
		res := s.guard.TryAcquire(ctx, p.OwnerID, p.IdempotencyKey, hash)
		switch {
		case res.Conflict:
			return nil, domain.ErrIdempotencyConflict
		case res.ExistingJobID != "":
			existing, err := s.jobs.GetByID(ctx, res.ExistingJobID, p.OwnerID)
			if err == nil {
				return &CreateResult{Job: existing, Existing: true}, nil
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return nil, err
			}
			// The bound job is gone (deleted); fall through and create anew.
			s.logger.Warn().Str("job_id", res.ExistingJobID).Msg("idempotency record points at missing job")
		}
		acquired = res.Acquired
	}

	if s.maxActive > 0 {
		active, err := s.jobs.CountActive(ctx, p.OwnerID)
		if err != nil {
			if acquired {
				s.guard.Release(ctx, p.OwnerID, p.IdempotencyKey)
			}
			return nil, fmt.Errorf("count active jobs: %w", err)
		}
		if active >= s.maxActive {
			if acquired {
				s.guard.Release(ctx, p.OwnerID, p.IdempotencyKey)
			}
			return nil, fmt.Errorf("%w: %d active jobs, limit %d", domain.ErrQuotaExceeded, active, s.maxActive)
		}
	}

	now := time.Now().UTC()
	job := &domain.Job{
		ID:             s.newID(),
		OwnerID:        p.OwnerID,
		Title:          p.Title,
		Prompt:         p.Prompt,
		SourceImageURL: p.SourceImageURL,
		Engine:         eng,
		Status:         domain.JobStatusQueued,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.jobs.Insert(ctx, job); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	if p.IdempotencyKey != "" {
		if err := s.guard.Finalize(ctx, p.OwnerID, p.IdempotencyKey, job.ID); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("idempotency finalize failed")
		}
	}
	if s.metrics != nil {
		s.metrics.JobsCreated.WithLabelValues(string(eng)).Inc()
	}

	launched := s.sup.Launch(job.ID, func(runCtx context.Context) {
		s.orc.Run(runCtx, job, adapter)
	})
	if !launched {
		// Shutting down; the job stays queued and is visible to the owner.
		s.logger.Warn().Str("job_id", job.ID).Msg("supervisor closed, job left queued")
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("owner_id", p.OwnerID).
		Str("engine", string(eng)).
		Msg("job created")
	return &CreateResult{Job: job}, nil
}

// Get returns one job scoped to its owner.
func (s *JobService) Get(ctx context.Context, ownerID, jobID string) (*domain.Job, error) {
	return s.jobs.GetByID(ctx, jobID, ownerID)
}

// List returns a page of the owner's jobs plus the cursor for the next page.
func (s *JobService) List(ctx context.Context, ownerID string, opts domain.ListOptions) ([]domain.Job, string, error) {
	return s.jobs.List(ctx, ownerID, opts)
}

// UpdateStatus applies an explicit status write after validating the
// transition edge and the per-status field constraints. Writes that keep the
// current status are progress updates and skip the edge check.
func (s *JobService) UpdateStatus(ctx context.Context, ownerID, jobID string, upd domain.StatusUpdate) (*domain.Job, error) {
	cur, err := s.jobs.GetByID(ctx, jobID, ownerID)
	if err != nil {
		return nil, err
	}

	if cur.Status != upd.Status && !domain.ValidateTransition(cur.Status, upd.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, cur.Status, upd.Status)
	}

	progress := cur.Progress
	if upd.Progress != nil {
		progress = *upd.Progress
	}
	videoURL := cur.VideoURL
	if upd.VideoURL != nil {
		videoURL = *upd.VideoURL
	}
	errorMessage := cur.ErrorMessage
	if upd.ErrorMessage != nil {
		errorMessage = *upd.ErrorMessage
	}
	if err := domain.ValidateFieldConstraints(upd.Status, progress, videoURL, errorMessage); err != nil {
		return nil, err
	}

	updated, err := s.jobs.UpdateStatus(ctx, jobID, upd)
	if err != nil {
		return nil, err
	}
	if upd.Status == domain.JobStatusCancelled && cur.Status != domain.JobStatusCancelled {
		s.sup.Cancel(jobID)
		if s.metrics != nil {
			s.metrics.JobsCancelled.WithLabelValues(string(updated.Engine)).Inc()
		}
	}
	return updated, nil
}

// Cancel moves a job to cancelled and interrupts its orchestrator run. Only
// queued and processing jobs can be cancelled.
func (s *JobService) Cancel(ctx context.Context, ownerID, jobID string) (*domain.Job, error) {
	return s.UpdateStatus(ctx, ownerID, jobID, domain.StatusUpdate{Status: domain.JobStatusCancelled})
}

// Delete removes a job, aborting its run first when one is in flight.
func (s *JobService) Delete(ctx context.Context, ownerID, jobID string) error {
	s.sup.Cancel(jobID)
	if err := s.jobs.Delete(ctx, jobID, ownerID); err != nil {
		return err
	}
	s.logger.Info().Str("job_id", jobID).Str("owner_id", ownerID).Msg("job deleted")
	return nil
}

// newJobID mints a short prefixed identifier, e.g. vt_1f9a30c4.
func newJobID() string {
	compact := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "vt_" + compact[:8]
}
