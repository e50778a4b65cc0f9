// Package orchestrator drives one job from queued to a terminal state. Each
// run is an independent goroutine supervised by Supervisor; job status in the
// store is the single source of truth, so cancellation requested through the
// API is observed at the next poll checkpoint.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/engine"
	"server/internal/obs"
	"server/internal/resilience"
)

// Transferrer moves the engine's output artifact to durable storage and
// returns a user-fetchable URL.
type Transferrer interface {
	Transfer(ctx context.Context, jobID, sourceURL string) (string, error)
}

// Config tunes the poll loop.
type Config struct {
	// PollInterval is the fixed delay between engine polls.
	PollInterval time.Duration
	// PollBudget is the wall-clock limit before a run fails with a timeout.
	PollBudget time.Duration
}

const (
	defaultPollInterval = 5 * time.Second
	defaultPollBudget   = 300 * time.Second

	transferFailedMessage = "Failed to save video. Please try again later."
	engineFailedMessage   = "Video generation service error. Please try again later."
)

// Orchestrator coordinates engine calls and state-machine-validated writes
// for in-flight jobs.
type Orchestrator struct {
	jobs     domain.JobRepository
	transfer Transferrer
	metrics  *obs.Metrics
	cfg      Config
	logger   zerolog.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// New builds an orchestrator. Zero config fields fall back to the defaults
// (5s interval, 300s budget). metrics may be nil.
func New(jobs domain.JobRepository, transfer Transferrer, metrics *obs.Metrics, cfg Config, logger zerolog.Logger) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PollBudget <= 0 {
		cfg.PollBudget = defaultPollBudget
	}
	return &Orchestrator{
		jobs:     jobs,
		transfer: transfer,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Run processes one job to a terminal state. It returns when the job is
// terminal, when the store reports a cancellation, or when ctx ends (process
// shutdown; the job keeps its last persisted status).
func (o *Orchestrator) Run(ctx context.Context, job *domain.Job, eng engine.Adapter) {
	log := o.logger.With().Str("job_id", job.ID).Str("engine", eng.Name()).Logger()

	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Bytes("stack", debug.Stack()).Msg("orchestrator run panicked")
			// Best effort: the job must not stay stuck silently.
			failCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			o.failJob(failCtx, log, job, resilience.CodeUnknown.Message())
		}
	}()

	if _, err := o.transition(ctx, log, job.ID, domain.StatusUpdate{
		Status:   domain.JobStatusProcessing,
		Progress: intPtr(0),
	}); err != nil {
		return
	}

	externalID, err := eng.CreateJob(ctx, engine.CreateInput{
		Prompt:         job.Prompt,
		SourceImageURL: job.SourceImageURL,
		JobID:          job.ID,
	})
	o.countEngineCall(eng, "create", err)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Error().Err(err).Msg("engine create failed")
		o.failJob(ctx, log, job, engine.UserMessage(err))
		return
	}
	log.Info().Str("external_id", externalID).Msg("engine task created")

	if _, err := o.transition(ctx, log, job.ID, domain.StatusUpdate{
		Status:   domain.JobStatusProcessing,
		Progress: intPtr(10),
	}); err != nil {
		return
	}

	deadline := o.now().Add(o.cfg.PollBudget)

	for {
		if err := o.sleep(ctx, o.cfg.PollInterval); err != nil {
			log.Info().Msg("orchestrator run aborted")
			return
		}

		cur, err := o.jobs.GetByID(ctx, job.ID, "")
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				log.Warn().Msg("job disappeared mid-run, stopping")
				return
			}
			log.Error().Err(err).Msg("cancellation check failed, retrying next tick")
			continue
		}
		if cur.Status == domain.JobStatusCancelled {
			log.Info().Msg("job cancelled, stopping without further writes")
			return
		}
		if cur.Status.Terminal() {
			log.Warn().Str("status", string(cur.Status)).Msg("job already terminal, stopping")
			return
		}

		res, err := eng.PollJob(ctx, externalID)
		o.countEngineCall(eng, "poll", err)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("engine poll failed")
			o.failJob(ctx, log, job, engine.UserMessage(err))
			return
		}

		switch res.Status {
		case engine.StatusSucceeded:
			o.complete(ctx, log, job, res.OutputURL)
			return
		case engine.StatusFailed, engine.StatusCanceled:
			log.Warn().Str("engine_status", string(res.Status)).Str("engine_error", res.ErrorMessage).Msg("engine reported terminal failure")
			o.failJob(ctx, log, job, engineFailedMessage)
			return
		default:
			// Map engine progress into the 10-90 band.
			progress := 10 + int(0.8*float64(res.Progress))
			if progress > 90 {
				progress = 90
			}
			if _, err := o.transition(ctx, log, job.ID, domain.StatusUpdate{
				Status:   domain.JobStatusProcessing,
				Progress: intPtr(progress),
			}); err != nil {
				return
			}
		}

		if o.now().After(deadline) {
			log.Error().Dur("budget", o.cfg.PollBudget).Msg("poll budget exhausted")
			o.failJob(ctx, log, job, resilience.CodeTaskTimeout.Message())
			return
		}
	}
}

// complete transfers the output artifact and writes the terminal completed
// state.
func (o *Orchestrator) complete(ctx context.Context, log zerolog.Logger, job *domain.Job, outputURL string) {
	if _, err := o.transition(ctx, log, job.ID, domain.StatusUpdate{
		Status:   domain.JobStatusProcessing,
		Progress: intPtr(92),
	}); err != nil {
		return
	}

	videoURL, err := o.transfer.Transfer(ctx, job.ID, outputURL)
	if err != nil {
		log.Error().Err(err).Msg("artifact transfer failed")
		o.failJob(ctx, log, job, transferFailedMessage)
		return
	}

	if _, err := o.transition(ctx, log, job.ID, domain.StatusUpdate{
		Status:   domain.JobStatusCompleted,
		Progress: intPtr(100),
		VideoURL: &videoURL,
	}); err != nil {
		return
	}
	if o.metrics != nil {
		o.metrics.JobsCompleted.WithLabelValues(string(job.Engine)).Inc()
	}
	log.Info().Str("video_url", videoURL).Msg("job completed")
}

func (o *Orchestrator) failJob(ctx context.Context, log zerolog.Logger, job *domain.Job, message string) {
	if _, err := o.transition(ctx, log, job.ID, domain.StatusUpdate{
		Status:       domain.JobStatusFailed,
		ErrorMessage: &message,
	}); err != nil {
		return
	}
	if o.metrics != nil {
		o.metrics.JobsFailed.WithLabelValues(string(job.Engine)).Inc()
	}
}

func (o *Orchestrator) countEngineCall(eng engine.Adapter, op string, err error) {
	if o.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	o.metrics.EngineCalls.WithLabelValues(eng.Name(), op, outcome).Inc()
}

// transition validates and persists one status write. Same-status writes are
// progress updates and skip the adjacency check; field constraints always
// apply. A validation failure here is a programmer error: it is logged and
// the write is dropped.
func (o *Orchestrator) transition(ctx context.Context, log zerolog.Logger, jobID string, upd domain.StatusUpdate) (*domain.Job, error) {
	cur, err := o.jobs.GetByID(ctx, jobID, "")
	if err != nil {
		log.Error().Err(err).Str("to", string(upd.Status)).Msg("transition read failed")
		return nil, err
	}

	if cur.Status != upd.Status && !domain.ValidateTransition(cur.Status, upd.Status) {
		err := fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, cur.Status, upd.Status)
		log.Error().Err(err).Msg("orchestrator attempted illegal transition")
		return nil, err
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
		log.Error().Err(err).Str("to", string(upd.Status)).Msg("orchestrator produced invalid fields")
		return nil, err
	}

	updated, err := o.jobs.UpdateStatus(ctx, jobID, upd)
	if err != nil {
		log.Error().Err(err).Str("to", string(upd.Status)).Msg("transition write failed")
		return nil, err
	}

	o.logLatency(log, cur, updated)
	return updated, nil
}

// logLatency reports queue latency (created -> processing) and processing
// latency (processing -> terminal) in milliseconds.
func (o *Orchestrator) logLatency(log zerolog.Logger, before, after *domain.Job) {
	if before.Status == after.Status {
		return
	}
	now := o.now()
	var latency time.Duration
	switch {
	case after.Status == domain.JobStatusProcessing:
		latency = now.Sub(before.CreatedAt)
	case after.Status.Terminal() && before.ProcessingAt != nil:
		latency = now.Sub(*before.ProcessingAt)
	default:
		return
	}
	log.Info().
		Str("from", string(before.Status)).
		Str("to", string(after.Status)).
		Int64("latency_ms", latency.Milliseconds()).
		Msg("status change")
}

func intPtr(v int) *int { return &v }

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
