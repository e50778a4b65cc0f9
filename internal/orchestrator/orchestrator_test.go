package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"server/internal/adapter/repo"
	"server/internal/domain"
	"server/internal/engine"
	"server/internal/resilience"
)

type scriptedAdapter struct {
	createID  string
	createErr error
	polls     []pollStep
	pollCalls int
}

type pollStep struct {
	res *engine.PollResult
	err error
}

func (a *scriptedAdapter) Name() string { return "scripted" }

func (a *scriptedAdapter) CreateJob(ctx context.Context, in engine.CreateInput) (string, error) {
	if a.createErr != nil {
		return "", a.createErr
	}
	if a.createID == "" {
		return "ext_1", nil
	}
	return a.createID, nil
}

func (a *scriptedAdapter) PollJob(ctx context.Context, externalID string) (*engine.PollResult, error) {
	step := a.polls[a.pollCalls]
	if a.pollCalls < len(a.polls)-1 {
		a.pollCalls++
	}
	return step.res, step.err
}

type fakeTransfer struct {
	url string
	err error
}

func (f *fakeTransfer) Transfer(ctx context.Context, jobID, sourceURL string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.url != "" {
		return f.url, nil
	}
	return sourceURL, nil
}

func seedJob(t *testing.T, store *repo.MemoryJobStore) *domain.Job {
	t.Helper()
	now := time.Now().UTC()
	job := &domain.Job{
		ID:        "vt_test0001",
		OwnerID:   "u1",
		Title:     "test",
		Prompt:    "a cat surfing",
		Engine:    domain.EngineMock,
		Status:    domain.JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.Insert(context.Background(), job); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	return job
}

func newTestOrchestrator(store *repo.MemoryJobStore, transfer Transferrer) *Orchestrator {
	o := New(store, transfer, nil, Config{}, zerolog.Nop())
	o.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return o
}

func TestRunCompletesJob(t *testing.T) {
	store := repo.NewMemoryJobStore()
	job := seedJob(t, store)
	adapter := &scriptedAdapter{polls: []pollStep{
		{res: &engine.PollResult{Status: engine.StatusRunning, Progress: 50}},
		{res: &engine.PollResult{Status: engine.StatusSucceeded, Progress: 100, OutputURL: "http://cdn/raw.mp4"}},
	}}
	o := newTestOrchestrator(store, &fakeTransfer{url: "http://static/video.mp4"})

	o.Run(context.Background(), job, adapter)

	final, err := store.GetByID(context.Background(), job.ID, "")
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if final.Status != domain.JobStatusCompleted {
		t.Fatalf("final status = %s, want completed", final.Status)
	}
	if final.Progress != 100 || final.VideoURL != "http://static/video.mp4" {
		t.Fatalf("final job = progress %d, url %q", final.Progress, final.VideoURL)
	}
	if final.ProcessingAt == nil || final.CompletedAt == nil {
		t.Fatal("transition timestamps missing")
	}
	if final.ErrorMessage != "" {
		t.Fatalf("ErrorMessage = %q, want empty", final.ErrorMessage)
	}
}

func TestRunMapsEngineProgressIntoBand(t *testing.T) {
	store := repo.NewMemoryJobStore()
	job := seedJob(t, store)

	var observed []int
	adapter := &scriptedAdapter{polls: []pollStep{
		{res: &engine.PollResult{Status: engine.StatusRunning, Progress: 0}},
		{res: &engine.PollResult{Status: engine.StatusRunning, Progress: 50}},
		{res: &engine.PollResult{Status: engine.StatusRunning, Progress: 100}},
		{res: &engine.PollResult{Status: engine.StatusSucceeded, Progress: 100, OutputURL: "http://cdn/raw.mp4"}},
	}}
	o := New(store, &fakeTransfer{}, nil, Config{}, zerolog.Nop())
	o.sleep = func(ctx context.Context, d time.Duration) error {
		cur, err := store.GetByID(ctx, job.ID, "")
		if err == nil {
			observed = append(observed, cur.Progress)
		}
		return nil
	}

	o.Run(context.Background(), job, adapter)

	// Before each poll: 10 after create, then 10+0.8*p clamped at 90.
	want := []int{10, 10, 50, 90}
	if len(observed) != len(want) {
		t.Fatalf("observed %v, want %v", observed, want)
	}
	for i := range want {
		if observed[i] != want[i] {
			t.Fatalf("observed %v, want %v", observed, want)
		}
	}
}

func TestRunStopsOnCancelledJob(t *testing.T) {
	store := repo.NewMemoryJobStore()
	job := seedJob(t, store)
	adapter := &scriptedAdapter{polls: []pollStep{
		{res: &engine.PollResult{Status: engine.StatusRunning, Progress: 10}},
	}}

	o := New(store, &fakeTransfer{}, nil, Config{}, zerolog.Nop())
	o.sleep = func(ctx context.Context, d time.Duration) error {
		// Owner cancels while the run is between polls.
		_, err := store.UpdateStatus(ctx, job.ID, domain.StatusUpdate{Status: domain.JobStatusCancelled})
		return err
	}

	o.Run(context.Background(), job, adapter)

	final, err := store.GetByID(context.Background(), job.ID, "")
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if final.Status != domain.JobStatusCancelled {
		t.Fatalf("final status = %s, want cancelled", final.Status)
	}
	if adapter.pollCalls != 0 {
		t.Fatalf("pollCalls = %d, want 0 after cancellation", adapter.pollCalls)
	}
}

func TestRunFailsWithSanitizedMessageOnCreateError(t *testing.T) {
	store := repo.NewMemoryJobStore()
	job := seedJob(t, store)
	adapter := &scriptedAdapter{createErr: &engine.Error{
		Code: resilience.CodeEngineUnavailable, StatusCode: 503, Detail: "upstream said: gateway exploded at 10.0.0.3",
	}}
	o := newTestOrchestrator(store, &fakeTransfer{})

	o.Run(context.Background(), job, adapter)

	final, _ := store.GetByID(context.Background(), job.ID, "")
	if final.Status != domain.JobStatusFailed {
		t.Fatalf("final status = %s, want failed", final.Status)
	}
	if final.ErrorMessage != resilience.CodeEngineUnavailable.Message() {
		t.Fatalf("ErrorMessage = %q, want sanitized message", final.ErrorMessage)
	}
	if final.FailedAt == nil {
		t.Fatal("FailedAt not set")
	}
}

func TestRunFailsWhenEngineReportsFailure(t *testing.T) {
	store := repo.NewMemoryJobStore()
	job := seedJob(t, store)
	adapter := &scriptedAdapter{polls: []pollStep{
		{res: &engine.PollResult{Status: engine.StatusFailed, ErrorMessage: "internal trace: model OOM on node 7"}},
	}}
	o := newTestOrchestrator(store, &fakeTransfer{})

	o.Run(context.Background(), job, adapter)

	final, _ := store.GetByID(context.Background(), job.ID, "")
	if final.Status != domain.JobStatusFailed {
		t.Fatalf("final status = %s, want failed", final.Status)
	}
	if final.ErrorMessage != engineFailedMessage {
		t.Fatalf("ErrorMessage = %q, want %q", final.ErrorMessage, engineFailedMessage)
	}
}

func TestRunFailsOnTransferError(t *testing.T) {
	store := repo.NewMemoryJobStore()
	job := seedJob(t, store)
	adapter := &scriptedAdapter{polls: []pollStep{
		{res: &engine.PollResult{Status: engine.StatusSucceeded, Progress: 100, OutputURL: "http://cdn/raw.mp4"}},
	}}
	o := newTestOrchestrator(store, &fakeTransfer{err: errors.New("disk full")})

	o.Run(context.Background(), job, adapter)

	final, _ := store.GetByID(context.Background(), job.ID, "")
	if final.Status != domain.JobStatusFailed {
		t.Fatalf("final status = %s, want failed", final.Status)
	}
	if final.ErrorMessage != transferFailedMessage {
		t.Fatalf("ErrorMessage = %q, want %q", final.ErrorMessage, transferFailedMessage)
	}
}

func TestRunFailsWhenPollBudgetExhausted(t *testing.T) {
	store := repo.NewMemoryJobStore()
	job := seedJob(t, store)
	adapter := &scriptedAdapter{polls: []pollStep{
		{res: &engine.PollResult{Status: engine.StatusRunning, Progress: 20}},
	}}

	o := New(store, &fakeTransfer{}, nil, Config{PollBudget: 300 * time.Second}, zerolog.Nop())
	o.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	clock := time.Now()
	o.now = func() time.Time {
		clock = clock.Add(200 * time.Second)
		return clock
	}

	o.Run(context.Background(), job, adapter)

	final, _ := store.GetByID(context.Background(), job.ID, "")
	if final.Status != domain.JobStatusFailed {
		t.Fatalf("final status = %s, want failed", final.Status)
	}
	if final.ErrorMessage != resilience.CodeTaskTimeout.Message() {
		t.Fatalf("ErrorMessage = %q, want task timeout message", final.ErrorMessage)
	}
}

func TestRunReturnsWhenContextEnds(t *testing.T) {
	store := repo.NewMemoryJobStore()
	job := seedJob(t, store)
	adapter := &scriptedAdapter{polls: []pollStep{
		{res: &engine.PollResult{Status: engine.StatusRunning, Progress: 10}},
	}}
	o := newTestOrchestrator(store, &fakeTransfer{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o.Run(ctx, job, adapter)

	// The run aborts at the first sleep; the job keeps its last state.
	final, _ := store.GetByID(context.Background(), job.ID, "")
	if final.Status != domain.JobStatusProcessing {
		t.Fatalf("final status = %s, want processing (shutdown keeps state)", final.Status)
	}
}
