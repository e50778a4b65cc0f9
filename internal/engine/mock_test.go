package engine

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestMockLifecycle(t *testing.T) {
	m := NewMock(10 * time.Second)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	ctx := context.Background()
	externalID, err := m.CreateJob(ctx, CreateInput{Prompt: "a cat surfing", JobID: "vt_test1234"})
	if err != nil {
		t.Fatalf("CreateJob() error: %v", err)
	}
	if !strings.HasPrefix(externalID, "mock_") {
		t.Fatalf("CreateJob() id = %q, want mock_ prefix", externalID)
	}

	res, err := m.PollJob(ctx, externalID)
	if err != nil {
		t.Fatalf("PollJob() error: %v", err)
	}
	if res.Status != StatusRunning || res.Progress != 0 {
		t.Fatalf("PollJob() at start = %s/%d, want %s/0", res.Status, res.Progress, StatusRunning)
	}

	now = now.Add(5 * time.Second)
	res, err = m.PollJob(ctx, externalID)
	if err != nil {
		t.Fatalf("PollJob() error: %v", err)
	}
	if res.Status != StatusRunning || res.Progress != 50 {
		t.Fatalf("PollJob() halfway = %s/%d, want %s/50", res.Status, res.Progress, StatusRunning)
	}

	now = now.Add(5 * time.Second)
	res, err = m.PollJob(ctx, externalID)
	if err != nil {
		t.Fatalf("PollJob() error: %v", err)
	}
	if res.Status != StatusSucceeded || res.Progress != 100 {
		t.Fatalf("PollJob() done = %s/%d, want %s/100", res.Status, res.Progress, StatusSucceeded)
	}
	if res.OutputURL == "" {
		t.Fatal("PollJob() done returned empty OutputURL")
	}

	// The demo URL is stable across polls of the same task.
	again, err := m.PollJob(ctx, externalID)
	if err != nil {
		t.Fatalf("PollJob() error: %v", err)
	}
	if again.OutputURL != res.OutputURL {
		t.Fatalf("PollJob() url changed: %q vs %q", again.OutputURL, res.OutputURL)
	}
}

func TestMockUnknownTask(t *testing.T) {
	m := NewMock(time.Second)
	if _, err := m.PollJob(context.Background(), "mock_nope"); err == nil {
		t.Fatal("PollJob() unknown task returned nil error")
	}
}

func TestMockCancelledContext(t *testing.T) {
	m := NewMock(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.CreateJob(ctx, CreateInput{}); err == nil {
		t.Fatal("CreateJob() with cancelled context returned nil error")
	}
}
