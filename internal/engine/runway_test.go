package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"server/internal/resilience"
)

func newTestRunway(t *testing.T, baseURL string) (*Runway, *resilience.CircuitBreaker) {
	t.Helper()
	breaker := resilience.NewCircuitBreaker("runway", zerolog.Nop())
	r, err := NewRunway(RunwayConfig{APIKey: "key_test", BaseURL: baseURL}, breaker, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRunway() error: %v", err)
	}
	r.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return r, breaker
}

func TestNewRunwayRequiresAPIKey(t *testing.T) {
	breaker := resilience.NewCircuitBreaker("runway", zerolog.Nop())
	if _, err := NewRunway(RunwayConfig{}, breaker, zerolog.Nop()); err == nil {
		t.Fatal("NewRunway() with empty API key returned nil error")
	}
}

func TestRunwayCreateJob(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path != "/image_to_video" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("X-Runway-Version"); got != runwayAPIVersion {
			t.Errorf("X-Runway-Version = %q, want %q", got, runwayAPIVersion)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key_test" {
			t.Errorf("Authorization = %q", got)
		}
		var req runwayCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != defaultRunwayModel || req.Ratio != defaultRatio {
			t.Errorf("request model/ratio = %q/%q", req.Model, req.Ratio)
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(runwayCreateResponse{ID: "task_abc"})
	}))
	defer srv.Close()

	r, _ := newTestRunway(t, srv.URL)
	id, err := r.CreateJob(context.Background(), CreateInput{Prompt: "p", SourceImageURL: "http://x/img.png", JobID: "vt_1"})
	if err != nil {
		t.Fatalf("CreateJob() error: %v", err)
	}
	if id != "task_abc" {
		t.Fatalf("CreateJob() = %q, want task_abc", id)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("server calls = %d, want 1", got)
	}
}

func TestRunwayRetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(runwayCreateResponse{ID: "task_retry"})
	}))
	defer srv.Close()

	r, breaker := newTestRunway(t, srv.URL)
	id, err := r.CreateJob(context.Background(), CreateInput{JobID: "vt_2"})
	if err != nil {
		t.Fatalf("CreateJob() error: %v", err)
	}
	if id != "task_retry" {
		t.Fatalf("CreateJob() = %q, want task_retry", id)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("server calls = %d, want 3", got)
	}
	if breaker.State() != resilience.CircuitClosed {
		t.Fatalf("breaker state = %s, want CLOSED after success", breaker.State())
	}
}

func TestRunwayExhaustsRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	r, _ := newTestRunway(t, srv.URL)
	_, err := r.CreateJob(context.Background(), CreateInput{JobID: "vt_3"})
	if err == nil {
		t.Fatal("CreateJob() returned nil error after exhausted retries")
	}
	if got := atomic.LoadInt32(&calls); got != int32(resilience.MaxAttempts) {
		t.Fatalf("server calls = %d, want %d", got, resilience.MaxAttempts)
	}
	var engErr *Error
	if !errors.As(err, &engErr) {
		t.Fatalf("error %T does not unwrap to *Error", err)
	}
	if engErr.Code != resilience.CodeEngineUnavailable {
		t.Fatalf("error code = %s, want %s", engErr.Code, resilience.CodeEngineUnavailable)
	}
}

func TestRunwayFailsFastOnPermanentError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	r, _ := newTestRunway(t, srv.URL)
	_, err := r.CreateJob(context.Background(), CreateInput{JobID: "vt_4"})
	if err == nil {
		t.Fatal("CreateJob() returned nil error for 400 response")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("server calls = %d, want 1 (no retries on 4xx)", got)
	}
	var engErr *Error
	if !errors.As(err, &engErr) || engErr.Code != resilience.CodeInvalidPrompt {
		t.Fatalf("error = %v, want code %s", err, resilience.CodeInvalidPrompt)
	}
}

func TestRunwayCircuitOpenRejectsWithoutCalling(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	r, breaker := newTestRunway(t, srv.URL)
	for breaker.State() != resilience.CircuitOpen {
		_, _ = r.CreateJob(context.Background(), CreateInput{JobID: "vt_5"})
	}

	before := atomic.LoadInt32(&calls)
	_, err := r.CreateJob(context.Background(), CreateInput{JobID: "vt_5"})
	if !IsCircuitOpen(err) {
		t.Fatalf("IsCircuitOpen(%v) = false, want true", err)
	}
	if got := atomic.LoadInt32(&calls); got != before {
		t.Fatalf("server calls = %d, want %d (no call while OPEN)", got, before)
	}
}

func TestRunwayPollJobMapping(t *testing.T) {
	tests := []struct {
		name string
		task runwayTaskResponse
		want PollResult
	}{
		{
			name: "running",
			task: runwayTaskResponse{Status: "RUNNING"},
			want: PollResult{Status: StatusRunning, Progress: 50},
		},
		{
			name: "succeeded",
			task: runwayTaskResponse{Status: "SUCCEEDED", Output: []string{"http://cdn/video.mp4"}},
			want: PollResult{Status: StatusSucceeded, Progress: 100, OutputURL: "http://cdn/video.mp4"},
		},
		{
			name: "failed with failure text",
			task: runwayTaskResponse{Status: "FAILED", Failure: "content policy", FailureCode: "SAFETY"},
			want: PollResult{Status: StatusFailed, ErrorMessage: "content policy"},
		},
		{
			name: "failed with code only",
			task: runwayTaskResponse{Status: "FAILED", FailureCode: "INTERNAL"},
			want: PollResult{Status: StatusFailed, ErrorMessage: "INTERNAL"},
		},
		{
			name: "canceled",
			task: runwayTaskResponse{Status: "CANCELED"},
			want: PollResult{Status: StatusCanceled, ErrorMessage: "task was canceled"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/tasks/task_xyz" {
					t.Errorf("unexpected path %q", r.URL.Path)
				}
				_ = json.NewEncoder(w).Encode(tc.task)
			}))
			defer srv.Close()

			r, _ := newTestRunway(t, srv.URL)
			got, err := r.PollJob(context.Background(), "task_xyz")
			if err != nil {
				t.Fatalf("PollJob() error: %v", err)
			}
			if *got != tc.want {
				t.Fatalf("PollJob() = %+v, want %+v", *got, tc.want)
			}
		})
	}
}
