package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"server/internal/resilience"
)

const (
	runwayAPIVersion = "2024-11-06"

	defaultRunwayBaseURL = "https://api.dev.runwayml.com/v1"
	defaultRunwayModel   = "gen4_turbo"
	defaultDurationSecs  = 5
	defaultRatio         = "1280:720"

	runwayHTTPTimeout = 30 * time.Second
)

// RunwayConfig configures the Runway adapter.
type RunwayConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Runway calls the Runway image-to-video API. Every operation first consults
// the circuit breaker and then runs the retry loop; failures are classified
// into stable error kinds before they reach callers.
type Runway struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryPolicy
	logger  zerolog.Logger

	// sleep is swapped in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRunway builds the adapter. A missing API key is a configuration error
// surfaced at startup, not per request.
func NewRunway(cfg RunwayConfig, breaker *resilience.CircuitBreaker, logger zerolog.Logger) (*Runway, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("runway: RUNWAY_API_KEY is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultRunwayBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultRunwayModel
	}
	return &Runway{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: runwayHTTPTimeout},
		breaker: breaker,
		logger:  logger.With().Str("engine", "runway").Logger(),
		sleep:   sleepCtx,
	}, nil
}

func (r *Runway) Name() string { return "runway" }

type runwayCreateRequest struct {
	PromptImage string `json:"promptImage"`
	PromptText  string `json:"promptText"`
	Model       string `json:"model"`
	Duration    int    `json:"duration"`
	Ratio       string `json:"ratio"`
}

type runwayCreateResponse struct {
	ID string `json:"id"`
}

type runwayTaskResponse struct {
	Status      string   `json:"status"`
	Output      []string `json:"output"`
	Failure     string   `json:"failure"`
	FailureCode string   `json:"failureCode"`
}

// CreateJob starts an image-to-video task and returns the external task id.
func (r *Runway) CreateJob(ctx context.Context, in CreateInput) (string, error) {
	payload, err := json.Marshal(runwayCreateRequest{
		PromptImage: in.SourceImageURL,
		PromptText:  in.Prompt,
		Model:       r.model,
		Duration:    defaultDurationSecs,
		Ratio:       defaultRatio,
	})
	if err != nil {
		return "", fmt.Errorf("runway: encode create request: %w", err)
	}

	var externalID string
	err = r.do(ctx, in.JobID, func(attempt int) (int, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/image_to_video", bytes.NewReader(payload))
		if reqErr != nil {
			return 0, reqErr
		}
		r.setHeaders(req)
		req.Header.Set("Content-Type", "application/json")

		resp, doErr := r.client.Do(req)
		if doErr != nil {
			return 0, doErr
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
			var created runwayCreateResponse
			if decErr := json.NewDecoder(resp.Body).Decode(&created); decErr != nil || created.ID == "" {
				return resp.StatusCode, fmt.Errorf("runway: response missing task id")
			}
			externalID = created.ID
			return resp.StatusCode, nil
		}
		return resp.StatusCode, responseError(resp)
	})
	if err != nil {
		return "", err
	}
	r.logger.Info().Str("job_id", in.JobID).Str("external_id", externalID).Msg("runway task created")
	return externalID, nil
}

// PollJob fetches the current state of an external task.
func (r *Runway) PollJob(ctx context.Context, externalID string) (*PollResult, error) {
	var result *PollResult
	err := r.do(ctx, externalID, func(attempt int) (int, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/tasks/"+externalID, nil)
		if reqErr != nil {
			return 0, reqErr
		}
		r.setHeaders(req)

		resp, doErr := r.client.Do(req)
		if doErr != nil {
			return 0, doErr
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return resp.StatusCode, responseError(resp)
		}
		var task runwayTaskResponse
		if decErr := json.NewDecoder(resp.Body).Decode(&task); decErr != nil {
			return resp.StatusCode, fmt.Errorf("runway: decode task response: %w", decErr)
		}
		result = mapTask(&task)
		return resp.StatusCode, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// do runs one operation through the breaker gate and the retry loop. call
// returns the HTTP status (0 when no response arrived) and an error on
// failure; on success the breaker records it and do returns nil.
func (r *Runway) do(ctx context.Context, ref string, call func(attempt int) (int, error)) error {
	if !r.breaker.CanAttempt() {
		r.logger.Warn().Str("ref", ref).Msg("runway circuit open, rejecting call")
		return &Error{Code: resilience.CodeEngineCircuitOpen, Detail: "circuit open"}
	}

	var lastErr error
	lastStatus := 0

	for attempt := 1; attempt <= resilience.MaxAttempts; attempt++ {
		if delay := r.retry.DelayForAttempt(attempt); delay > 0 {
			r.logger.Info().Str("ref", ref).Int("attempt", attempt).Dur("delay", delay).Msg("runway retry backoff")
			if err := r.sleep(ctx, delay); err != nil {
				return err
			}
		}

		status, err := call(attempt)
		if err == nil {
			r.breaker.RecordSuccess()
			return nil
		}

		lastErr = err
		lastStatus = status
		r.logger.Error().Err(err).Str("ref", ref).Int("attempt", attempt).Int("status", status).Msg("runway call failed")

		if !r.retry.IsRetryable(err, status) {
			r.breaker.RecordFailure()
			return &Error{
				Code:       resilience.CodeForStatus(status),
				StatusCode: status,
				Detail:     "permanent engine error",
				wrapped:    err,
			}
		}
	}

	r.breaker.RecordFailure()
	return &Error{
		Code:       resilience.CodeForStatus(lastStatus),
		StatusCode: lastStatus,
		Detail:     fmt.Sprintf("failed after %d attempts", resilience.MaxAttempts),
		wrapped:    lastErr,
	}
}

func (r *Runway) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("X-Runway-Version", runwayAPIVersion)
}

func mapTask(task *runwayTaskResponse) *PollResult {
	status := TaskStatus(task.Status)
	result := &PollResult{Status: status}

	switch status {
	case StatusRunning:
		result.Progress = 50
	case StatusSucceeded:
		result.Progress = 100
		if len(task.Output) > 0 {
			result.OutputURL = task.Output[0]
		}
	case StatusFailed:
		result.ErrorMessage = task.Failure
		if result.ErrorMessage == "" {
			result.ErrorMessage = task.FailureCode
		}
	case StatusCanceled:
		result.ErrorMessage = "task was canceled"
	}
	return result
}

func responseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
	detail := strings.TrimSpace(string(body))
	if detail == "" {
		detail = "unknown error"
	}
	return fmt.Errorf("runway: http %d: %s", resp.StatusCode, detail)
}

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
