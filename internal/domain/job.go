package domain

import "time"

// Engine enumerates video generation backends.
type Engine string

const (
	EngineMock   Engine = "mock"
	EngineRunway Engine = "runway"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status has no outgoing transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Job encapsulates the lifecycle of one video generation request.
type Job struct {
	ID             string
	OwnerID        string
	Title          string
	Prompt         string
	SourceImageURL string
	Engine         Engine
	Status         JobStatus
	Progress       int
	VideoURL       string
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ProcessingAt   *time.Time
	CompletedAt    *time.Time
	FailedAt       *time.Time
	CancelledAt    *time.Time
}

// IdempotencyRecord binds a client-supplied idempotency key to the job it
// created. JobID is empty while the creating request is still in flight.
type IdempotencyRecord struct {
	OwnerID     string
	Key         string
	PayloadHash string
	JobID       string
	CreatedAt   time.Time
}
