package domain

import "fmt"

// allowedTransitions is the directed edge set of the job state machine.
// Terminal states have no outgoing edges.
var allowedTransitions = map[JobStatus][]JobStatus{
	JobStatusQueued:     {JobStatusProcessing, JobStatusFailed, JobStatusCancelled},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
	JobStatusCompleted:  {},
	JobStatusFailed:     {},
	JobStatusCancelled:  {},
}

// ValidateTransition reports whether a job may move from one status to another.
func ValidateTransition(from, to JobStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateFieldConstraints checks the per-status invariants on progress,
// videoUrl and errorMessage. It returns an error wrapping ErrValidation when
// a field is illegal for the given status, before anything is persisted.
func ValidateFieldConstraints(status JobStatus, progress int, videoURL, errorMessage string) error {
	switch status {
	case JobStatusQueued:
		if progress != 0 {
			return fmt.Errorf("%w: progress must be 0 for queued status", ErrValidation)
		}
		if videoURL != "" {
			return fmt.Errorf("%w: videoUrl must be empty for queued status", ErrValidation)
		}
		if errorMessage != "" {
			return fmt.Errorf("%w: errorMessage must be empty for queued status", ErrValidation)
		}
	case JobStatusProcessing:
		if progress < 0 || progress > 99 {
			return fmt.Errorf("%w: progress must be 0-99 for processing status", ErrValidation)
		}
		if videoURL != "" {
			return fmt.Errorf("%w: videoUrl must be empty for processing status", ErrValidation)
		}
		if errorMessage != "" {
			return fmt.Errorf("%w: errorMessage must be empty for processing status", ErrValidation)
		}
	case JobStatusCompleted:
		if progress != 100 {
			return fmt.Errorf("%w: progress must be 100 for completed status", ErrValidation)
		}
		if videoURL == "" {
			return fmt.Errorf("%w: videoUrl is required for completed status", ErrValidation)
		}
		if errorMessage != "" {
			return fmt.Errorf("%w: errorMessage must be empty for completed status", ErrValidation)
		}
	case JobStatusFailed:
		if errorMessage == "" {
			return fmt.Errorf("%w: errorMessage is required for failed status", ErrValidation)
		}
		if videoURL != "" {
			return fmt.Errorf("%w: videoUrl must be empty for failed status", ErrValidation)
		}
		// progress is kept at the failure point for diagnostics.
	case JobStatusCancelled:
		if videoURL != "" {
			return fmt.Errorf("%w: videoUrl must be empty for cancelled status", ErrValidation)
		}
		if errorMessage != "" {
			return fmt.Errorf("%w: errorMessage must be empty for cancelled status", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	return nil
}
