package domain

import (
	"context"
	"time"
)

// Sort orders accepted by list queries.
const (
	SortCreatedAtDesc = "createdAt_desc"
	SortCreatedAtAsc  = "createdAt_asc"
)

// ListFilter narrows a job listing. Zero values mean "no filter".
type ListFilter struct {
	Status JobStatus
	Query  string
}

// ListOptions carries pagination and filtering for job listings.
type ListOptions struct {
	Filter ListFilter
	Sort   string
	Limit  int
	Cursor string
}

// StatusUpdate describes a single status transition write. Nil optional
// fields leave the stored value untouched.
type StatusUpdate struct {
	Status       JobStatus
	Progress     *int
	VideoURL     *string
	ErrorMessage *string
}

// JobRepository defines persistence for job entities. UpdateStatus writes
// unconditionally; transition legality is enforced by callers through the
// state machine before any write.
type JobRepository interface {
	Insert(ctx context.Context, job *Job) error
	// GetByID scopes by owner when ownerID is non-empty; background callers
	// pass an empty ownerID.
	GetByID(ctx context.Context, jobID, ownerID string) (*Job, error)
	UpdateStatus(ctx context.Context, jobID string, upd StatusUpdate) (*Job, error)
	List(ctx context.Context, ownerID string, opts ListOptions) ([]Job, string, error)
	Delete(ctx context.Context, jobID, ownerID string) error
	CountActive(ctx context.Context, ownerID string) (int, error)
}

// IdempotencyRepository defines storage for idempotency records. Insert must
// be atomic on the (ownerID, key) unique constraint and return
// ErrDuplicateKey when the key is already held.
type IdempotencyRepository interface {
	Insert(ctx context.Context, rec *IdempotencyRecord) error
	// Get returns records created at or after notBefore; older records are
	// treated as expired and reported as ErrNotFound.
	Get(ctx context.Context, ownerID, key string, notBefore time.Time) (*IdempotencyRecord, error)
	Finalize(ctx context.Context, ownerID, key, jobID string) error
	// Release drops an acquired record whose creation was abandoned before
	// a job was bound, freeing the key for the next attempt.
	Release(ctx context.Context, ownerID, key string) error
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}
