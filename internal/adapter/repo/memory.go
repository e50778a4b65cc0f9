package repo

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"server/internal/domain"
)

// MemoryJobStore is an in-memory domain.JobRepository. It backs tests and
// local development without a database; the Postgres implementation is the
// system of record everywhere else.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
	now  func() time.Time
}

// NewMemoryJobStore builds an empty in-memory job store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]*domain.Job),
		now:  time.Now,
	}
}

func (m *MemoryJobStore) Insert(ctx context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *job
	m.jobs[job.ID] = &clone
	return nil
}

func (m *MemoryJobStore) GetByID(ctx context.Context, jobID, ownerID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || (ownerID != "" && job.OwnerID != ownerID) {
		return nil, domain.ErrNotFound
	}
	clone := *job
	return &clone, nil
}

func (m *MemoryJobStore) UpdateStatus(ctx context.Context, jobID string, upd domain.StatusUpdate) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	now := m.now()
	job.Status = upd.Status
	job.UpdatedAt = now
	if upd.Progress != nil {
		job.Progress = *upd.Progress
	}
	if upd.VideoURL != nil {
		job.VideoURL = *upd.VideoURL
	}
	if upd.ErrorMessage != nil {
		job.ErrorMessage = *upd.ErrorMessage
	}
	switch upd.Status {
	case domain.JobStatusProcessing:
		if job.ProcessingAt == nil {
			ts := now
			job.ProcessingAt = &ts
		}
	case domain.JobStatusCompleted:
		if job.CompletedAt == nil {
			ts := now
			job.CompletedAt = &ts
		}
	case domain.JobStatusFailed:
		if job.FailedAt == nil {
			ts := now
			job.FailedAt = &ts
		}
	case domain.JobStatusCancelled:
		if job.CancelledAt == nil {
			ts := now
			job.CancelledAt = &ts
		}
	}
	clone := *job
	return &clone, nil
}

func (m *MemoryJobStore) List(ctx context.Context, ownerID string, opts domain.ListOptions) ([]domain.Job, string, error) {
	opts, err := normalizeListOptions(opts)
	if err != nil {
		return nil, "", err
	}
	cur, err := resolveCursor(opts)
	if err != nil {
		return nil, "", err
	}

	m.mu.Lock()
	var jobs []domain.Job
	for _, job := range m.jobs {
		if job.OwnerID != ownerID {
			continue
		}
		if opts.Filter.Status != "" && job.Status != opts.Filter.Status {
			continue
		}
		if q := opts.Filter.Query; q != "" {
			if !strings.Contains(strings.ToLower(job.Title), strings.ToLower(q)) && job.ID != q {
				continue
			}
		}
		jobs = append(jobs, *job)
	}
	m.mu.Unlock()

	asc := opts.Sort == domain.SortCreatedAtAsc
	sort.Slice(jobs, func(i, j int) bool {
		a, b := jobs[i], jobs[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if asc {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		if asc {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})

	if cur != nil {
		after := func(j domain.Job) bool {
			if !j.CreatedAt.Equal(cur.createdAt) {
				if asc {
					return j.CreatedAt.After(cur.createdAt)
				}
				return j.CreatedAt.Before(cur.createdAt)
			}
			if asc {
				return j.ID > cur.id
			}
			return j.ID < cur.id
		}
		filtered := jobs[:0]
		for _, j := range jobs {
			if after(j) {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}

	return pageAndCursor(jobs, opts)
}

func (m *MemoryJobStore) Delete(ctx context.Context, jobID, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.OwnerID != ownerID {
		return domain.ErrNotFound
	}
	delete(m.jobs, jobID)
	return nil
}

func (m *MemoryJobStore) CountActive(ctx context.Context, ownerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, job := range m.jobs {
		if job.OwnerID == ownerID && (job.Status == domain.JobStatusQueued || job.Status == domain.JobStatusProcessing) {
			count++
		}
	}
	return count, nil
}

// MemoryIdempotencyStore is an in-memory domain.IdempotencyRepository
// guarded by a mutex, mirroring the unique-constraint semantics of the
// Postgres implementation.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	records map[string]*domain.IdempotencyRecord
}

// NewMemoryIdempotencyStore builds an empty in-memory record store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{records: make(map[string]*domain.IdempotencyRecord)}
}

func recordKey(ownerID, key string) string { return ownerID + "\x00" + key }

func (m *MemoryIdempotencyStore) Insert(ctx context.Context, rec *domain.IdempotencyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := recordKey(rec.OwnerID, rec.Key)
	if _, ok := m.records[k]; ok {
		return domain.ErrDuplicateKey
	}
	clone := *rec
	m.records[k] = &clone
	return nil
}

func (m *MemoryIdempotencyStore) Get(ctx context.Context, ownerID, key string, notBefore time.Time) (*domain.IdempotencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[recordKey(ownerID, key)]
	if !ok || rec.CreatedAt.Before(notBefore) {
		return nil, domain.ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (m *MemoryIdempotencyStore) Finalize(ctx context.Context, ownerID, key, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[recordKey(ownerID, key)]
	if !ok {
		return domain.ErrNotFound
	}
	rec.JobID = jobID
	return nil
}

func (m *MemoryIdempotencyStore) Release(ctx context.Context, ownerID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := recordKey(ownerID, key)
	if rec, ok := m.records[k]; ok && rec.JobID == "" {
		delete(m.records, k)
	}
	return nil
}

func (m *MemoryIdempotencyStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for k, rec := range m.records {
		if rec.CreatedAt.Before(cutoff) {
			delete(m.records, k)
			deleted++
		}
	}
	return deleted, nil
}

var (
	_ domain.JobRepository         = (*MemoryJobStore)(nil)
	_ domain.IdempotencyRepository = (*MemoryIdempotencyStore)(nil)
)
