package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

const jobColumns = `id, owner_id, title, prompt, source_image_url, engine, status, progress,
video_url, error_message, created_at, updated_at, processing_at, completed_at, failed_at, cancelled_at`

// JobRepositoryPG implements domain.JobRepository on PostgreSQL.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

// Insert stores a new job record.
func (r *JobRepositoryPG) Insert(ctx context.Context, job *domain.Job) error {
	query := `
INSERT INTO video_jobs (id, owner_id, title, prompt, source_image_url, engine, status, progress, video_url, error_message, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.OwnerID,
		job.Title,
		job.Prompt,
		job.SourceImageURL,
		job.Engine,
		job.Status,
		job.Progress,
		job.VideoURL,
		job.ErrorMessage,
		job.CreatedAt,
		job.UpdatedAt,
	)
	return err
}

// GetByID fetches a job, scoped to the owner when ownerID is non-empty.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID, ownerID string) (*domain.Job, error) {
	query := fmt.Sprintf(`
SELECT %s
FROM video_jobs
WHERE id = $1 AND ($2 = '' OR owner_id = $2);
`, jobColumns)
	row := r.pool.QueryRow(ctx, query, jobID, ownerID)
	return scanJob(row)
}

// UpdateStatus writes a status transition unconditionally; legality is the
// caller's responsibility. Each transition timestamp is set once, on first
// entry into its status. The updated row is returned.
func (r *JobRepositoryPG) UpdateStatus(ctx context.Context, jobID string, upd domain.StatusUpdate) (*domain.Job, error) {
	query := fmt.Sprintf(`
UPDATE video_jobs
SET status = $2,
    updated_at = NOW(),
    progress = COALESCE($3, progress),
    video_url = COALESCE($4, video_url),
    error_message = COALESCE($5, error_message),
    processing_at = CASE WHEN $2 = 'processing' AND processing_at IS NULL THEN NOW() ELSE processing_at END,
    completed_at  = CASE WHEN $2 = 'completed'  AND completed_at  IS NULL THEN NOW() ELSE completed_at  END,
    failed_at     = CASE WHEN $2 = 'failed'     AND failed_at     IS NULL THEN NOW() ELSE failed_at     END,
    cancelled_at  = CASE WHEN $2 = 'cancelled'  AND cancelled_at  IS NULL THEN NOW() ELSE cancelled_at  END
WHERE id = $1
RETURNING %s;
`, jobColumns)
	row := r.pool.QueryRow(ctx, query, jobID, upd.Status, upd.Progress, upd.VideoURL, upd.ErrorMessage)
	return scanJob(row)
}

// List returns one page of the owner's jobs plus the cursor for the next
// page. Ordering is stable: ties on created_at break on id.
func (r *JobRepositoryPG) List(ctx context.Context, ownerID string, opts domain.ListOptions) ([]domain.Job, string, error) {
	opts, err := normalizeListOptions(opts)
	if err != nil {
		return nil, "", err
	}
	cur, err := resolveCursor(opts)
	if err != nil {
		return nil, "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM video_jobs WHERE owner_id = $1", jobColumns)
	args := []any{ownerID}

	if opts.Filter.Status != "" {
		args = append(args, opts.Filter.Status)
		fmt.Fprintf(&sb, " AND status = $%d", len(args))
	}
	if opts.Filter.Query != "" {
		args = append(args, likePattern(opts.Filter.Query), opts.Filter.Query)
		fmt.Fprintf(&sb, ` AND (title ILIKE $%d ESCAPE '\' OR id = $%d)`, len(args)-1, len(args))
	}
	if cur != nil {
		args = append(args, cur.createdAt, cur.id)
		if opts.Sort == domain.SortCreatedAtAsc {
			fmt.Fprintf(&sb, " AND (created_at, id) > ($%d, $%d)", len(args)-1, len(args))
		} else {
			fmt.Fprintf(&sb, " AND (created_at, id) < ($%d, $%d)", len(args)-1, len(args))
		}
	}
	if opts.Sort == domain.SortCreatedAtAsc {
		sb.WriteString(" ORDER BY created_at ASC, id ASC")
	} else {
		sb.WriteString(" ORDER BY created_at DESC, id DESC")
	}
	// One extra row detects whether a next page exists.
	args = append(args, opts.Limit+1)
	fmt.Fprintf(&sb, " LIMIT $%d;", len(args))

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, "", scanErr
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	return pageAndCursor(jobs, opts)
}

// Delete removes the owner's job; missing rows map to ErrNotFound.
func (r *JobRepositoryPG) Delete(ctx context.Context, jobID, ownerID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM video_jobs WHERE id = $1 AND owner_id = $2;`, jobID, ownerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CountActive counts the owner's queued and processing jobs.
func (r *JobRepositoryPG) CountActive(ctx context.Context, ownerID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
SELECT COUNT(*) FROM video_jobs
WHERE owner_id = $1 AND status IN ('queued', 'processing');
`, ownerID).Scan(&count)
	return count, err
}

// pageAndCursor trims the probe row and encodes the next cursor.
func pageAndCursor(jobs []domain.Job, opts domain.ListOptions) ([]domain.Job, string, error) {
	hasMore := len(jobs) > opts.Limit
	if hasMore {
		jobs = jobs[:opts.Limit]
	}
	nextCursor := ""
	if hasMore && len(jobs) > 0 {
		last := jobs[len(jobs)-1]
		nextCursor = encodeCursor(cursor{
			createdAt: last.CreatedAt,
			id:        last.ID,
			query:     opts.Filter.Query,
			status:    opts.Filter.Status,
			sort:      opts.Sort,
		})
	}
	return jobs, nextCursor, nil
}

// likePattern escapes LIKE wildcards in user input.
func likePattern(q string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + replacer.Replace(q) + "%"
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.Title,
		&job.Prompt,
		&job.SourceImageURL,
		&job.Engine,
		&job.Status,
		&job.Progress,
		&job.VideoURL,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.ProcessingAt,
		&job.CompletedAt,
		&job.FailedAt,
		&job.CancelledAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
