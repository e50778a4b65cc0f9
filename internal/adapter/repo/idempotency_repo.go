package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// uniqueViolation is the PostgreSQL error code for a unique constraint hit.
const uniqueViolation = "23505"

// IdempotencyRepositoryPG implements domain.IdempotencyRepository. The
// (owner_id, idempotency_key) unique constraint is what makes concurrent
// acquisition atomic, including across server instances.
type IdempotencyRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewIdempotencyRepository creates the PostgreSQL-backed record store.
func NewIdempotencyRepository(pool *pgxpool.Pool) *IdempotencyRepositoryPG {
	return &IdempotencyRepositoryPG{pool: pool}
}

// Insert attempts the atomic insert-if-absent; a held key returns
// ErrDuplicateKey.
func (r *IdempotencyRepositoryPG) Insert(ctx context.Context, rec *domain.IdempotencyRecord) error {
	query := `
INSERT INTO idempotency_keys (owner_id, idempotency_key, payload_hash, job_id, created_at)
VALUES ($1, $2, $3, NULLIF($4, ''), $5);
`
	_, err := r.pool.Exec(ctx, query, rec.OwnerID, rec.Key, rec.PayloadHash, rec.JobID, rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrDuplicateKey
		}
		return err
	}
	return nil
}

// Get returns the record for (ownerID, key) created at or after notBefore.
func (r *IdempotencyRepositoryPG) Get(ctx context.Context, ownerID, key string, notBefore time.Time) (*domain.IdempotencyRecord, error) {
	query := `
SELECT owner_id, idempotency_key, payload_hash, COALESCE(job_id, ''), created_at
FROM idempotency_keys
WHERE owner_id = $1 AND idempotency_key = $2 AND created_at >= $3;
`
	var rec domain.IdempotencyRecord
	err := r.pool.QueryRow(ctx, query, ownerID, key, notBefore).Scan(
		&rec.OwnerID,
		&rec.Key,
		&rec.PayloadHash,
		&rec.JobID,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// Finalize binds the created job id to the record.
func (r *IdempotencyRepositoryPG) Finalize(ctx context.Context, ownerID, key, jobID string) error {
	_, err := r.pool.Exec(ctx, `
UPDATE idempotency_keys
SET job_id = $3
WHERE owner_id = $1 AND idempotency_key = $2;
`, ownerID, key, jobID)
	return err
}

// Release drops a record that never got a job bound to it.
func (r *IdempotencyRepositoryPG) Release(ctx context.Context, ownerID, key string) error {
	_, err := r.pool.Exec(ctx, `
DELETE FROM idempotency_keys
WHERE owner_id = $1 AND idempotency_key = $2 AND job_id IS NULL;
`, ownerID, key)
	return err
}

// DeleteExpired removes records created before the cutoff.
func (r *IdempotencyRepositoryPG) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1;`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

var _ domain.IdempotencyRepository = (*IdempotencyRepositoryPG)(nil)
