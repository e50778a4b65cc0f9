// Package idempotency deduplicates retried job-creation requests scoped by
// (owner, key). The guard leans on the backing store's unique constraint for
// atomicity, so it is safe across multiple server instances, and it fails
// open on storage errors: availability wins over perfect dedup.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
)

const (
	// DefaultTTL is how long a record blocks reuse of its key.
	DefaultTTL = 24 * time.Hour
	// defaultRetryWait is the single backoff before re-reading a key held
	// by a concurrent in-flight creation.
	defaultRetryWait = 500 * time.Millisecond
)

// Result of TryAcquire. Exactly one of the three outcomes holds:
// Acquired (caller creates the job and finalizes), ExistingJobID (same key,
// same payload, job already bound), or Conflict (same key, different
// payload). A zero Result means the key is held by an in-flight request that
// never finalized; callers fail open and proceed to create.
type Result struct {
	Acquired      bool
	ExistingJobID string
	Conflict      bool
}

// Guard implements the idempotent-creation check over a storage handle.
type Guard struct {
	repo      domain.IdempotencyRepository
	ttl       time.Duration
	retryWait time.Duration
	logger    zerolog.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration)
}

// NewGuard builds a guard with the given TTL; ttl <= 0 uses DefaultTTL.
func NewGuard(repo domain.IdempotencyRepository, ttl time.Duration, logger zerolog.Logger) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{
		repo:      repo,
		ttl:       ttl,
		retryWait: defaultRetryWait,
		logger:    logger.With().Str("component", "idempotency").Logger(),
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// HashPayload produces a short stable hash of the request payload for
// comparison. Map keys are sorted so equivalent payloads hash identically.
func HashPayload(payload map[string]string) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([][2]string, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, [2]string{k, payload[k]})
	}
	raw, _ := json.Marshal(ordered)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:16]
}

// TryAcquire attempts an atomic insert-if-absent for (ownerID, key). On a
// duplicate it inspects the existing record within the TTL window: a payload
// mismatch is a Conflict, a bound job id is returned as-is, and a record
// still awaiting its job id is re-read once after a short wait.
func (g *Guard) TryAcquire(ctx context.Context, ownerID, key, payloadHash string) Result {
	rec := &domain.IdempotencyRecord{
		OwnerID:     ownerID,
		Key:         key,
		PayloadHash: payloadHash,
		CreatedAt:   g.now(),
	}

	err := g.repo.Insert(ctx, rec)
	if err == nil {
		g.logger.Debug().Str("owner_id", ownerID).Msg("idempotency lock acquired")
		return Result{Acquired: true}
	}
	if !errors.Is(err, domain.ErrDuplicateKey) {
		g.logger.Error().Err(err).Str("owner_id", ownerID).Msg("idempotency insert failed, failing open")
		return Result{Acquired: true}
	}

	cutoff := g.now().Add(-g.ttl)
	existing, err := g.repo.Get(ctx, ownerID, key, cutoff)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Expired record still holds the unique key; retry the insert once.
			if insertErr := g.repo.Insert(ctx, rec); insertErr == nil {
				return Result{Acquired: true}
			}
			g.logger.Warn().Str("owner_id", ownerID).Msg("idempotency reinsert after expiry failed, failing open")
			return Result{Acquired: true}
		}
		g.logger.Error().Err(err).Str("owner_id", ownerID).Msg("idempotency lookup failed, failing open")
		return Result{Acquired: true}
	}

	if existing.PayloadHash != payloadHash {
		g.logger.Warn().Str("owner_id", ownerID).Msg("idempotency payload mismatch")
		return Result{Conflict: true}
	}
	if existing.JobID != "" {
		return Result{ExistingJobID: existing.JobID}
	}

	// Another request holds the lock mid-creation: wait once and re-read.
	g.sleep(ctx, g.retryWait)
	existing, err = g.repo.Get(ctx, ownerID, key, cutoff)
	if err == nil && existing.JobID != "" {
		return Result{ExistingJobID: existing.JobID}
	}
	g.logger.Warn().Str("owner_id", ownerID).Msg("idempotency lock held with no job id, caller may proceed")
	return Result{}
}

// Finalize binds the created job id to the acquired record.
func (g *Guard) Finalize(ctx context.Context, ownerID, key, jobID string) error {
	return g.repo.Finalize(ctx, ownerID, key, jobID)
}

// Release frees an acquired key after the creation it guarded was abandoned
// (for example a quota rejection), so the owner's next attempt is not forced
// through the contested-lock wait.
func (g *Guard) Release(ctx context.Context, ownerID, key string) {
	if err := g.repo.Release(ctx, ownerID, key); err != nil {
		g.logger.Error().Err(err).Str("owner_id", ownerID).Msg("idempotency release failed")
	}
}

// Cleanup deletes records older than the TTL and returns the count removed.
func (g *Guard) Cleanup(ctx context.Context) (int64, error) {
	return g.repo.DeleteExpired(ctx, g.now().Add(-g.ttl))
}

// RunCleanup deletes expired records on the given interval until ctx ends.
func (g *Guard) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := g.Cleanup(ctx)
			if err != nil {
				g.logger.Error().Err(err).Msg("idempotency cleanup failed")
				continue
			}
			if deleted > 0 {
				g.logger.Info().Int64("deleted", deleted).Msg("idempotency cleanup removed expired keys")
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
