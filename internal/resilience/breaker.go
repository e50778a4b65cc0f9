package resilience

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Circuit breaker states.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

const (
	defaultFailureThreshold = 5
	defaultCooldown         = 60 * time.Second
	defaultWindow           = 60 * time.Second
)

// BreakerStatus is a consistent snapshot for observability.
type BreakerStatus struct {
	Name            string     `json:"name"`
	State           string     `json:"state"`
	FailureCount    int        `json:"failureCount"`
	Threshold       int        `json:"threshold"`
	CooldownSeconds int        `json:"cooldownSeconds"`
	OpenedAt        *time.Time `json:"openedAt"`
}

// CircuitBreaker gates calls to one external engine. After failureThreshold
// failures inside the sliding window it opens and rejects calls; once the
// cooldown elapses it permits a single trial call (half-open) which either
// closes it again or re-opens it. All state lives in process memory and
// resets on restart.
type CircuitBreaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	window    time.Duration
	logger    zerolog.Logger
	now       func() time.Time

	mu            sync.Mutex
	state         CircuitState
	failureCount  int
	lastFailureAt time.Time
	openedAt      time.Time
}

// NewCircuitBreaker builds a breaker with the default threshold (5 failures),
// window (60s) and cooldown (60s). One instance exists per engine name.
func NewCircuitBreaker(name string, logger zerolog.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		name:      name,
		threshold: defaultFailureThreshold,
		cooldown:  defaultCooldown,
		window:    defaultWindow,
		logger:    logger.With().Str("circuit", name).Logger(),
		now:       time.Now,
		state:     CircuitClosed,
	}
}

// Name returns the engine name this breaker guards.
func (b *CircuitBreaker) Name() string { return b.name }

// State returns the current state, moving OPEN to HALF_OPEN once the
// cooldown has elapsed.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked(b.now())
}

func (b *CircuitBreaker) stateLocked(now time.Time) CircuitState {
	if b.state == CircuitOpen && !b.openedAt.IsZero() {
		if elapsed := now.Sub(b.openedAt); elapsed >= b.cooldown {
			b.logger.Info().Dur("elapsed", elapsed).Msg("circuit OPEN -> HALF_OPEN after cooldown")
			b.state = CircuitHalfOpen
		}
	}
	return b.state
}

// CanAttempt reports whether a call is allowed: true in CLOSED and HALF_OPEN
// (the single trial call), false in OPEN.
func (b *CircuitBreaker) CanAttempt() bool {
	return b.State() != CircuitOpen
}

// RecordSuccess resets the breaker to CLOSED from any state.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != CircuitClosed {
		b.logger.Info().Str("from", string(b.state)).Msg("circuit -> CLOSED (success)")
	}
	b.state = CircuitClosed
	b.failureCount = 0
	b.openedAt = time.Time{}
}

// RecordFailure counts a failed call. The count resets first when the window
// has elapsed since the previous failure. Reaching the threshold opens the
// circuit; a failure during the half-open trial re-opens it immediately.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	state := b.stateLocked(now)

	if !b.lastFailureAt.IsZero() && now.Sub(b.lastFailureAt) > b.window {
		b.failureCount = 0
	}
	b.failureCount++
	b.lastFailureAt = now

	b.logger.Warn().Int("count", b.failureCount).Int("threshold", b.threshold).Msg("circuit failure recorded")

	if state == CircuitHalfOpen {
		b.logger.Warn().Msg("circuit HALF_OPEN -> OPEN (trial call failed)")
		b.state = CircuitOpen
		b.openedAt = now
		return
	}
	if b.failureCount >= b.threshold {
		if b.state != CircuitOpen {
			b.logger.Error().Int("threshold", b.threshold).Msg("circuit -> OPEN (threshold reached)")
		}
		b.state = CircuitOpen
		b.openedAt = now
	}
}

// GetStatus returns a snapshot for monitoring.
func (b *CircuitBreaker) GetStatus() BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	status := BreakerStatus{
		Name:            b.name,
		State:           string(b.stateLocked(b.now())),
		FailureCount:    b.failureCount,
		Threshold:       b.threshold,
		CooldownSeconds: int(b.cooldown / time.Second),
	}
	if !b.openedAt.IsZero() {
		openedAt := b.openedAt
		status.OpenedAt = &openedAt
	}
	return status
}

// Reset forces the breaker back to CLOSED. Intended for tests and admin use.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = CircuitClosed
	b.failureCount = 0
	b.openedAt = time.Time{}
	b.lastFailureAt = time.Time{}
}
