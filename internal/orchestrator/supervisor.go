package orchestrator

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Supervisor tracks the goroutine running each in-flight job so shutdown can
// wait for, or abort, outstanding runs deterministically, and so a
// cancellation can interrupt a run's sleep instead of waiting for the next
// poll checkpoint.
type Supervisor struct {
	logger     zerolog.Logger
	root       context.Context
	cancelRoot context.CancelFunc
	wg         sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	closed  bool
}

// NewSupervisor builds a supervisor whose runs all descend from one root
// context.
func NewSupervisor(logger zerolog.Logger) *Supervisor {
	root, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		logger:     logger.With().Str("component", "supervisor").Logger(),
		root:       root,
		cancelRoot: cancel,
		cancels:    make(map[string]context.CancelFunc),
	}
}

// Launch starts run on its own goroutine under a per-job cancellation token.
// It returns false when the supervisor is already shutting down.
func (s *Supervisor) Launch(jobID string, run func(ctx context.Context)) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(s.root)
	s.cancels[jobID] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.cancels, jobID)
			s.mu.Unlock()
			cancel()
			s.wg.Done()
		}()
		run(ctx)
	}()
	return true
}

// Cancel aborts the run for jobID if one is in flight.
func (s *Supervisor) Cancel(jobID string) bool {
	s.mu.Lock()
	cancel, ok := s.cancels[jobID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Active returns the number of in-flight runs.
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cancels)
}

// Shutdown stops accepting new runs and waits for in-flight ones. When ctx
// expires first, all remaining runs are aborted and waited for.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	active := len(s.cancels)
	s.mu.Unlock()

	if active > 0 {
		s.logger.Info().Int("active", active).Msg("waiting for in-flight jobs")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn().Int("active", s.Active()).Msg("shutdown deadline reached, aborting in-flight jobs")
		s.cancelRoot()
		<-done
		return ctx.Err()
	}
}
