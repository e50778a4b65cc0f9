package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// demoVideos are the outputs the mock engine completes with.
var demoVideos = []string{
	"https://www.w3schools.com/html/mov_bbb.mp4",
	"https://commondatastorage.googleapis.com/gtv-videos-bucket/sample/BigBuckBunny.mp4",
	"https://commondatastorage.googleapis.com/gtv-videos-bucket/sample/ElephantsDream.mp4",
	"https://commondatastorage.googleapis.com/gtv-videos-bucket/sample/ForBiggerBlazes.mp4",
	"https://commondatastorage.googleapis.com/gtv-videos-bucket/sample/ForBiggerFun.mp4",
}

// Mock simulates a generation engine in memory. Tasks run for a fixed
// duration and report progress proportional to elapsed time, then succeed
// with a demo video URL. It never fails and needs no breaker or retries.
type Mock struct {
	duration time.Duration
	now      func() time.Time

	mu    sync.Mutex
	tasks map[string]time.Time
}

// NewMock builds a mock engine whose tasks complete after the given
// duration. A zero duration defaults to 15 seconds.
func NewMock(duration time.Duration) *Mock {
	if duration <= 0 {
		duration = 15 * time.Second
	}
	return &Mock{
		duration: duration,
		now:      time.Now,
		tasks:    make(map[string]time.Time),
	}
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) CreateJob(ctx context.Context, in CreateInput) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	externalID := "mock_" + uuid.NewString()
	m.mu.Lock()
	m.tasks[externalID] = m.now()
	m.mu.Unlock()
	return externalID, nil
}

func (m *Mock) PollJob(ctx context.Context, externalID string) (*PollResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	startedAt, ok := m.tasks[externalID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("mock: unknown task %q", externalID)
	}

	elapsed := m.now().Sub(startedAt)
	if elapsed >= m.duration {
		return &PollResult{
			Status:    StatusSucceeded,
			Progress:  100,
			OutputURL: demoVideo(externalID),
		}, nil
	}

	progress := int(elapsed * 100 / m.duration)
	if progress > 99 {
		progress = 99
	}
	return &PollResult{Status: StatusRunning, Progress: progress}, nil
}

// demoVideo picks a stable demo URL per task.
func demoVideo(externalID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(externalID))
	return demoVideos[int(h.Sum32())%len(demoVideos)]
}

var (
	_ Adapter = (*Mock)(nil)
	_ Adapter = (*Runway)(nil)
)
