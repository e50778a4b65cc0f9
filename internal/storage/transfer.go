package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxVideoBytes caps a single downloaded artifact.
const maxVideoBytes = 512 << 20

// VideoTransfer downloads an engine's output artifact and persists it via a
// FileStore, returning a durable URL under the configured public base. With
// no store configured, the engine's URL is passed through unchanged.
type VideoTransfer struct {
	client  *http.Client
	store   *FileStore
	baseURL string
}

// NewVideoTransfer builds a transfer bound to store; store may be nil for
// passthrough mode.
func NewVideoTransfer(store *FileStore, baseURL string) *VideoTransfer {
	return &VideoTransfer{
		client:  &http.Client{Timeout: 120 * time.Second},
		store:   store,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Transfer fetches sourceURL and writes it under a per-job key.
func (t *VideoTransfer) Transfer(ctx context.Context, jobID, sourceURL string) (string, error) {
	if t.store == nil {
		return sourceURL, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("storage: build download request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("storage: download video: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("storage: download video: http %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxVideoBytes))
	if err != nil {
		return "", fmt.Errorf("storage: read video body: %w", err)
	}

	key := fmt.Sprintf("generated/videos/%s/video.mp4", jobID)
	savedKey, err := t.store.Write(ctx, key, data)
	if err != nil {
		return "", err
	}
	return t.baseURL + "/" + savedKey, nil
}
