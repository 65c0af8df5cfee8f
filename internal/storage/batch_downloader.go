package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
)

// BatchDownloader fetches many small objects in parallel. The table service
// uses it to pull transaction log entries when loading a table.
type BatchDownloader struct {
	storage     ObjectStorage
	concurrency int
	destDir     string
}

// BatchResult contains the outcome of a batch download.
type BatchResult struct {
	LocalPaths map[string]string
	Errors     map[string]error
}

// Err returns the error of the first failed object in the given order, or nil.
func (r *BatchResult) Err(order []string) error {
	for _, p := range order {
		if err, ok := r.Errors[p]; ok {
			return fmt.Errorf("download %s: %w", p, err)
		}
	}
	return nil
}

// NewBatchDownloader creates a downloader writing into destDir with at most
// concurrency downloads in flight.
func NewBatchDownloader(storage ObjectStorage, concurrency int, destDir string) *BatchDownloader {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &BatchDownloader{
		storage:     storage,
		concurrency: concurrency,
		destDir:     destDir,
	}
}

// Download downloads all objectPaths. Per-object failures are collected in
// BatchResult.Errors; the returned error is only set when destDir cannot be
// prepared.
func (b *BatchDownloader) Download(ctx context.Context, objectPaths []string) (*BatchResult, error) {
	result := &BatchResult{
		LocalPaths: make(map[string]string, len(objectPaths)),
		Errors:     make(map[string]error),
	}
	if len(objectPaths) == 0 {
		return result, nil
	}
	if err := os.MkdirAll(b.destDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	sem := semaphore.NewWeighted(int64(b.concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, p := range objectPaths {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			result.Errors[p] = fmt.Errorf("semaphore acquire failed: %w", err)
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(objectPath, local string) {
			defer sem.Release(1)
			defer wg.Done()

			err := b.storage.Download(ctx, objectPath, local)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[objectPath] = err
				return
			}
			result.LocalPaths[objectPath] = local
		}(p, b.localPath(p))
	}

	wg.Wait()
	return result, nil
}

// localPath flattens the object path into a single file name under destDir.
func (b *BatchDownloader) localPath(objectPath string) string {
	return filepath.Join(b.destDir, strings.ReplaceAll(objectPath, "/", "__"))
}
