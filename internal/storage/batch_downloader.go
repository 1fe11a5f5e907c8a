package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"
)

// BatchDownloader reads many objects in parallel with bounded concurrency.
type BatchDownloader struct {
	storage     ObjectStorage
	concurrency int
}

// BatchRequest specifies which objects to download with optional priorities.
type BatchRequest struct {
	ObjectPaths []string
	Priority    []int // lower values start first
}

// BatchResult contains the outcome of a batch download.
type BatchResult struct {
	Objects map[string][]byte
	Errors  map[string]error
}

// NewBatchDownloader creates a downloader over storage. Concurrency below
// one is treated as one.
func NewBatchDownloader(storage ObjectStorage, concurrency int) *BatchDownloader {
	if concurrency < 1 {
		concurrency = 1
	}
	return &BatchDownloader{
		storage:     storage,
		concurrency: concurrency,
	}
}

// Download fetches every requested object. Per-object failures are
// reported in BatchResult.Errors; the returned error is only set for an
// invalid request.
func (b *BatchDownloader) Download(ctx context.Context, req *BatchRequest) (*BatchResult, error) {
	result := &BatchResult{
		Objects: make(map[string][]byte),
		Errors:  make(map[string]error),
	}
	if len(req.ObjectPaths) == 0 {
		return result, nil
	}

	priority := req.Priority
	if len(priority) == 0 {
		priority = make([]int, len(req.ObjectPaths))
	} else if len(priority) != len(req.ObjectPaths) {
		return nil, fmt.Errorf("priority array length must match object paths count")
	}

	type pathWithPriority struct {
		path     string
		priority int
	}
	paths := make([]pathWithPriority, len(req.ObjectPaths))
	for i, p := range req.ObjectPaths {
		paths[i] = pathWithPriority{path: p, priority: priority[i]}
	}
	sort.SliceStable(paths, func(i, j int) bool {
		return paths[i].priority < paths[j].priority
	})

	sem := semaphore.NewWeighted(int64(b.concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, p := range paths {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			result.Errors[p.path] = fmt.Errorf("semaphore acquire failed: %w", err)
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(objectPath string) {
			defer sem.Release(1)
			defer wg.Done()

			data, err := b.storage.Get(ctx, objectPath)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[objectPath] = err
				return
			}
			result.Objects[objectPath] = data
		}(p.path)
	}

	wg.Wait()
	return result, nil
}
