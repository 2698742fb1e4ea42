package ipc

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// WorkerSemaphore bounds the number of concurrently spawned worker
// processes to MAX_WORKER_PROCESSES.
type WorkerSemaphore struct {
	sem *semaphore.Weighted
}

func NewWorkerSemaphore(maxWorkers int) *WorkerSemaphore {
	return &WorkerSemaphore{sem: semaphore.NewWeighted(int64(maxWorkers))}
}

// TryAcquire attempts to reserve one worker slot without blocking.
func (s *WorkerSemaphore) TryAcquire() bool {
	return s.sem.TryAcquire(1)
}

// Acquire blocks until a worker slot is available or ctx is done.
func (s *WorkerSemaphore) Acquire(ctx context.Context) error {
	return s.sem.Acquire(ctx, 1)
}

// Release returns a worker slot to the pool.
func (s *WorkerSemaphore) Release() {
	s.sem.Release(1)
}
