package ipc

import (
	"context"
	"testing"
	"time"
)

func TestWorkerSemaphoreBoundsConcurrency(t *testing.T) {
	sem := NewWorkerSemaphore(2)

	if !sem.TryAcquire() {
		t.Fatal("expected first acquire to succeed")
	}
	if !sem.TryAcquire() {
		t.Fatal("expected second acquire to succeed")
	}
	if sem.TryAcquire() {
		t.Fatal("expected third acquire to fail, semaphore is exhausted")
	}

	sem.Release()
	if !sem.TryAcquire() {
		t.Fatal("expected acquire to succeed after a release")
	}
}

func TestWorkerSemaphoreAcquireBlocksUntilRelease(t *testing.T) {
	sem := NewWorkerSemaphore(1)
	if !sem.TryAcquire() {
		t.Fatal("expected initial acquire to succeed")
	}

	acquired := make(chan struct{})
	go func() {
		ctx := context.Background()
		if err := sem.Acquire(ctx); err != nil {
			return
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("expected Acquire to block while the slot is held")
	case <-time.After(50 * time.Millisecond):
	}

	sem.Release()

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("expected Acquire to unblock after Release")
	}
}
