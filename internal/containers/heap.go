// Package containers holds the small, generic data structures the
// scheduler and in-memory indexes are built from: a priority heap, a
// dependency DAG, and a bounded ring buffer for IPC message queues.
//
// The teacher's era of this codebase hand-rolled a hash map, heap, DAG,
// B+ tree and ring buffer from scratch; per the redesign notes, a faithful
// reimplementation may substitute standard library equivalents provided
// the scheduler's O(log n) priority updates and removal-by-predicate are
// preserved. container/heap already gives us that, so the priority queue
// here is a thin wrapper around it rather than a hand-rolled binary heap.
package containers

import "container/heap"

// ReadyItem is one entry in the scheduler's priority queue: a job id with
// the priority and creation time used to order it.
type ReadyItem struct {
	JobID     int64
	Priority  int
	CreatedAt int64 // unix nanoseconds; used as the tie-breaker
	index     int   // heap-internal bookkeeping
}

// PriorityQueue orders ReadyItems by (priority descending, created_at
// ascending), matching the scheduler's get_ready_jobs() ordering rule.
type PriorityQueue struct {
	h priorityHeap
}

func NewPriorityQueue() *PriorityQueue {
	pq := &PriorityQueue{}
	heap.Init(&pq.h)
	return pq
}

// Push adds an item to the queue.
func (pq *PriorityQueue) Push(item *ReadyItem) {
	heap.Push(&pq.h, item)
}

// Pop removes and returns the highest-priority item, or nil if empty.
func (pq *PriorityQueue) Pop() *ReadyItem {
	if pq.h.Len() == 0 {
		return nil
	}
	return heap.Pop(&pq.h).(*ReadyItem)
}

// Len reports the number of items currently queued.
func (pq *PriorityQueue) Len() int {
	return pq.h.Len()
}

// RemoveByJobID removes the item for the given job id, if present, in
// O(n) time (a predicate-driven removal, as opposed to Pop's O(log n)
// removal of the head); this is what Scheduler.MarkCompleted and
// MarkFailed use to drop a specific heap entry.
func (pq *PriorityQueue) RemoveByJobID(jobID int64) bool {
	for i, it := range pq.h {
		if it.JobID == jobID {
			heap.Remove(&pq.h, i)
			return true
		}
	}
	return false
}

type priorityHeap []*ReadyItem

func (h priorityHeap) Len() int { return len(h) }

func (h priorityHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority // descending
	}
	return h[i].CreatedAt < h[j].CreatedAt // ascending
}

func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *priorityHeap) Push(x any) {
	item := x.(*ReadyItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}
