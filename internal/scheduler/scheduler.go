// Package scheduler is the in-memory coordinator over PENDING and RUNNING
// jobs: a priority heap plus a dependency DAG.
//
// There is no direct teacher analogue (mmp-bk has no job concept at all);
// the shape here is grounded on pudd's internal/worker/scheduler.go (a
// polling loop that claims runnable work under a single lock) generalized
// from "poll a queue table" to "maintain a live heap+DAG and compute a
// ready set", using this repo's own internal/containers package for the
// heap and DAG per the redesign note authorizing standard-library-style
// substitutes for a hand-rolled container zoo.
package scheduler

import (
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mmp/ecpb/internal/containers"
	"github.com/mmp/ecpb/internal/metastore"
	"github.com/mmp/ecpb/internal/model"
)

// Scheduler tracks ready/in-progress jobs in memory, backed by a metastore
// for durable job state. All operations are mutually exclusive under a
// single lock.
type Scheduler struct {
	mu         sync.Mutex
	meta       *metastore.Store
	dag        *containers.DAG
	queue      *containers.PriorityQueue
	inProgress map[int64]bool
	log        zerolog.Logger
}

func New(meta *metastore.Store, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		meta:       meta,
		dag:        containers.NewDAG(),
		queue:      containers.NewPriorityQueue(),
		inProgress: make(map[int64]bool),
		log:        log,
	}
}

// Submit persists job, adds it to the heap and DAG, and registers its
// initial dependencies. A dependency that would close a cycle is rejected
// with a warning; the job itself still submits.
func (sch *Scheduler) Submit(job model.Job) (int64, error) {
	sch.mu.Lock()
	defer sch.mu.Unlock()

	job.CreatedAt = time.Now()
	jobID, err := sch.meta.CreateJob(job)
	if err != nil {
		return 0, err
	}

	sch.dag.AddNode(jobID)
	sch.queue.Push(&containers.ReadyItem{
		JobID:     jobID,
		Priority:  int(job.Priority),
		CreatedAt: job.CreatedAt.UnixNano(),
	})

	for _, prereq := range job.Dependencies {
		sch.dag.AddNode(prereq)
		if !sch.dag.AddEdge(jobID, prereq) {
			sch.log.Warn().Int64("job_id", jobID).Int64("prerequisite", prereq).
				Msg("dependency would create a cycle, rejected")
			continue
		}
		if err := sch.meta.AddDependency(jobID, prereq); err != nil {
			sch.log.Error().Err(err).Int64("job_id", jobID).Msg("persist dependency failed")
		}
	}

	return jobID, nil
}

// GetReadyJobs returns the ready set — DAG in-degree zero, persisted status
// PENDING, not already in progress — sorted by (priority desc, created_at
// asc), and atomically marks the returned jobs in_progress.
func (sch *Scheduler) GetReadyJobs() ([]int64, error) {
	sch.mu.Lock()
	defer sch.mu.Unlock()

	var candidates []*containers.ReadyItem
	var deferred []*containers.ReadyItem

	for sch.queue.Len() > 0 {
		item := sch.queue.Pop()
		if sch.dag.InDegree(item.JobID) != 0 || sch.inProgress[item.JobID] {
			deferred = append(deferred, item)
			continue
		}

		job, err := sch.meta.GetJob(item.JobID)
		if err != nil {
			sch.log.Warn().Err(err).Int64("job_id", item.JobID).Msg("ready-set lookup failed")
			continue
		}
		if job.Status != model.StatusPending {
			continue
		}
		candidates = append(candidates, item)
	}

	for _, item := range deferred {
		sch.queue.Push(item)
	}

	var ready []int64
	for _, item := range candidates {
		sch.inProgress[item.JobID] = true
		ready = append(ready, item.JobID)
	}
	return ready, nil
}

// MarkCompleted removes job's node from the DAG (freeing dependents whose
// in-degree reaches zero), drops its now-stale heap entry if one is still
// queued, and clears its in-progress flag.
func (sch *Scheduler) MarkCompleted(jobID int64) {
	sch.mu.Lock()
	defer sch.mu.Unlock()

	sch.dag.RemoveNode(jobID)
	sch.queue.RemoveByJobID(jobID)
	delete(sch.inProgress, jobID)
}

// MarkFailed sets job's status to FAILED, cancels every direct dependent
// with an error naming the failed job, and removes job's node from the DAG.
func (sch *Scheduler) MarkFailed(jobID int64, reason string) error {
	sch.mu.Lock()
	defer sch.mu.Unlock()

	if err := sch.meta.UpdateJobStatus(jobID, model.StatusFailed, reason); err != nil {
		return err
	}

	dependents := sch.dag.Dependents(jobID)
	for _, dep := range dependents {
		msg := cancelMessage(jobID)
		if err := sch.meta.UpdateJobStatus(dep, model.StatusCancelled, msg); err != nil {
			sch.log.Error().Err(err).Int64("job_id", dep).Msg("cascading cancel failed")
		}
		// A cancelled dependent can never become ready again; drop its heap
		// entry now instead of leaving it queued until a later GetReadyJobs
		// call sees its in-degree at zero and discards it by status.
		sch.queue.RemoveByJobID(dep)
		delete(sch.inProgress, dep)
	}

	sch.dag.RemoveNode(jobID)
	sch.queue.RemoveByJobID(jobID)
	delete(sch.inProgress, jobID)
	return nil
}

func cancelMessage(failedJobID int64) string {
	return "Dependency job " + strconv.FormatInt(failedJobID, 10) + " failed"
}
