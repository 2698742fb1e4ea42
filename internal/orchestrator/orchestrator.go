// Package orchestrator runs the two orchestration loops:
// a simple single-process loop for inline worker execution, and a
// multi-worker loop that spawns isolated worker processes bounded by a
// counting semaphore.
//
// Go cannot safely fork() a process that has started goroutines (the
// runtime's threads and locks do not survive a bare fork), so "spawn an
// isolated worker" is implemented as a re-exec of the running binary via
// os/exec with a --worker-mode flag, the idiomatic Go equivalent of a
// literal fork/exec worker spawn; see DESIGN.md for this decision. The
// reaping/exit-code-to-outcome mapping is grounded on mmp-bk's
// cmd/bk_e2etest, which drives a compiled binary with os/exec and checks
// its exit status.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mmp/ecpb/internal/ipc"
	"github.com/mmp/ecpb/internal/metastore"
	"github.com/mmp/ecpb/internal/model"
	"github.com/mmp/ecpb/internal/scheduler"
	"github.com/mmp/ecpb/internal/worker"
)

// singleProcessPollInterval is the sleep used when the ready set is empty
// but PENDING jobs remain.
const singleProcessPollInterval = 100 * time.Millisecond

// RunSingleProcess drains ready jobs and runs each worker inline until no
// job is PENDING.
func RunSingleProcess(ctx context.Context, meta *metastore.Store, sch *scheduler.Scheduler, w *worker.Worker, log zerolog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		pending, err := meta.GetJobsByStatus(model.StatusPending)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}

		ready, err := sch.GetReadyJobs()
		if err != nil {
			return err
		}
		if len(ready) == 0 {
			time.Sleep(singleProcessPollInterval)
			continue
		}

		for _, jobID := range ready {
			job, err := meta.GetJob(jobID)
			if err != nil {
				log.Error().Err(err).Int64("job_id", jobID).Msg("ready job lookup failed")
				continue
			}

			result := w.Run(job, func(ev worker.Event) {
				log.Debug().Str("event", string(ev.Type)).Int64("job_id", ev.JobID).Msg("worker progress")
			})

			if result.Success {
				sch.MarkCompleted(jobID)
			} else {
				if err := sch.MarkFailed(jobID, result.Error); err != nil {
					log.Error().Err(err).Int64("job_id", jobID).Msg("mark failed cascade error")
				}
			}
		}
	}
}

// MaxWorkerProcesses is the default cap on concurrent worker processes.
const MaxWorkerProcesses = 4

// childExitCode reports the outcome of a spawned re-exec'd worker.
type childExitCode struct {
	jobID int64
	code  int
}

// RunMultiWorker runs the long-lived multi-process loop: reap finished
// children, drain IPC messages, acquire the semaphore, spawn re-exec'd
// workers for ready jobs. It terminates when no job is PENDING and no
// worker is active.
func RunMultiWorker(ctx context.Context, meta *metastore.Store, sch *scheduler.Scheduler, dataDir string, maxWorkers int, log zerolog.Logger) error {
	sem := ipc.NewWorkerSemaphore(maxWorkers)
	results := make(chan childExitCode, maxWorkers)

	var wg sync.WaitGroup
	active := 0

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case res := <-results:
			active--
			sem.Release()
			if res.code == 0 {
				sch.MarkCompleted(res.jobID)
			} else {
				if err := sch.MarkFailed(res.jobID, fmt.Sprintf("worker exited with code %d", res.code)); err != nil {
					log.Error().Err(err).Int64("job_id", res.jobID).Msg("mark failed cascade error")
				}
			}
			continue
		default:
		}

		pending, err := meta.GetJobsByStatus(model.StatusPending)
		if err != nil {
			return err
		}
		if len(pending) == 0 && active == 0 {
			return nil
		}

		ready, _ := sch.GetReadyJobs()
		for _, jobID := range ready {
			if !sem.TryAcquire() {
				break
			}
			active++
			wg.Add(1)
			go func(jobID int64) {
				defer wg.Done()
				code := spawnWorker(dataDir, jobID, log)
				results <- childExitCode{jobID: jobID, code: code}
			}(jobID)
		}

		time.Sleep(singleProcessPollInterval)
	}
}

// spawnWorker re-execs the current binary with --worker-mode and
// --worker-job-id=jobID. The child opens its own metastore handle (see
// cmd/ecpb's worker-mode branch), since an inherited database handle would
// be unsafe to share across processes. A per-job mmap'd progress region is
// created under dataDir and passed as --progress-region so the child can
// publish a live progress board alongside its stdout event stream.
func spawnWorker(dataDir string, jobID int64, log zerolog.Logger) int {
	exe, err := os.Executable()
	if err != nil {
		log.Error().Err(err).Msg("resolve executable path for re-exec failed")
		return 1
	}

	regionPath := filepath.Join(dataDir, fmt.Sprintf("progress-%d.region", jobID))
	region, err := ipc.OpenRegion(regionPath)
	if err != nil {
		log.Warn().Err(err).Int64("job_id", jobID).Msg("open progress region failed, continuing without it")
		region = nil
	}
	if region != nil {
		defer func() {
			region.Close()
			if err := ipc.RemoveRegionFile(regionPath); err != nil {
				log.Warn().Err(err).Str("path", regionPath).Msg("remove progress region file failed")
			}
		}()
	}

	cmd := exec.Command(exe,
		"--worker-mode",
		"--data-dir", dataDir,
		"--worker-job-id", fmt.Sprintf("%d", jobID),
		"--progress-region", regionPath,
	)
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		log.Error().Err(err).Int64("job_id", jobID).Msg("attach worker stdout pipe failed")
		return 1
	}

	if err := cmd.Start(); err != nil {
		log.Error().Err(err).Int64("job_id", jobID).Msg("start worker failed")
		return 1
	}

	// Drain the child's progress messages through a bounded ring buffer;
	// loss of progress-type messages under backpressure is tolerable
	// so nothing here blocks the child.
	messages, drained := ipc.DrainReader(stdout, 256)
	go func() {
		<-drained
		for _, msg := range messages.DrainAll() {
			log.Debug().Int64("job_id", jobID).RawJSON("event", msg).Msg("worker progress")
		}
	}()

	if region != nil {
		stopPolling := make(chan struct{})
		go func() {
			ticker := time.NewTicker(singleProcessPollInterval)
			defer ticker.Stop()
			for {
				select {
				case <-stopPolling:
					return
				case <-ticker.C:
					_, processed, total, done := region.ReadProgress()
					log.Debug().Int64("job_id", jobID).Int64("processed_bytes", processed).
						Int64("total_bytes", total).Bool("done", done).Msg("worker progress board")
				}
			}
		}()
		defer close(stopPolling)
	}

	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode()
		}
		log.Error().Err(err).Int64("job_id", jobID).Msg("spawn worker failed")
		return 1
	}
	return 0
}
