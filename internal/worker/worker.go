// Package worker executes exactly one job end-to-end: snapshot, walk,
// chunk, dedup, record, finalize.
//
// Grounded on pudd's internal/worker/worker.go (claim -> hash -> upload ->
// transition-chain, logging each step and routing failures through
// MarkErrorWithBackoff rather than panicking), generalized from "one file
// upload" to "one backup job's full file walk", and emitting a Progress
// message after each step the way pudd logs after each upload instead of
// only at the end.
package worker

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/mmp/ecpb/internal/chunkstore"
	"github.com/mmp/ecpb/internal/cryptoutil"
	"github.com/mmp/ecpb/internal/metastore"
	"github.com/mmp/ecpb/internal/model"
	"github.com/mmp/ecpb/internal/snapshot"
)

// EventType names the progress messages a worker emits over its IPC
// channel.
type EventType string

const (
	EventJobStart    EventType = "JOB_START"
	EventJobProgress EventType = "JOB_PROGRESS"
	EventJobFailed   EventType = "JOB_FAILED"
	EventJobComplete EventType = "JOB_COMPLETE"
)

// Event is one progress message a worker reports while executing a job.
type Event struct {
	Type           EventType
	JobID          int64
	ProcessedBytes int64
	TotalBytes     int64
	Message        string
}

// Result is what a worker returns after running a job to completion or
// failure, used directly by the single-process orchestrator; the
// multi-process orchestrator instead observes a process exit code.
type Result struct {
	JobID   int64
	Success bool
	Error   string
}

// Worker executes one job at a time against a shared metastore, chunk
// store and snapshot builder.
type Worker struct {
	meta      *metastore.Store
	chunks    *chunkstore.Store
	snapshots *snapshot.Builder
	log       zerolog.Logger
}

func New(meta *metastore.Store, chunks *chunkstore.Store, snapshots *snapshot.Builder, log zerolog.Logger) *Worker {
	return &Worker{meta: meta, chunks: chunks, snapshots: snapshots, log: log}
}

// Run executes job end to end, emitting events to emit as it progresses.
// It does not retry individual files; an unrecoverable per-file error is
// logged and the file contributes only what it managed to produce.
func (w *Worker) Run(job model.Job, emit func(Event)) Result {
	emit(Event{Type: EventJobStart, JobID: job.ID})
	if err := w.meta.UpdateJobStatus(job.ID, model.StatusRunning, ""); err != nil {
		return w.fail(job.ID, emit, fmt.Sprintf("update status to running: %v", err))
	}

	snap, err := w.snapshots.Create(job.ID, job.SourcePath)
	if err != nil || !snap.IsConsistent {
		msg := "Failed to create snapshot"
		if err != nil {
			msg = fmt.Sprintf("%s: %v", msg, err)
		}
		return w.fail(job.ID, emit, msg)
	}

	files, err := snapshot.ListFiles(snap)
	if err != nil {
		snapshot.Remove(snap)
		return w.fail(job.ID, emit, fmt.Sprintf("list snapshot files: %v", err))
	}

	var totalBytes int64
	sizes := make([]int64, len(files))
	for i, f := range files {
		info, statErr := os.Stat(f)
		if statErr != nil {
			w.log.Warn().Err(statErr).Str("path", f).Msg("stat failed during size tally")
			continue
		}
		sizes[i] = info.Size()
		totalBytes += info.Size()
	}

	var key [32]byte
	if job.Encrypt {
		key, err = cryptoutil.GenerateKey()
		if err != nil {
			snapshot.Remove(snap)
			return w.fail(job.ID, emit, fmt.Sprintf("generate encryption key: %v", err))
		}
	}

	var processedBytes, storedBytes, dedupSavings int64
	var fileCount int64

	for i, f := range files {
		rel, relErr := filepath.Rel(snap.SnapshotPath, f)
		if relErr != nil {
			w.log.Warn().Err(relErr).Str("path", f).Msg("relative path computation failed, skipping file")
			continue
		}

		manifest := w.chunks.StoreFile(f, job.Compression, job.Encrypt, key, job.ID, rel)
		fileCount++

		for _, ref := range manifest.Chunks {
			if ref.Deduplicated {
				dedupSavings += ref.OriginalSize
				continue
			}
			rec, metaErr := w.meta.GetChunkMeta(ref.Hash)
			if metaErr != nil {
				w.log.Warn().Err(metaErr).Str("hash", ref.Hash.String()).Msg("chunk meta lookup after store failed")
				continue
			}
			storedBytes += rec.StoredSize
		}

		processedBytes += sizes[i]
		emit(Event{Type: EventJobProgress, JobID: job.ID, ProcessedBytes: processedBytes, TotalBytes: totalBytes})
	}

	if job.Encrypt {
		if err := w.meta.StoreEncryptionKey(job.ID, key); err != nil {
			return w.fail(job.ID, emit, fmt.Sprintf("store encryption key: %v", err))
		}
	}

	if err := w.meta.UpdateJobStats(job.ID, totalBytes, processedBytes, storedBytes, dedupSavings, fileCount); err != nil {
		return w.fail(job.ID, emit, fmt.Sprintf("update job stats: %v", err))
	}
	if err := w.meta.UpdateJobStatus(job.ID, model.StatusCompleted, ""); err != nil {
		return w.fail(job.ID, emit, fmt.Sprintf("update status to completed: %v", err))
	}

	if err := snapshot.Remove(snap); err != nil {
		w.log.Warn().Err(err).Int64("job_id", job.ID).Msg("snapshot cleanup failed")
	}

	emit(Event{Type: EventJobComplete, JobID: job.ID})
	return Result{JobID: job.ID, Success: true}
}

func (w *Worker) fail(jobID int64, emit func(Event), message string) Result {
	if err := w.meta.UpdateJobStatus(jobID, model.StatusFailed, message); err != nil {
		w.log.Error().Err(err).Int64("job_id", jobID).Msg("failed to persist job failure")
	}
	emit(Event{Type: EventJobFailed, JobID: jobID, Message: message})
	return Result{JobID: jobID, Success: false, Error: message}
}
