// Package restore implements manifest-driven reassembly with integrity
// verification, plus the supplemented deep-verify operation
// added alongside it.
//
// Grounded on mmp-bk's cmd/bk restore path (parallelContext's
// semaphore-bounded worker pool for restoring many files concurrently) for
// the per-file fan-out shape, generalized from mmp-bk's Merkle/DirEntry
// model to this repo's flat FileManifest model and delegating the actual
// chunk decode/verify work to chunkstore.RestoreFile.
package restore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mmp/ecpb/internal/chunkstore"
	"github.com/mmp/ecpb/internal/metastore"
	"github.com/mmp/ecpb/internal/model"
)

// maxConcurrentFileRestores bounds the fan-out of per-file restores within
// one job, mirroring mmp-bk's parallelContext worker-pool cap.
const maxConcurrentFileRestores = 8

// Result reports the outcome of restoring one job.
type Result struct {
	Success        bool
	FilesRestored  int
	BytesRestored  int64
	Error          string
	RestoredFiles  []string
}

// Engine runs restore and verify operations against a shared metastore and
// chunk store.
type Engine struct {
	meta   *metastore.Store
	chunks *chunkstore.Store
	log    zerolog.Logger
}

func New(meta *metastore.Store, chunks *chunkstore.Store, log zerolog.Logger) *Engine {
	return &Engine{meta: meta, chunks: chunks, log: log}
}

// RestoreJob reads jobID's manifests and writes each file under destRoot.
// A per-file failure is logged and counted as skipped but does not abort
// the whole restore. success is true iff at least one file restored, or
// the job had no manifests at all.
func (e *Engine) RestoreJob(jobID int64, destRoot string) Result {
	job, err := e.meta.GetJob(jobID)
	if err != nil {
		return Result{Error: fmt.Sprintf("get job: %v", err)}
	}
	if job.Status != model.StatusCompleted {
		return Result{Error: fmt.Sprintf("job %d is not COMPLETED (status=%s)", jobID, job.Status)}
	}

	var key [32]byte
	if job.Encrypt {
		key, err = e.meta.GetEncryptionKey(jobID)
		if err != nil {
			return Result{Error: fmt.Sprintf("get encryption key: %v", err)}
		}
	}

	manifests, err := e.meta.GetFileManifests(jobID)
	if err != nil {
		return Result{Error: fmt.Sprintf("get file manifests: %v", err)}
	}
	if len(manifests) == 0 {
		return Result{Success: true}
	}

	var mu sync.Mutex
	var filesRestored int
	var bytesRestored int64
	var restoredFiles []string

	sem := make(chan struct{}, maxConcurrentFileRestores)
	var wg sync.WaitGroup

	for _, m := range manifests {
		m := m
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			dest := filepath.Join(destRoot, m.RelativePath)
			if err := e.chunks.RestoreFile(m, dest, job.Encrypt, key); err != nil {
				e.log.Warn().Err(err).Str("path", m.RelativePath).Msg("restore file failed, skipping")
				return
			}

			mu.Lock()
			filesRestored++
			bytesRestored += m.FileSize
			restoredFiles = append(restoredFiles, m.RelativePath)
			mu.Unlock()
		}()
	}
	wg.Wait()

	return Result{
		Success:       filesRestored > 0,
		FilesRestored: filesRestored,
		BytesRestored: bytesRestored,
		RestoredFiles: restoredFiles,
	}
}

// VerifyBackup performs the cheap existence-only integrity check: every
// chunk referenced by the job's manifests must have a ChunkRecord and its
// storage_path must exist on disk. No chunk content is read.
func (e *Engine) VerifyBackup(jobID int64) (bool, error) {
	manifests, err := e.meta.GetFileManifests(jobID)
	if err != nil {
		return false, err
	}
	for _, m := range manifests {
		for _, ref := range m.Chunks {
			rec, err := e.meta.GetChunkMeta(ref.Hash)
			if err != nil {
				return false, nil
			}
			if _, statErr := os.Stat(rec.StoragePath); statErr != nil {
				return false, nil
			}
		}
	}
	return true, nil
}

// DeepVerify is the supplemented Fsck-style deep verify: it reads back and
// decodes every chunk of every manifest, verifying per-chunk and
// whole-file hashes, without writing any output file. It is more expensive
// than VerifyBackup and is invoked via --verify --deep.
func (e *Engine) DeepVerify(jobID int64) (bool, []string, error) {
	job, err := e.meta.GetJob(jobID)
	if err != nil {
		return false, nil, err
	}

	var key [32]byte
	if job.Encrypt {
		key, err = e.meta.GetEncryptionKey(jobID)
		if err != nil {
			return false, nil, err
		}
	}

	manifests, err := e.meta.GetFileManifests(jobID)
	if err != nil {
		return false, nil, err
	}

	var failures []string
	for _, m := range manifests {
		tmp := filepath.Join(os.TempDir(), fmt.Sprintf("ecpb-deepverify-%d-%s", jobID, m.WholeFileHash))
		err := e.chunks.RestoreFile(m, tmp, job.Encrypt, key)
		os.Remove(tmp)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", m.RelativePath, err))
		}
	}
	return len(failures) == 0, failures, nil
}

// ListRestorable returns every job whose status is COMPLETED.
func (e *Engine) ListRestorable() ([]model.Job, error) {
	return e.meta.GetJobsByStatus(model.StatusCompleted)
}
