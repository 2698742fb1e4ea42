package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mmp/ecpb/internal/chunkstore"
	"github.com/mmp/ecpb/internal/logging"
	"github.com/mmp/ecpb/internal/metastore"
	"github.com/mmp/ecpb/internal/model"
	"github.com/mmp/ecpb/internal/scheduler"
	"github.com/mmp/ecpb/internal/snapshot"
	"github.com/mmp/ecpb/internal/worker"
)

// RunMultiWorker's spawnWorker re-execs the compiled ecpb binary via
// os.Executable/os/exec; there is no compiled binary to re-exec under a
// unit test, so that path is not exercised here.

func newTestEnv(t *testing.T) (*metastore.Store, *scheduler.Scheduler, *worker.Worker) {
	t.Helper()
	dir := t.TempDir()
	meta, err := metastore.Open(filepath.Join(dir, "ecpb.db"), logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	chunks := chunkstore.NewStore(filepath.Join(dir, "chunks"), meta, logging.NewNop())
	snaps := snapshot.NewBuilder(filepath.Join(dir, "snapshots"), logging.NewNop())
	w := worker.New(meta, chunks, snaps, logging.NewNop())
	sch := scheduler.New(meta, logging.NewNop())
	return meta, sch, w
}

func TestRunSingleProcessDrainsAllPendingJobs(t *testing.T) {
	meta, sch, w := newTestEnv(t)

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("data"), 0o644))

	id, err := sch.Submit(model.Job{SourcePath: src, BackupName: "a"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = RunSingleProcess(ctx, meta, sch, w, logging.NewNop())
	require.NoError(t, err)

	job, err := meta.GetJob(id)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, job.Status)
}

func TestRunSingleProcessRunsDependentAfterPrerequisite(t *testing.T) {
	meta, sch, w := newTestEnv(t)

	src1 := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src1, "a.txt"), []byte("data"), 0o644))
	src2 := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src2, "b.txt"), []byte("data"), 0o644))

	prereq, err := sch.Submit(model.Job{SourcePath: src1, BackupName: "a"})
	require.NoError(t, err)
	dependent, err := sch.Submit(model.Job{SourcePath: src2, BackupName: "b", Dependencies: []int64{prereq}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, RunSingleProcess(ctx, meta, sch, w, logging.NewNop()))

	prereqJob, err := meta.GetJob(prereq)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, prereqJob.Status)

	dependentJob, err := meta.GetJob(dependent)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, dependentJob.Status)
}

func TestRunSingleProcessReturnsWhenNoPendingJobs(t *testing.T) {
	meta, sch, w := newTestEnv(t)

	err := RunSingleProcess(context.Background(), meta, sch, w, logging.NewNop())
	require.NoError(t, err)
}
