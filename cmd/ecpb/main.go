// Command ecpb is the CLI front-end over the backup engine: a thin
// collaborator that only translates flags into calls on the core engine
// and maps a returned error to an exit code, since process termination
// happens at this layer only.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/mmp/ecpb/internal/chunkstore"
	"github.com/mmp/ecpb/internal/config"
	"github.com/mmp/ecpb/internal/humanize"
	"github.com/mmp/ecpb/internal/ipc"
	"github.com/mmp/ecpb/internal/logging"
	"github.com/mmp/ecpb/internal/metastore"
	"github.com/mmp/ecpb/internal/model"
	"github.com/mmp/ecpb/internal/orchestrator"
	"github.com/mmp/ecpb/internal/restore"
	"github.com/mmp/ecpb/internal/scheduler"
	"github.com/mmp/ecpb/internal/snapshot"
	"github.com/mmp/ecpb/internal/worker"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.FromArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v: %v\n", model.ErrArgument, err)
		return 1
	}

	log := logging.New(os.Stderr, logging.ParseLevel(cfg.LogLevel))

	if cfg.Help {
		printUsage()
		return 0
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "%v: create data dir: %v\n", model.ErrIO, err)
		return 1
	}

	dbPath := filepath.Join(cfg.DataDir, "ecpb.db")
	meta, err := metastore.Open(dbPath, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer meta.Close()

	chunks := chunkstore.NewStore(cfg.DataDir, meta, log)
	snapshots := snapshot.NewBuilder(filepath.Join(cfg.DataDir, "snapshots"), log)
	restoreEngine := restore.New(meta, chunks, log)

	switch {
	case cfg.WorkerMode:
		return runWorkerMode(cfg, meta, chunks, snapshots, log)
	case cfg.Backup != "":
		return runBackup(cfg, meta, chunks, snapshots, log)
	case cfg.Restore != 0:
		return runRestore(cfg, restoreEngine)
	case cfg.Verify != 0:
		return runVerify(cfg, restoreEngine)
	case cfg.List:
		return runList(cfg, meta)
	case cfg.Stats:
		return runStats(meta)
	default:
		return runInteractive(cfg, meta, chunks, snapshots, restoreEngine, log)
	}
}

func runBackup(cfg config.Config, meta *metastore.Store, chunks *chunkstore.Store, snapshots *snapshot.Builder, log zerolog.Logger) int {
	name := cfg.Name
	if name == "" {
		name = fmt.Sprintf("backup_%d", time.Now().UnixMilli())
	}

	job := model.Job{
		SourcePath:   cfg.Backup,
		BackupName:   name,
		Priority:     model.ParsePriority(cfg.Priority),
		Compression:  model.CompressionTag(cfg.Compression),
		Encrypt:      cfg.Encrypt,
		ParentJobID:  model.NoParentJob,
		Dependencies: cfg.DependsOn,
	}

	sch := scheduler.New(meta, log)
	jobID, err := sch.Submit(job)
	if err != nil {
		fmt.Fprintf(os.Stderr, "submit backup: %v\n", err)
		return 1
	}

	w := worker.New(meta, chunks, snapshots, log)
	if err := orchestrator.RunSingleProcess(context.Background(), meta, sch, w, log); err != nil {
		fmt.Fprintf(os.Stderr, "run backup: %v\n", err)
		return 1
	}

	final, err := meta.GetJob(jobID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "get job after run: %v\n", err)
		return 1
	}
	if final.Status != model.StatusCompleted {
		fmt.Fprintf(os.Stderr, "backup failed: %s\n", final.ErrorMessage)
		return 1
	}
	fmt.Printf("backup %d (%s) completed: %d files, %s stored, %s deduped\n",
		jobID, name, final.FileCount, humanize.Bytes(final.StoredBytes), humanize.Bytes(final.DedupSavings))
	return 0
}

func runRestore(cfg config.Config, engine *restore.Engine) int {
	if cfg.Dest == "" {
		fmt.Fprintln(os.Stderr, "--restore requires --dest")
		return 1
	}
	result := engine.RestoreJob(cfg.Restore, cfg.Dest)
	if !result.Success {
		fmt.Fprintf(os.Stderr, "restore failed: %s\n", result.Error)
		return 1
	}
	fmt.Printf("restored %d files (%s) to %s\n", result.FilesRestored, humanize.Bytes(result.BytesRestored), cfg.Dest)
	return 0
}

func runVerify(cfg config.Config, engine *restore.Engine) int {
	if cfg.Deep {
		ok, failures, err := engine.DeepVerify(cfg.Verify)
		if err != nil {
			fmt.Fprintf(os.Stderr, "deep verify: %v\n", err)
			return 1
		}
		if !ok {
			for _, f := range failures {
				fmt.Fprintln(os.Stderr, f)
			}
			return 1
		}
		fmt.Println("deep verify ok")
		return 0
	}

	ok, err := engine.VerifyBackup(cfg.Verify)
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify: %v\n", err)
		return 1
	}
	if !ok {
		fmt.Fprintln(os.Stderr, "verify failed")
		return 1
	}
	fmt.Println("verify ok")
	return 0
}

func runList(cfg config.Config, meta *metastore.Store) int {
	var jobs []model.Job
	var err error
	if cfg.ListStatus != "" {
		jobs, err = meta.GetJobsByStatus(model.JobStatus(cfg.ListStatus))
	} else {
		jobs, err = meta.GetAllJobs()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "list: %v\n", err)
		return 1
	}
	for _, j := range jobs {
		fmt.Printf("%d\t%s\t%s\t%s\t%d files\n", j.ID, j.BackupName, j.Status, j.Priority, j.FileCount)
	}
	return 0
}

func runStats(meta *metastore.Store) int {
	stats, err := meta.GetStats()
	if err != nil {
		fmt.Fprintf(os.Stderr, "stats: %v\n", err)
		return 1
	}
	fmt.Printf("jobs: %d\n", stats.TotalJobs)
	for status, count := range stats.JobsByStatus {
		fmt.Printf("  %s: %d\n", status, count)
	}
	fmt.Printf("chunks: %d (%s original, %s stored)\n", stats.TotalChunks,
		humanize.Bytes(stats.TotalOriginalBytes), humanize.Bytes(stats.TotalStoredBytes))
	for tag, count := range stats.ChunksByTag {
		fmt.Printf("  %s: %d\n", tag, count)
	}
	fmt.Printf("encrypted chunks: %d, plain chunks: %d\n", stats.EncryptedChunks, stats.PlainChunks)
	fmt.Printf("dedup savings: %s\n", humanize.Bytes(stats.TotalDedupSavings))
	return 0
}

// runWorkerMode is the re-exec'd child entry point: it opens its own
// metastore handle (the parent's handle is unusable here), runs exactly one
// job, and reports progress two ways: framed newline-delimited JSON on
// stdout (via ipc.Channel) for the parent to drain, and, when
// --progress-region names a path, a live mmap'd progress board
// (via ipc.Region) the parent can poll without going through the pipe.
func runWorkerMode(cfg config.Config, meta *metastore.Store, chunks *chunkstore.Store, snapshots *snapshot.Builder, log zerolog.Logger) int {
	job, err := meta.GetJob(cfg.WorkerJobID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "worker: get job: %v\n", err)
		return 1
	}

	var region *ipc.Region
	if cfg.ProgressRegion != "" {
		region, err = ipc.OpenRegion(cfg.ProgressRegion)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.ProgressRegion).Msg("open progress region failed, continuing without it")
			region = nil
		} else {
			defer region.Close()
		}
	}

	ch := ipc.NewWriterChannel(os.Stdout)
	w := worker.New(meta, chunks, snapshots, log)
	result := w.Run(job, func(ev worker.Event) {
		if err := ch.Send(ev); err != nil {
			log.Warn().Err(err).Msg("send progress event failed")
		}
		if region != nil {
			region.WriteProgress(ev.JobID, ev.ProcessedBytes, ev.TotalBytes, ev.Type == worker.EventJobComplete || ev.Type == worker.EventJobFailed)
		}
	})
	if !result.Success {
		return 1
	}
	return 0
}

func runInteractive(cfg config.Config, meta *metastore.Store, chunks *chunkstore.Store, snapshots *snapshot.Builder, engine *restore.Engine, log zerolog.Logger) int {
	fmt.Println("ecpb interactive mode - no action flag given; pass --help for non-interactive usage")
	jobs, err := meta.GetAllJobs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "interactive: list jobs: %v\n", err)
		return 1
	}
	fmt.Printf("%d jobs in %s\n", len(jobs), cfg.DataDir)
	return 0
}

func printUsage() {
	fmt.Println(`ecpb - content-addressed, deduplicating, encrypted backup engine

  --data-dir path       repository root (default ./ecpb_data)
  --log-level 0..3      0=ERROR 1=WARN 2=INFO 3=DEBUG (default 2)
  --backup path         submit a backup of this tree
  --name string         backup_name (default backup_<epoch_ms>)
  --compression tag     NONE, LZ4 or ZSTD
  --encrypt             encrypt chunks with a fresh per-job key
  --priority level      LOW, NORMAL, HIGH or URGENT
  --depends-on id       job id this backup depends on (repeatable)
  --restore job_id      restore this job
  --dest path           restore destination
  --verify job_id       verify integrity
  --deep                perform a deep verify with --verify
  --list                list all jobs
  --list-status status  filter --list by status
  --stats               print aggregate counters
  --help                this message`)
}
