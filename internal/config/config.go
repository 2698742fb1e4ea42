// Package config collects the CLI's flag surface into a single struct, in
// the shape of mmp-bk's cmd/bk main (which hand-parses os.Args) and
// pudd's internal/config (which groups flag.*Var calls behind a FromFlags
// constructor). Flags here cover the command's external interface plus the
// domain-stack additions layered on top of it.
package config

import (
	"flag"
	"strconv"
)

// Config is the fully parsed set of CLI flags for one invocation of ecpb.
type Config struct {
	DataDir  string
	LogLevel int

	Backup string
	Name   string

	Restore int64
	Dest    string

	Verify int64
	Deep   bool

	List       bool
	ListStatus string

	Stats bool
	Help  bool

	Compression string
	Encrypt     bool
	Priority    string
	DependsOn   int64Slice
	MaxWorkers  int
	WorkerMode  bool
	WorkerJobID int64

	ProgressRegion string
}

// int64Slice accumulates repeated --depends-on flags.
type int64Slice []int64

func (s *int64Slice) String() string {
	return ""
}

func (s *int64Slice) Set(value string) error {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return err
	}
	*s = append(*s, id)
	return nil
}

// FromArgs parses args (typically os.Args[1:]) into a Config.
func FromArgs(args []string) (Config, error) {
	fs := flag.NewFlagSet("ecpb", flag.ContinueOnError)

	var cfg Config
	fs.StringVar(&cfg.DataDir, "data-dir", "./ecpb_data", "repository root")
	fs.IntVar(&cfg.LogLevel, "log-level", 2, "0=ERROR 1=WARN 2=INFO 3=DEBUG")

	fs.StringVar(&cfg.Backup, "backup", "", "submit a backup of this source path")
	fs.StringVar(&cfg.Name, "name", "", "backup_name (default backup_<epoch_ms>)")

	fs.Int64Var(&cfg.Restore, "restore", 0, "restore this job id")
	fs.StringVar(&cfg.Dest, "dest", "", "restore destination directory")

	fs.Int64Var(&cfg.Verify, "verify", 0, "verify integrity of this job id")
	fs.BoolVar(&cfg.Deep, "deep", false, "perform a deep (full read-back) verify")

	fs.BoolVar(&cfg.List, "list", false, "list all jobs")
	fs.StringVar(&cfg.ListStatus, "list-status", "", "filter --list by job status")

	fs.BoolVar(&cfg.Stats, "stats", false, "print aggregate counters")
	fs.BoolVar(&cfg.Help, "help", false, "usage")

	fs.StringVar(&cfg.Compression, "compression", "NONE", "NONE, LZ4 or ZSTD")
	fs.BoolVar(&cfg.Encrypt, "encrypt", false, "encrypt chunks with a fresh per-job key")
	fs.StringVar(&cfg.Priority, "priority", "NORMAL", "LOW, NORMAL, HIGH or URGENT")
	fs.Var(&cfg.DependsOn, "depends-on", "job id this backup depends on (repeatable)")
	fs.IntVar(&cfg.MaxWorkers, "max-workers", 4, "max concurrent spawned worker processes")
	fs.BoolVar(&cfg.WorkerMode, "worker-mode", false, "internal: run as a re-exec'd worker child")
	fs.Int64Var(&cfg.WorkerJobID, "worker-job-id", 0, "internal: job id for --worker-mode")
	fs.StringVar(&cfg.ProgressRegion, "progress-region", "", "internal: mmap progress board path for --worker-mode")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// HasAction reports whether the config selects a non-interactive action;
// when false, the CLI falls back to the interactive menu.
func (c Config) HasAction() bool {
	return c.Backup != "" || c.Restore != 0 || c.Verify != 0 || c.List || c.Stats || c.Help || c.WorkerMode
}
