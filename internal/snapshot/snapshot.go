// Package snapshot builds the hardlink-first mirror of a job's source tree
// that gives the chunking walk a stable view even if the source mutates
// mid-backup.
//
// There is no mmp-bk file for this directly (it backs up a live tree
// without an intermediate mirror step), so the walk/hardlink/copy shape is
// built fresh against stdlib os/filepath, in mmp-bk's plain,
// error-wrapped style, with uuid from github.com/google/uuid standing in
// for the snapshot_id correlation identifier.
package snapshot

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mmp/ecpb/internal/model"
)

// Builder creates and tears down snapshot mirrors under a fixed root
// directory.
type Builder struct {
	root string
	log  zerolog.Logger
}

func NewBuilder(root string, log zerolog.Logger) *Builder {
	return &Builder{root: root, log: log}
}

// Create mirrors sourcePath into <root>/snap_<jobID>_<epoch_ms>/, preferring
// hardlinks and falling back to a byte copy per file.
// Symlinks are not followed and non-regular files are skipped; is_consistent
// is true iff every regular file mirrored successfully.
func (b *Builder) Create(jobID int64, sourcePath string) (model.Snapshot, error) {
	snap := model.Snapshot{
		SnapshotID:   uuid.NewString(),
		JobID:        jobID,
		SnapshotPath: filepath.Join(b.root, fmt.Sprintf("snap_%d_%d", jobID, time.Now().UnixMilli())),
		CreatedAt:    time.Now(),
	}

	if err := os.MkdirAll(snap.SnapshotPath, 0o755); err != nil {
		return snap, fmt.Errorf("%w: create snapshot root: %v", model.ErrIO, err)
	}

	consistent := true
	err := filepath.Walk(sourcePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			b.log.Warn().Err(err).Str("path", path).Msg("snapshot walk error")
			consistent = false
			return nil
		}

		rel, relErr := filepath.Rel(sourcePath, path)
		if relErr != nil {
			consistent = false
			return nil
		}
		dest := filepath.Join(snap.SnapshotPath, rel)

		switch {
		case info.IsDir():
			if rel == "." {
				return nil
			}
			if err := os.MkdirAll(dest, 0o755); err != nil {
				b.log.Warn().Err(err).Str("path", path).Msg("snapshot mkdir failed")
				consistent = false
			}
			return nil
		case info.Mode()&os.ModeSymlink != 0:
			return nil
		case !info.Mode().IsRegular():
			return nil
		default:
			if err := mirrorFile(path, dest); err != nil {
				b.log.Warn().Err(err).Str("path", path).Msg("snapshot mirror failed")
				consistent = false
			}
			return nil
		}
	})
	if err != nil {
		consistent = false
	}

	snap.IsConsistent = consistent
	return snap, nil
}

// mirrorFile attempts an O(1) hardlink into dest, falling back to a byte
// copy when the link fails (e.g. source and destination are on different
// filesystems).
func mirrorFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if err := os.Link(src, dest); err == nil {
		return nil
	}
	return copyFile(src, dest)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// ListFiles returns the absolute paths of every regular file under the
// snapshot, in arbitrary but stable-per-call (filepath.Walk lexical) order.
func ListFiles(snap model.Snapshot) ([]string, error) {
	var out []string
	err := filepath.Walk(snap.SnapshotPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list snapshot files: %v", model.ErrIO, err)
	}
	return out, nil
}

// Remove recursively deletes the mirror tree. It is idempotent (removing an
// already-absent snapshot is not an error) and, since RemoveAll never
// follows symlinks into their targets, cannot escape the mirror.
func Remove(snap model.Snapshot) error {
	if err := os.RemoveAll(snap.SnapshotPath); err != nil {
		return fmt.Errorf("%w: remove snapshot: %v", model.ErrIO, err)
	}
	return nil
}
