package snapshot

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/mmp/ecpb/internal/logging"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCreateMirrorsRegularFiles(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), "hello")
	writeFile(t, filepath.Join(src, "sub", "b.txt"), "world")

	root := t.TempDir()
	b := NewBuilder(root, logging.NewNop())

	snap, err := b.Create(1, src)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !snap.IsConsistent {
		t.Fatal("expected a consistent snapshot")
	}
	if snap.SnapshotID == "" {
		t.Fatal("expected a non-empty snapshot id")
	}

	files, err := ListFiles(snap)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d: %v", len(files), files)
	}

	content, err := os.ReadFile(filepath.Join(snap.SnapshotPath, "a.txt"))
	if err != nil {
		t.Fatalf("read mirrored a.txt: %v", err)
	}
	if string(content) != "hello" {
		t.Fatalf("mirrored content mismatch: %q", content)
	}
}

func TestCreateSkipsSymlinks(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "real.txt"), "data")
	if err := os.Symlink(filepath.Join(src, "real.txt"), filepath.Join(src, "link.txt")); err != nil {
		t.Skipf("symlinks unsupported in this environment: %v", err)
	}

	root := t.TempDir()
	b := NewBuilder(root, logging.NewNop())
	snap, err := b.Create(2, src)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	files, err := ListFiles(snap)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	var names []string
	for _, f := range files {
		names = append(names, filepath.Base(f))
	}
	sort.Strings(names)
	if len(names) != 1 || names[0] != "real.txt" {
		t.Fatalf("expected only real.txt mirrored, got %v", names)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), "x")

	root := t.TempDir()
	b := NewBuilder(root, logging.NewNop())
	snap, err := b.Create(3, src)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := Remove(snap); err != nil {
		t.Fatalf("first Remove: %v", err)
	}
	if _, err := os.Stat(snap.SnapshotPath); !os.IsNotExist(err) {
		t.Fatal("expected snapshot path to be gone")
	}
	if err := Remove(snap); err != nil {
		t.Fatalf("second Remove on an already-removed snapshot should not error: %v", err)
	}
}
