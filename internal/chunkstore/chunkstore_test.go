package chunkstore

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mmp/ecpb/internal/cryptoutil"
	"github.com/mmp/ecpb/internal/logging"
	"github.com/mmp/ecpb/internal/metastore"
	"github.com/mmp/ecpb/internal/model"
)

func openTestMeta(t *testing.T) *metastore.Store {
	t.Helper()
	dir := t.TempDir()
	m, err := metastore.Open(filepath.Join(dir, "ecpb.db"), logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func writeTempFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	data := bytes.Repeat([]byte{0x41}, size)
	// vary content slightly so files aren't byte-identical across sizes
	for i := range data {
		data[i] = byte((i * 7) % 251)
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestStoreAndRestoreFileRoundTrip(t *testing.T) {
	meta := openTestMeta(t)
	root := t.TempDir()
	store := NewStore(root, meta, logging.NewNop())

	src := writeTempFile(t, t.TempDir(), "input.bin", 200000) // spans multiple chunks
	manifest := store.StoreFile(src, model.CompressionNone, false, [32]byte{}, 1, "input.bin")

	require.NotZero(t, manifest.FileSize)
	require.False(t, manifest.WholeFileHash.IsZero())
	require.True(t, len(manifest.Chunks) > 1)

	dest := filepath.Join(t.TempDir(), "restored.bin")
	err := store.RestoreFile(manifest, dest, false, [32]byte{})
	require.NoError(t, err)

	original, err := os.ReadFile(src)
	require.NoError(t, err)
	restored, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.True(t, bytes.Equal(original, restored))
}

func TestStoreFileExactChunkMultipleHasNoTrailingEmptyChunk(t *testing.T) {
	meta := openTestMeta(t)
	root := t.TempDir()
	store := NewStore(root, meta, logging.NewNop())

	// Exactly 4 chunks.
	src := writeTempFile(t, t.TempDir(), "exact.bin", ChunkSize*4)
	manifest := store.StoreFile(src, model.CompressionNone, false, [32]byte{}, 1, "exact.bin")

	require.Len(t, manifest.Chunks, 4)
	for i, c := range manifest.Chunks {
		require.Equal(t, i, c.OrderIndex)
	}
}

func TestStoreFileDeduplicatesRepeatedChunks(t *testing.T) {
	meta := openTestMeta(t)
	root := t.TempDir()
	store := NewStore(root, meta, logging.NewNop())

	src := writeTempFile(t, t.TempDir(), "a.bin", ChunkSize*2)
	m1 := store.StoreFile(src, model.CompressionNone, false, [32]byte{}, 1, "a.bin")
	require.Len(t, m1.Chunks, 2)
	for _, c := range m1.Chunks {
		require.False(t, c.Deduplicated)
	}

	// Store the identical bytes again under a different job/relative path.
	m2 := store.StoreFile(src, model.CompressionNone, false, [32]byte{}, 2, "b.bin")
	require.Len(t, m2.Chunks, 2)
	for _, c := range m2.Chunks {
		require.True(t, c.Deduplicated)
	}

	for i := range m1.Chunks {
		rec, err := meta.GetChunkMeta(m1.Chunks[i].Hash)
		require.NoError(t, err)
		require.Equal(t, int64(2), rec.RefCount)
	}
}

func TestStoreAndRestoreFileEncrypted(t *testing.T) {
	meta := openTestMeta(t)
	root := t.TempDir()
	store := NewStore(root, meta, logging.NewNop())

	key, err := cryptoutil.GenerateKey()
	require.NoError(t, err)

	src := writeTempFile(t, t.TempDir(), "secret.bin", ChunkSize+1000)
	manifest := store.StoreFile(src, model.CompressionZSTD, true, key, 1, "secret.bin")
	require.Len(t, manifest.Chunks, 2)

	dest := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, store.RestoreFile(manifest, dest, true, key))

	original, err := os.ReadFile(src)
	require.NoError(t, err)
	restored, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.True(t, bytes.Equal(original, restored))
}

func TestRestoreFileDetectsTamperedChunk(t *testing.T) {
	meta := openTestMeta(t)
	root := t.TempDir()
	store := NewStore(root, meta, logging.NewNop())

	src := writeTempFile(t, t.TempDir(), "tamper.bin", 500)
	manifest := store.StoreFile(src, model.CompressionNone, false, [32]byte{}, 1, "tamper.bin")
	require.Len(t, manifest.Chunks, 1)

	path, err := meta.GetChunkPath(manifest.Chunks[0].Hash)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("corrupted bytes, different length entirely"), 0o644))

	dest := filepath.Join(t.TempDir(), "out.bin")
	err = store.RestoreFile(manifest, dest, false, [32]byte{})
	require.ErrorIs(t, err, model.ErrIntegrity)
}

func TestStoreFileMissingSourceReturnsEmptyManifest(t *testing.T) {
	meta := openTestMeta(t)
	root := t.TempDir()
	store := NewStore(root, meta, logging.NewNop())

	manifest := store.StoreFile(filepath.Join(t.TempDir(), "does-not-exist"), model.CompressionNone, false, [32]byte{}, 1, "missing")
	require.Empty(t, manifest.Chunks)
	require.Zero(t, manifest.FileSize)
}
