package metastore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mmp/ecpb/internal/logging"
	"github.com/mmp/ecpb/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "ecpb.db"), logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetJob(t *testing.T) {
	s := openTestStore(t)

	job := model.Job{
		SourcePath: "/data/src",
		BackupName: "nightly",
		Priority:   model.PriorityHigh,
		Compression: model.CompressionZSTD,
		Encrypt:    true,
		CreatedAt:  time.Now(),
	}
	id, err := s.CreateJob(job)
	require.NoError(t, err)
	require.NotZero(t, id)

	got, err := s.GetJob(id)
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, got.Status)
	require.Equal(t, "nightly", got.BackupName)
	require.Equal(t, model.PriorityHigh, got.Priority)
	require.True(t, got.Encrypt)
	require.Empty(t, got.Dependencies)
}

func TestGetJobNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetJob(999)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestUpdateJobStatusLifecycle(t *testing.T) {
	s := openTestStore(t)
	id, err := s.CreateJob(model.Job{SourcePath: "/x", BackupName: "b", CreatedAt: time.Now()})
	require.NoError(t, err)

	require.NoError(t, s.UpdateJobStatus(id, model.StatusRunning, ""))
	running, err := s.GetJob(id)
	require.NoError(t, err)
	require.Equal(t, model.StatusRunning, running.Status)
	require.NotNil(t, running.StartedAt)

	require.NoError(t, s.UpdateJobStatus(id, model.StatusFailed, "disk full"))
	failed, err := s.GetJob(id)
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, failed.Status)
	require.Equal(t, "disk full", failed.ErrorMessage)
	require.NotNil(t, failed.CompletedAt)
}

func TestUpdateJobStats(t *testing.T) {
	s := openTestStore(t)
	id, err := s.CreateJob(model.Job{SourcePath: "/x", BackupName: "b", CreatedAt: time.Now()})
	require.NoError(t, err)

	require.NoError(t, s.UpdateJobStats(id, 1000, 1000, 400, 600, 3))
	got, err := s.GetJob(id)
	require.NoError(t, err)
	require.Equal(t, int64(1000), got.TotalBytes)
	require.Equal(t, int64(400), got.StoredBytes)
	require.Equal(t, int64(600), got.DedupSavings)
	require.Equal(t, int64(3), got.FileCount)
}

func TestGetJobsByStatus(t *testing.T) {
	s := openTestStore(t)
	id1, err := s.CreateJob(model.Job{SourcePath: "/a", BackupName: "a", CreatedAt: time.Now()})
	require.NoError(t, err)
	id2, err := s.CreateJob(model.Job{SourcePath: "/b", BackupName: "b", CreatedAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, s.UpdateJobStatus(id2, model.StatusCompleted, ""))

	pending, err := s.GetJobsByStatus(model.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, id1, pending[0].ID)

	all, err := s.GetAllJobs()
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestStoreChunkInsertOrIncrement(t *testing.T) {
	s := openTestStore(t)
	hash := model.SumBytes([]byte("chunk data"))
	rec := model.ChunkRecord{
		Hash:         hash,
		StoragePath:  "/data/chunks/aa/bb/" + hash.String(),
		OriginalSize: 100,
		StoredSize:   80,
		Compression:  model.CompressionLZ4,
		Encrypted:    false,
	}

	require.NoError(t, s.StoreChunk(rec))
	exists, err := s.ChunkExists(hash)
	require.NoError(t, err)
	require.True(t, exists)

	meta, err := s.GetChunkMeta(hash)
	require.NoError(t, err)
	require.Equal(t, int64(1), meta.RefCount)

	// Second write with the same hash must increment ref_count, not insert
	// a second row.
	require.NoError(t, s.StoreChunk(rec))
	meta, err = s.GetChunkMeta(hash)
	require.NoError(t, err)
	require.Equal(t, int64(2), meta.RefCount)
}

func TestChunkExistsFalseForUnknownHash(t *testing.T) {
	s := openTestStore(t)
	exists, err := s.ChunkExists(model.SumBytes([]byte("never stored")))
	require.NoError(t, err)
	require.False(t, exists)
}

func TestGetChunkPathNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetChunkPath(model.SumBytes([]byte("nope")))
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestStoreAndGetFileManifest(t *testing.T) {
	s := openTestStore(t)
	jobID, err := s.CreateJob(model.Job{SourcePath: "/x", BackupName: "b", CreatedAt: time.Now()})
	require.NoError(t, err)

	h1 := model.SumBytes([]byte("chunk one"))
	h2 := model.SumBytes([]byte("chunk two"))
	require.NoError(t, s.StoreChunk(model.ChunkRecord{Hash: h1, StoragePath: "/c/1", OriginalSize: 10, StoredSize: 10}))
	require.NoError(t, s.StoreChunk(model.ChunkRecord{Hash: h2, StoragePath: "/c/2", OriginalSize: 10, StoredSize: 10}))

	manifest := model.FileManifest{
		RelativePath:   "dir/file.txt",
		FileName:       "file.txt",
		FileSize:       20,
		ModifiedTimeMS: 1234,
		WholeFileHash:  model.SumBytes([]byte("chunk onechunk two")),
		Chunks: []model.ChunkRef{
			{Hash: h1, OrderIndex: 0, Offset: 0, OriginalSize: 10},
			{Hash: h2, OrderIndex: 1, Offset: 10, OriginalSize: 10, Deduplicated: true},
		},
	}
	require.NoError(t, s.StoreFileManifest(jobID, manifest))

	manifests, err := s.GetFileManifests(jobID)
	require.NoError(t, err)
	require.Len(t, manifests, 1)
	require.Equal(t, "dir/file.txt", manifests[0].RelativePath)
	require.Len(t, manifests[0].Chunks, 2)
	require.Equal(t, 0, manifests[0].Chunks[0].OrderIndex)
	require.Equal(t, 1, manifests[0].Chunks[1].OrderIndex)
	require.True(t, manifests[0].Chunks[1].Deduplicated)
}

func TestEncryptionKeyRoundTrip(t *testing.T) {
	s := openTestStore(t)
	jobID, err := s.CreateJob(model.Job{SourcePath: "/x", BackupName: "b", CreatedAt: time.Now()})
	require.NoError(t, err)

	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}
	require.NoError(t, s.StoreEncryptionKey(jobID, key))

	got, err := s.GetEncryptionKey(jobID)
	require.NoError(t, err)
	require.Equal(t, key, got)
}

func TestGetEncryptionKeyNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetEncryptionKey(42)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestDependenciesAndDependents(t *testing.T) {
	s := openTestStore(t)
	a, err := s.CreateJob(model.Job{SourcePath: "/a", BackupName: "a", CreatedAt: time.Now()})
	require.NoError(t, err)
	b, err := s.CreateJob(model.Job{SourcePath: "/b", BackupName: "b", CreatedAt: time.Now()})
	require.NoError(t, err)

	require.NoError(t, s.AddDependency(b, a)) // b depends on a

	deps, err := s.GetDependencies(b)
	require.NoError(t, err)
	require.Equal(t, []int64{a}, deps)

	dependents, err := s.GetDependents(a)
	require.NoError(t, err)
	require.Equal(t, []int64{b}, dependents)
}

func TestGetStats(t *testing.T) {
	s := openTestStore(t)
	id, err := s.CreateJob(model.Job{SourcePath: "/a", BackupName: "a", CreatedAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, s.UpdateJobStatus(id, model.StatusCompleted, ""))
	require.NoError(t, s.UpdateJobStats(id, 100, 100, 50, 50, 1))

	h := model.SumBytes([]byte("stat chunk"))
	require.NoError(t, s.StoreChunk(model.ChunkRecord{
		Hash: h, StoragePath: "/c", OriginalSize: 100, StoredSize: 50,
		Compression: model.CompressionZSTD, Encrypted: true,
	}))

	stats, err := s.GetStats()
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.TotalJobs)
	require.Equal(t, int64(1), stats.JobsByStatus[model.StatusCompleted])
	require.Equal(t, int64(1), stats.TotalChunks)
	require.Equal(t, int64(1), stats.ChunksByTag[model.CompressionZSTD])
	require.Equal(t, int64(1), stats.EncryptedChunks)
	require.Equal(t, int64(0), stats.PlainChunks)
	require.Equal(t, int64(100), stats.TotalOriginalBytes)
	require.Equal(t, int64(50), stats.TotalStoredBytes)
	require.Equal(t, int64(50), stats.TotalDedupSavings)
}
