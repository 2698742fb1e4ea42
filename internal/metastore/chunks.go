package metastore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mmp/ecpb/internal/model"
)

// StoreChunk records hash as a ChunkRecord, incrementing its ref_count if a
// record with this hash already exists (insert-or-increment). The whole
// operation is one write transaction so two concurrent first-writers of
// the same hash cannot both create a row.
func (s *Store) StoreChunk(rec model.ChunkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storeChunkLocked(rec)
}

func (s *Store) storeChunkLocked(rec model.ChunkRecord) error {
	err := s.withWriteTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
INSERT INTO chunks (hash, storage_path, original_size, stored_size, compression, encrypted, ref_count)
VALUES (?, ?, ?, ?, ?, ?, 1)
ON CONFLICT(hash) DO UPDATE SET ref_count = ref_count + 1`,
			rec.Hash.String(), rec.StoragePath, rec.OriginalSize, rec.StoredSize,
			string(rec.Compression), boolToInt(rec.Encrypted))
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: store chunk %s: %v", model.ErrMetadata, rec.Hash, err)
	}
	return nil
}

// ChunkExists reports whether a ChunkRecord for hash is already present.
func (s *Store) ChunkExists(hash model.Hash) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunkExistsLocked(hash)
}

func (s *Store) chunkExistsLocked(hash model.Hash) (bool, error) {
	var n int
	err := s.db.QueryRowContext(context.Background(),
		`SELECT COUNT(1) FROM chunks WHERE hash=?`, hash.String()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("%w: chunk exists %s: %v", model.ErrMetadata, hash, err)
	}
	return n > 0, nil
}

// GetChunkPath returns the storage_path for hash.
func (s *Store) GetChunkPath(hash model.Hash) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var path string
	err := s.db.QueryRowContext(context.Background(),
		`SELECT storage_path FROM chunks WHERE hash=?`, hash.String()).Scan(&path)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: chunk %s", model.ErrNotFound, hash)
	}
	if err != nil {
		return "", fmt.Errorf("%w: get chunk path %s: %v", model.ErrMetadata, hash, err)
	}
	return path, nil
}

// GetChunkMeta returns the full ChunkRecord for hash.
func (s *Store) GetChunkMeta(hash model.Hash) (model.ChunkRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getChunkMetaLocked(hash)
}

func (s *Store) getChunkMetaLocked(hash model.Hash) (model.ChunkRecord, error) {
	var rec model.ChunkRecord
	var hashHex, compression string
	var encrypted int
	err := s.db.QueryRowContext(context.Background(), `
SELECT hash, storage_path, original_size, stored_size, compression, encrypted, ref_count
FROM chunks WHERE hash=?`, hash.String()).Scan(
		&hashHex, &rec.StoragePath, &rec.OriginalSize, &rec.StoredSize, &compression, &encrypted, &rec.RefCount)
	if err == sql.ErrNoRows {
		return model.ChunkRecord{}, fmt.Errorf("%w: chunk %s", model.ErrNotFound, hash)
	}
	if err != nil {
		return model.ChunkRecord{}, fmt.Errorf("%w: get chunk meta %s: %v", model.ErrMetadata, hash, err)
	}
	parsed, err := model.ParseHash(hashHex)
	if err != nil {
		return model.ChunkRecord{}, fmt.Errorf("%w: corrupt chunk hash %q: %v", model.ErrMetadata, hashHex, err)
	}
	rec.Hash = parsed
	rec.Compression = model.CompressionTag(compression)
	rec.Encrypted = encrypted != 0
	return rec, nil
}
