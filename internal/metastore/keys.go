package metastore

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/mmp/ecpb/internal/model"
)

// StoreEncryptionKey persists a job's per-job AES-256 key as 64 lowercase
// hex characters.
func (s *Store) StoreEncryptionKey(jobID int64, key [32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withWriteTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
INSERT INTO job_keys (job_id, key_hex) VALUES (?, ?)
ON CONFLICT(job_id) DO UPDATE SET key_hex=excluded.key_hex`, jobID, hex.EncodeToString(key[:]))
		return err
	})
}

// GetEncryptionKey fetches the per-job key for jobID.
func (s *Store) GetEncryptionKey(jobID int64) ([32]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var key [32]byte
	var keyHex string
	err := s.db.QueryRowContext(context.Background(),
		`SELECT key_hex FROM job_keys WHERE job_id=?`, jobID).Scan(&keyHex)
	if err == sql.ErrNoRows {
		return key, fmt.Errorf("%w: encryption key for job %d", model.ErrNotFound, jobID)
	}
	if err != nil {
		return key, fmt.Errorf("%w: get encryption key %d: %v", model.ErrMetadata, jobID, err)
	}
	decoded, err := hex.DecodeString(keyHex)
	if err != nil || len(decoded) != 32 {
		return key, fmt.Errorf("%w: corrupt key for job %d", model.ErrMetadata, jobID)
	}
	copy(key[:], decoded)
	return key, nil
}
