package metastore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mmp/ecpb/internal/model"
)

// StoreFileManifest inserts a FileManifest header and all of its chunk
// references inside one transaction; partial failure rolls back rather than
// leaving a half-written manifest. Callers must have already written every
// chunk with StoreChunk before calling this, since the worker commits a
// manifest only after all of its chunk writes are recorded.
func (s *Store) StoreFileManifest(jobID int64, m model.FileManifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withWriteTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
INSERT INTO manifests (job_id, relative_path, file_name, file_size, modified_time_ms, whole_file_hash)
VALUES (?, ?, ?, ?, ?, ?)`,
			jobID, m.RelativePath, m.FileName, m.FileSize, m.ModifiedTimeMS, m.WholeFileHash.String())
		if err != nil {
			return err
		}
		manifestID, err := res.LastInsertId()
		if err != nil {
			return err
		}

		stmt, err := tx.Prepare(`
INSERT INTO chunk_refs (manifest_id, order_index, hash, offset, original_size, deduplicated)
VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, ref := range m.Chunks {
			if _, err := stmt.Exec(manifestID, ref.OrderIndex, ref.Hash.String(), ref.Offset,
				ref.OriginalSize, boolToInt(ref.Deduplicated)); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetFileManifests returns every manifest for jobID with its chunk
// references in ascending order_index.
func (s *Store) GetFileManifests(jobID int64) ([]model.FileManifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(context.Background(), `
SELECT id, relative_path, file_name, file_size, modified_time_ms, whole_file_hash
FROM manifests WHERE job_id=? ORDER BY id ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: get file manifests %d: %v", model.ErrMetadata, jobID, err)
	}

	type row struct {
		id int64
		m  model.FileManifest
	}
	var manifestRows []row
	for rows.Next() {
		var r row
		var wholeHashHex string
		if err := rows.Scan(&r.id, &r.m.RelativePath, &r.m.FileName, &r.m.FileSize, &r.m.ModifiedTimeMS, &wholeHashHex); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: scan manifest: %v", model.ErrMetadata, err)
		}
		hash, err := model.ParseHash(wholeHashHex)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: corrupt whole_file_hash %q: %v", model.ErrMetadata, wholeHashHex, err)
		}
		r.m.WholeFileHash = hash
		r.m.JobID = jobID
		manifestRows = append(manifestRows, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	out := make([]model.FileManifest, 0, len(manifestRows))
	for _, r := range manifestRows {
		refs, err := s.getChunkRefsLocked(r.id)
		if err != nil {
			return nil, err
		}
		r.m.Chunks = refs
		out = append(out, r.m)
	}
	return out, nil
}

func (s *Store) getChunkRefsLocked(manifestID int64) ([]model.ChunkRef, error) {
	rows, err := s.db.QueryContext(context.Background(), `
SELECT order_index, hash, offset, original_size, deduplicated
FROM chunk_refs WHERE manifest_id=? ORDER BY order_index ASC`, manifestID)
	if err != nil {
		return nil, fmt.Errorf("%w: get chunk refs %d: %v", model.ErrMetadata, manifestID, err)
	}
	defer rows.Close()

	var out []model.ChunkRef
	for rows.Next() {
		var ref model.ChunkRef
		var hashHex string
		var dedup int
		if err := rows.Scan(&ref.OrderIndex, &hashHex, &ref.Offset, &ref.OriginalSize, &dedup); err != nil {
			return nil, fmt.Errorf("%w: scan chunk ref: %v", model.ErrMetadata, err)
		}
		hash, err := model.ParseHash(hashHex)
		if err != nil {
			return nil, fmt.Errorf("%w: corrupt chunk ref hash %q: %v", model.ErrMetadata, hashHex, err)
		}
		ref.Hash = hash
		ref.Deduplicated = dedup != 0
		out = append(out, ref)
	}
	return out, rows.Err()
}
