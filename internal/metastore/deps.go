package metastore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mmp/ecpb/internal/model"
)

// AddDependency records that jobID depends on prerequisiteID. Cycle
// rejection happens one layer up in the scheduler (which holds the live
// DAG); this layer just persists whatever edge it's given, since the
// persisted dependency set mirrors the in-memory DAG the scheduler already
// validated.
func (s *Store) AddDependency(jobID, prerequisiteID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withWriteTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
INSERT OR IGNORE INTO dependencies (dependent_job_id, prerequisite_job_id) VALUES (?, ?)`,
			jobID, prerequisiteID)
		return err
	})
}

// GetDependencies returns the prerequisite job ids for jobID.
func (s *Store) GetDependencies(jobID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getDependenciesLocked(jobID)
}

func (s *Store) getDependenciesLocked(jobID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(context.Background(),
		`SELECT prerequisite_job_id FROM dependencies WHERE dependent_job_id=? ORDER BY prerequisite_job_id ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: get dependencies %d: %v", model.ErrMetadata, jobID, err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan dependency: %v", model.ErrMetadata, err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// GetDependents returns the job ids that directly depend on jobID, used by
// the scheduler's failure cascade.
func (s *Store) GetDependents(jobID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(context.Background(),
		`SELECT dependent_job_id FROM dependencies WHERE prerequisite_job_id=? ORDER BY dependent_job_id ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: get dependents %d: %v", model.ErrMetadata, jobID, err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan dependent: %v", model.ErrMetadata, err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
