package metastore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mmp/ecpb/internal/model"
)

// CreateJob inserts a new job in PENDING status and returns its assigned id.
func (s *Store) CreateJob(j model.Job) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err := s.withWriteTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
INSERT INTO jobs (source_path, backup_name, status, priority, compression, encrypt, incremental, parent_job_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			j.SourcePath, j.BackupName, string(model.StatusPending), int(j.Priority),
			string(j.Compression), boolToInt(j.Encrypt), boolToInt(j.Incremental),
			j.ParentJobID, j.CreatedAt.UnixMilli())
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%w: create job: %v", model.ErrMetadata, err)
	}
	return id, nil
}

// UpdateJobStatus transitions a job's status, stamping started_at on
// RUNNING and completed_at + error_message on COMPLETED/FAILED/CANCELLED.
func (s *Store) UpdateJobStatus(jobID int64, status model.JobStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withWriteTx(func(tx *sql.Tx) error {
		now := nowMillis()
		switch status {
		case model.StatusRunning:
			_, err := tx.Exec(`UPDATE jobs SET status=?, started_at=? WHERE id=?`, string(status), now, jobID)
			return err
		case model.StatusCompleted, model.StatusFailed, model.StatusCancelled:
			_, err := tx.Exec(`UPDATE jobs SET status=?, completed_at=?, error_message=? WHERE id=?`,
				string(status), now, errMsg, jobID)
			return err
		default:
			_, err := tx.Exec(`UPDATE jobs SET status=? WHERE id=?`, string(status), jobID)
			return err
		}
	})
}

// UpdateJobStats persists the aggregate byte/file counters for a job.
func (s *Store) UpdateJobStats(jobID int64, totalBytes, processedBytes, storedBytes, dedupSavings, fileCount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withWriteTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
UPDATE jobs SET total_bytes=?, processed_bytes=?, stored_bytes=?, dedup_savings=?, file_count=?
WHERE id=?`, totalBytes, processedBytes, storedBytes, dedupSavings, fileCount, jobID)
		return err
	})
}

// GetJob fetches a single job by id.
func (s *Store) GetJob(jobID int64) (model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getJobLocked(jobID)
}

func (s *Store) getJobLocked(jobID int64) (model.Job, error) {
	row := s.db.QueryRowContext(context.Background(), jobsSelectColumns+` WHERE id=?`, jobID)
	j, err := scanJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Job{}, fmt.Errorf("%w: job %d", model.ErrNotFound, jobID)
		}
		return model.Job{}, fmt.Errorf("%w: get job %d: %v", model.ErrMetadata, jobID, err)
	}
	j.Dependencies, err = s.getDependenciesLocked(jobID)
	if err != nil {
		return model.Job{}, err
	}
	return j, nil
}

// GetAllJobs returns every job, oldest first.
func (s *Store) GetAllJobs() ([]model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryJobsLocked(jobsSelectColumns + ` ORDER BY id ASC`)
}

// GetJobsByStatus returns every job with the given status, oldest first.
func (s *Store) GetJobsByStatus(status model.JobStatus) ([]model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryJobsLocked(jobsSelectColumns+` WHERE status=? ORDER BY id ASC`, string(status))
}

func (s *Store) queryJobsLocked(query string, args ...any) ([]model.Job, error) {
	rows, err := s.db.QueryContext(context.Background(), query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query jobs: %v", model.ErrMetadata, err)
	}
	defer rows.Close()

	var out []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan job: %v", model.ErrMetadata, err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Release the single pooled connection before the per-job dependency
	// queries, which need it.
	rows.Close()

	for i := range out {
		deps, err := s.getDependenciesLocked(out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Dependencies = deps
	}
	return out, nil
}

const jobsSelectColumns = `
SELECT id, source_path, backup_name, status, priority, compression, encrypt, incremental,
       parent_job_id, created_at, started_at, completed_at,
       total_bytes, processed_bytes, stored_bytes, dedup_savings, file_count, error_message
FROM jobs`

// rowScanner abstracts over *sql.Row and *sql.Rows for scanJob.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (model.Job, error) {
	var j model.Job
	var status, compression string
	var encrypt, incremental int
	var startedAt, completedAt sql.NullInt64
	var createdAt int64

	err := row.Scan(&j.ID, &j.SourcePath, &j.BackupName, &status, &j.Priority, &compression,
		&encrypt, &incremental, &j.ParentJobID, &createdAt, &startedAt, &completedAt,
		&j.TotalBytes, &j.ProcessedBytes, &j.StoredBytes, &j.DedupSavings, &j.FileCount, &j.ErrorMessage)
	if err != nil {
		return model.Job{}, err
	}

	j.Status = model.JobStatus(status)
	j.Compression = model.CompressionTag(compression)
	j.Encrypt = encrypt != 0
	j.Incremental = incremental != 0
	j.CreatedAt = millisToTime(createdAt)
	if startedAt.Valid {
		t := millisToTime(startedAt.Int64)
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := millisToTime(completedAt.Int64)
		j.CompletedAt = &t
	}
	return j, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
