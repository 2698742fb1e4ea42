package metastore

import (
	"context"
	"fmt"

	"github.com/mmp/ecpb/internal/model"
)

// GetStats aggregates counts across jobs and chunks for reporting. Beyond
// plain aggregated counts, the breakdown by compression
// tag and encrypted/plain chunk count mirrors mmp-bk's per-backend
// LogStats reporting.
func (s *Store) GetStats() (model.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	stats := model.Stats{
		JobsByStatus:  make(map[model.JobStatus]int64),
		ChunksByTag:   make(map[model.CompressionTag]int64),
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM jobs`).Scan(&stats.TotalJobs); err != nil {
		return stats, fmt.Errorf("%w: stats total jobs: %v", model.ErrMetadata, err)
	}

	statusRows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("%w: stats jobs by status: %v", model.ErrMetadata, err)
	}
	for statusRows.Next() {
		var status string
		var count int64
		if err := statusRows.Scan(&status, &count); err != nil {
			statusRows.Close()
			return stats, fmt.Errorf("%w: scan job status count: %v", model.ErrMetadata, err)
		}
		stats.JobsByStatus[model.JobStatus(status)] = count
	}
	if err := statusRows.Err(); err != nil {
		statusRows.Close()
		return stats, err
	}
	statusRows.Close()

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM chunks`).Scan(&stats.TotalChunks); err != nil {
		return stats, fmt.Errorf("%w: stats total chunks: %v", model.ErrMetadata, err)
	}

	tagRows, err := s.db.QueryContext(ctx, `SELECT compression, COUNT(1) FROM chunks GROUP BY compression`)
	if err != nil {
		return stats, fmt.Errorf("%w: stats chunks by tag: %v", model.ErrMetadata, err)
	}
	for tagRows.Next() {
		var tag string
		var count int64
		if err := tagRows.Scan(&tag, &count); err != nil {
			tagRows.Close()
			return stats, fmt.Errorf("%w: scan chunk tag count: %v", model.ErrMetadata, err)
		}
		stats.ChunksByTag[model.CompressionTag(tag)] = count
	}
	if err := tagRows.Err(); err != nil {
		tagRows.Close()
		return stats, err
	}
	tagRows.Close()

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM chunks WHERE encrypted=1`).Scan(&stats.EncryptedChunks); err != nil {
		return stats, fmt.Errorf("%w: stats encrypted chunks: %v", model.ErrMetadata, err)
	}
	stats.PlainChunks = stats.TotalChunks - stats.EncryptedChunks

	row := s.db.QueryRowContext(ctx, `
SELECT COALESCE(SUM(original_size), 0), COALESCE(SUM(stored_size), 0) FROM chunks`)
	if err := row.Scan(&stats.TotalOriginalBytes, &stats.TotalStoredBytes); err != nil {
		return stats, fmt.Errorf("%w: stats byte totals: %v", model.ErrMetadata, err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(dedup_savings), 0) FROM jobs`).Scan(&stats.TotalDedupSavings); err != nil {
		return stats, fmt.Errorf("%w: stats dedup savings: %v", model.ErrMetadata, err)
	}

	return stats, nil
}
