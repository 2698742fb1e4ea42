// Package metastore is the durable, transactional metadata store: jobs,
// chunk records with reference counts, file manifests, per-job encryption
// keys and the dependency edge set, all backed by a single-file embedded
// relational database.
//
// Grounded on pudd's internal/store (database/sql over modernc.org/sqlite,
// WAL mode, busy-timeout PRAGMAs, a Transition-style conditional UPDATE, and
// MarkErrorWithBackoff's exponential-backoff retry loop), generalized from
// pudd's single "files" table to the six entities of the data model and
// from file-upload states to the backup job lifecycle.
//
// Concurrency discipline: every operation acquires a
// process-wide critical section before touching db. Go mutexes are not
// reentrant, so rather than fake recursion, composite operations (e.g.
// GetJob and GetFileManifests, which load each job's dependencies or each
// manifest's chunk references) take the lock once and call unexported
// *Locked helpers for the nested steps, instead of re-entering the
// exported API.
package metastore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/mmp/ecpb/internal/model"
)

// Store is a single handle onto the metadata database. After a re-exec, the
// child must not share a Store with the parent: it must call Open again on
// its own, so it never touches a handle owned by another process.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	log  zerolog.Logger
	path string
}

// Open creates (if needed) and opens the database at path, applying the
// schema and WAL/busy-timeout pragmas.
func Open(path string, log zerolog.Logger) (*Store, error) {
	// _txlock=immediate makes every BEGIN an immediate-mode write lock
	// acquisition, so writer contention fails fast rather
	// than silently upgrading a deferred transaction mid-flight.
	dsn := "file:" + path + "?_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", model.ErrMetadata, path, err)
	}
	// A single physical connection serializes access at the database/sql
	// pool level too, matching the single-handle-per-process model: no
	// concurrent use of the handle within one process.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, log: log, path: path}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: init schema: %v", model.ErrMetadata, err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

const (
	maxWriteRetries  = 10
	writeRetryBase   = 50 * time.Millisecond
)

// withWriteTx runs fn inside an immediate-mode write transaction, retrying
// with bounded linear backoff (50ms, 100ms, 150ms, ...) up to
// maxWriteRetries times when the writer collides with another writer. The
// caller must already hold s.mu.
func (s *Store) withWriteTx(fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxWriteRetries; attempt++ {
		tx, err := s.db.BeginTx(context.Background(), nil)
		if err != nil {
			if isBusy(err) {
				lastErr = err
				time.Sleep(writeRetryBase * time.Duration(attempt))
				continue
			}
			return fmt.Errorf("%w: begin tx: %v", model.ErrMetadata, err)
		}

		if err := fn(tx); err != nil {
			tx.Rollback()
			if isBusy(err) {
				lastErr = err
				time.Sleep(writeRetryBase * time.Duration(attempt))
				continue
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			if isBusy(err) {
				lastErr = err
				time.Sleep(writeRetryBase * time.Duration(attempt))
				continue
			}
			return fmt.Errorf("%w: commit: %v", model.ErrMetadata, err)
		}
		return nil
	}
	return fmt.Errorf("%w: write transaction exhausted %d retries: %v", model.ErrMetadata, maxWriteRetries, lastErr)
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "locked") || strings.Contains(msg, "busy")
}
