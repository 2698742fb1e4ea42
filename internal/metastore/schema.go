package metastore

import "database/sql"

// schemaStatements mirrors pudd's store.Init: WAL mode, a bounded busy
// timeout and foreign keys turned on, then CREATE TABLE IF NOT EXISTS for
// every entity in the data model.
var schemaStatements = []string{
	`PRAGMA journal_mode=WAL;`,
	`PRAGMA busy_timeout=5000;`,
	`PRAGMA foreign_keys=ON;`,
	`
CREATE TABLE IF NOT EXISTS jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_path TEXT NOT NULL,
	backup_name TEXT NOT NULL,
	status TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 1,
	compression TEXT NOT NULL DEFAULT 'NONE',
	encrypt INTEGER NOT NULL DEFAULT 0,
	incremental INTEGER NOT NULL DEFAULT 0,
	parent_job_id INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	started_at INTEGER,
	completed_at INTEGER,
	total_bytes INTEGER NOT NULL DEFAULT 0,
	processed_bytes INTEGER NOT NULL DEFAULT 0,
	stored_bytes INTEGER NOT NULL DEFAULT 0,
	dedup_savings INTEGER NOT NULL DEFAULT 0,
	file_count INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT ''
);
`,
	`
CREATE TABLE IF NOT EXISTS chunks (
	hash TEXT PRIMARY KEY,
	storage_path TEXT NOT NULL,
	original_size INTEGER NOT NULL,
	stored_size INTEGER NOT NULL,
	compression TEXT NOT NULL DEFAULT 'NONE',
	encrypted INTEGER NOT NULL DEFAULT 0,
	ref_count INTEGER NOT NULL DEFAULT 0
);
`,
	`
CREATE TABLE IF NOT EXISTS manifests (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id INTEGER NOT NULL,
	relative_path TEXT NOT NULL,
	file_name TEXT NOT NULL,
	file_size INTEGER NOT NULL,
	modified_time_ms INTEGER NOT NULL,
	whole_file_hash TEXT NOT NULL,
	UNIQUE(job_id, relative_path)
);
`,
	`
CREATE TABLE IF NOT EXISTS chunk_refs (
	manifest_id INTEGER NOT NULL,
	order_index INTEGER NOT NULL,
	hash TEXT NOT NULL,
	offset INTEGER NOT NULL,
	original_size INTEGER NOT NULL,
	deduplicated INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (manifest_id, order_index)
);
`,
	`
CREATE TABLE IF NOT EXISTS job_keys (
	job_id INTEGER PRIMARY KEY,
	key_hex TEXT NOT NULL
);
`,
	`
CREATE TABLE IF NOT EXISTS dependencies (
	dependent_job_id INTEGER NOT NULL,
	prerequisite_job_id INTEGER NOT NULL,
	PRIMARY KEY (dependent_job_id, prerequisite_job_id)
);
`,
}

func initSchema(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
