package mysql

const (
	queue = `CREATE TABLE IF NOT EXISTS queue (
	name VARCHAR(255) PRIMARY KEY,
	jobs LONGBLOB NOT NULL,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);`
)

var Schema = []string{queue}

const Upsert = `INSERT INTO queue (name, jobs, updated_at) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE jobs = VALUES(jobs), updated_at = VALUES(updated_at)`

// Claim inserts an empty placeholder row if none exists, so SelectForUpdate
// always has a row to lock. The no-op update must lock an existing row
// exclusively; a shared lock deadlocks two concurrent updaters.
const Claim = `INSERT INTO queue (name, jobs, updated_at) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE name = name`

const SelectForUpdate = `SELECT jobs FROM queue WHERE name = ? FOR UPDATE`
