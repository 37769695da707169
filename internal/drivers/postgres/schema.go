package postgres

const (
	queueTable = `CREATE TABLE IF NOT EXISTS queue (
	name TEXT PRIMARY KEY,
	jobs BYTEA NOT NULL,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);`
	queueUpdatedAtIndex = `CREATE INDEX IF NOT EXISTS queue_updated_at ON queue (updated_at ASC);`
)

var Schema = []string{queueTable, queueUpdatedAtIndex}

const Upsert = `INSERT INTO queue (name, jobs, updated_at) VALUES (?, ?, ?) ON CONFLICT (name) DO UPDATE SET jobs = excluded.jobs, updated_at = excluded.updated_at`

// Claim inserts an empty placeholder row if none exists, so SelectForUpdate
// always has a row to lock. A concurrent claim of the same name waits for the
// first transaction to finish.
const Claim = `INSERT INTO queue (name, jobs, updated_at) VALUES (?, ?, ?) ON CONFLICT (name) DO NOTHING`

const SelectForUpdate = `SELECT jobs FROM queue WHERE name = ? FOR UPDATE`
