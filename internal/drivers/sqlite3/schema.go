package sqlite3

const (
	queue = `
CREATE TABLE IF NOT EXISTS queue (
	name TEXT PRIMARY KEY,
	jobs BLOB NOT NULL,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);`
)

var Schema = []string{queue}

// Pragmas run outside the schema transaction; journal mode cannot change
// inside one.
var Pragmas = []string{
	`PRAGMA journal_mode=WAL;`,
	`PRAGMA busy_timeout=5000;`,
}

const Upsert = `INSERT INTO queue (name, jobs, updated_at) VALUES (?, ?, ?) ON CONFLICT (name) DO UPDATE SET jobs = excluded.jobs, updated_at = excluded.updated_at`

// Claim is the first statement of an update transaction. Being a write, it
// takes the database write lock before anything is read, which makes the
// transaction behave like BEGIN IMMEDIATE.
const Claim = `INSERT INTO queue (name, jobs, updated_at) VALUES (?, ?, ?) ON CONFLICT (name) DO NOTHING`

// SelectForUpdate needs no locking clause; the write lock is already held.
const SelectForUpdate = `SELECT jobs FROM queue WHERE name = ?`
