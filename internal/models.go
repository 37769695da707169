package internal

import "time"

// Queue is one row of the queue table: the serialized job list of a domain.
type Queue struct {
	Name      string    `db:"name"`
	Jobs      []byte    `db:"jobs"`
	UpdatedAt time.Time `db:"updated_at"`
}
